package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turnsync/config"
	"turnsync/ingest"
	"turnsync/jobapi"
	"turnsync/logging"
	"turnsync/models"
	"turnsync/scheduler"
	"turnsync/services"
	"turnsync/storage"
	"turnsync/workers"
)

var (
	syncNow    = flag.Bool("sync", false, "Run one sync pass and exit")
	matchJobs  = flag.Bool("match-jobs", false, "Run the unlinked-job matcher once and exit")
	enqueueCmd = flag.String("enqueue", "", "Queue a command (sync_now, sync_source, match_jobs, pause, resume) for a running daemon and exit")
	cmdSource  = flag.String("source", "", "Source id for -enqueue sync_source")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("turnsync.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting turnsync...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Loaded %d source configs, %d property configs", len(cfg.Ingest.Sources), len(cfg.Properties))
	for id, src := range cfg.Ingest.Sources {
		log.Printf("  - %s (%s, %s)", id, src.Kind, src.Source)
	}

	if *enqueueCmd != "" {
		if err := enqueueCommand(cfg, *enqueueCmd, *cmdSource); err != nil {
			log.Fatalf("Enqueue failed: %v", err)
		}
		log.Printf("Queued %s for the running daemon", *enqueueCmd)
		return
	}

	ctx := context.Background()

	store, err := storage.NewPostgresStore(ctx, cfg.Store.DBURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer store.Close()
	log.Printf("Connected to record store: %s", maskConnectionString(cfg.Store.DBURL))

	ops, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer ops.Close()
	log.Printf("Ops database: %s", cfg.DBPath)

	jobClient := jobapi.NewClient(&cfg.JobSystem)

	matchService := services.NewMatchService(store)
	reconcileService := services.NewReconcileService(store, matchService)
	deriveService := services.NewDeriveService(store, services.NewScheduleResolver())
	jobService := services.NewJobService(store, jobClient)

	log.Println("Services initialized")

	orchestrator, err := ingest.NewOrchestrator(cfg, ops)
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}
	orchestrator.SetServices(reconcileService, deriveService, jobService)

	if cfg.Archive.Enabled {
		archiver, err := storage.NewBatchArchiver(ctx, storage.ArchiveConfig{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			log.Printf("Warning: batch archival disabled: %v", err)
		} else {
			orchestrator.SetArchiver(archiver)
			log.Printf("Batch archival to bucket %s", cfg.Archive.Bucket)
		}
	}

	// One-shot commands
	if *syncNow {
		log.Println("Running sync...")
		if err := orchestrator.RunAll(ctx); err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		log.Println("Sync complete!")
		return
	}
	if *matchJobs {
		log.Println("Running job match...")
		if err := orchestrator.RunJobMatch(ctx); err != nil {
			log.Fatalf("Job match failed: %v", err)
		}
		log.Println("Job match complete!")
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg, orchestrator, ops)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	if cfg.Scheduler.RunOnStart {
		go func() {
			log.Println("Running initial sync (SYNC_ON_START)")
			if err := sched.TriggerNow(ctx); err != nil {
				log.Printf("Initial sync failed: %v", err)
			}
		}()
	}

	jobWorker := workers.NewJobWorker(cfg, store, jobService)
	go jobWorker.Run(ctx, 10*time.Minute)
	sched.SetWorkers(jobWorker)
	log.Println("Job worker started")

	stalenessWorker := workers.NewStalenessWorker(cfg, ops, 12*time.Hour)
	go stalenessWorker.Run(ctx, 30*time.Minute)
	log.Println("Staleness worker started")

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

// enqueueCommand writes an operator command into the ops database's
// queue, where the daemon's poll loop picks it up within seconds.
func enqueueCommand(cfg *config.Config, command, source string) error {
	cmdType := models.CommandType(command)
	switch cmdType {
	case models.CmdSyncNow, models.CmdMatchJobs, models.CmdPause, models.CmdResume:
		if source != "" {
			return fmt.Errorf("%s takes no -source", command)
		}
	case models.CmdSyncSource:
		if source == "" {
			return fmt.Errorf("sync_source needs -source")
		}
	default:
		return fmt.Errorf("unknown command: %s", command)
	}

	ops, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open ops database: %w", err)
	}
	defer ops.Close()

	var params json.RawMessage
	if source != "" {
		params, err = json.Marshal(models.CommandParams{Source: source})
		if err != nil {
			return err
		}
	}
	return ops.EnqueueCommand(cmdType, params)
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
