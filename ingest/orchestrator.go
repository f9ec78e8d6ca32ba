package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"turnsync/config"
	"turnsync/models"
	"turnsync/services"
	"turnsync/storage"
)

// Orchestrator drives a full sync run: every configured source is
// fetched and reconciled (concurrently, bounded), derived facts are
// recomputed for the properties that changed, and a run summary is
// persisted. Writes for records sharing a property are serialized
// through the run context's per-property locks.
type Orchestrator struct {
	cfg      *config.Config
	ops      *storage.SQLiteStore
	adapters map[string]Adapter

	mu     sync.Mutex
	paused bool

	reconcile *services.ReconcileService
	derive    *services.DeriveService
	jobs      *services.JobService
	archiver  *storage.BatchArchiver
}

func NewOrchestrator(cfg *config.Config, ops *storage.SQLiteStore) (*Orchestrator, error) {
	adapters := make(map[string]Adapter)
	for id, srcCfg := range cfg.Ingest.Sources {
		adapter, err := NewAdapter(srcCfg)
		if err != nil {
			return nil, err
		}
		adapters[id] = adapter
	}

	return &Orchestrator{
		cfg:      cfg,
		ops:      ops,
		adapters: adapters,
	}, nil
}

// SetServices injects the reconciliation services.
func (o *Orchestrator) SetServices(reconcile *services.ReconcileService, derive *services.DeriveService, jobs *services.JobService) {
	o.reconcile = reconcile
	o.derive = derive
	o.jobs = jobs
}

// SetArchiver enables raw batch archival.
func (o *Orchestrator) SetArchiver(archiver *storage.BatchArchiver) {
	o.archiver = archiver
}

// Pause stops scheduled runs until Resume.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
}

func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// RunAll executes one full sync run across all configured sources.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.isPaused() {
		log.Println("Sync is paused, skipping run")
		return nil
	}

	rc := services.NewRunContext(o.cfg, time.Now())

	var (
		summaryMu sync.Mutex
		total     models.RunSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Ingest.Concurrency)

	for id := range o.adapters {
		id := id
		g.Go(func() error {
			summary, err := o.RunSource(gctx, rc, id)
			if summary != nil {
				summaryMu.Lock()
				total.Add(*summary)
				summaryMu.Unlock()
			}
			if err != nil {
				// One broken source never takes down the other feeds.
				log.Printf("Source %s failed: %v", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Derivation pass: everything that changed, per property, serialized.
	for _, propertyID := range rc.TouchedProperties() {
		lock := rc.PropertyLock(propertyID)
		lock.Lock()
		errs := o.derive.RecomputeProperty(ctx, rc, propertyID)
		lock.Unlock()
		for _, err := range errs {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				log.Printf("Derivation skipped at %s: %v", propertyID, err)
			} else {
				log.Printf("Derivation error at %s: %v", propertyID, err)
				total.Errors++
			}
		}
	}

	// Job creation for records that became ready this run.
	created, errs := o.jobs.CreateMissing(ctx, rc)
	for _, err := range errs {
		log.Printf("Job creation: %v", err)
		total.Errors++
	}

	log.Printf("Run complete: %d events, %d created, %d modified, %d unchanged, %d removed, %d conflicts, %d errors, %d jobs created",
		total.EventsSeen, total.Created, total.Modified, total.Unchanged,
		total.Removed, total.Conflicts, total.Errors, created)
	return nil
}

// RunSource ingests one source's batch end to end.
func (o *Orchestrator) RunSource(ctx context.Context, rc *services.RunContext, sourceID string) (*models.RunSummary, error) {
	adapter, ok := o.adapters[sourceID]
	if !ok {
		return nil, fmt.Errorf("unknown source: %s", sourceID)
	}

	run := &models.SyncRun{
		Source:    sourceID,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	runID, err := o.ops.CreateRun(run)
	if err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}
	run.ID = runID

	summary := &models.RunSummary{}
	defer func() {
		now := time.Now()
		run.FinishedAt = &now
		run.EventsSeen = summary.EventsSeen
		run.Created = summary.Created
		run.Modified = summary.Modified
		run.Removed = summary.Removed
		run.Conflicts = summary.Conflicts
		run.ErrorsCount = summary.Errors
		if err := o.ops.UpdateRun(run); err != nil {
			log.Printf("Warning: update run %d: %v", run.ID, err)
		}
	}()

	o.log(&run.ID, models.LogLevelInfo, sourceID, "Fetching batch")

	batch, raw, err := adapter.Fetch(ctx)
	if err != nil {
		run.Status = models.RunStatusFailed
		run.ErrorMessage = err.Error()
		o.log(&run.ID, models.LogLevelError, sourceID, fmt.Sprintf("Fetch failed: %v", err))
		return summary, err
	}

	if o.archiver != nil && len(raw) > 0 {
		if key, err := o.archiver.Archive(ctx, sourceID, batch.FetchedAt, "application/octet-stream", raw); err != nil {
			o.log(&run.ID, models.LogLevelWarn, sourceID, fmt.Sprintf("Archive failed: %v", err))
		} else {
			o.log(&run.ID, models.LogLevelDebug, sourceID, "Archived batch as "+key)
		}
	}

	o.log(&run.ID, models.LogLevelInfo, sourceID, fmt.Sprintf("Batch: %d events", len(batch.Events)))

	o.processBatch(ctx, rc, run, batch, summary)

	removed, err := o.reconcile.SweepRemovals(ctx, rc, batch)
	if err != nil {
		o.log(&run.ID, models.LogLevelError, sourceID, fmt.Sprintf("Removal sweep: %v", err))
		summary.Errors++
	}
	summary.Removed += removed

	run.Status = models.RunStatusCompleted
	o.log(&run.ID, models.LogLevelInfo, sourceID, "Completed: "+string(summary.ToJSON()))
	return summary, nil
}

// processBatch reconciles a batch's events grouped by property, holding
// each property's lock while its events apply in feed order.
func (o *Orchestrator) processBatch(ctx context.Context, rc *services.RunContext, run *models.SyncRun, batch *models.EventBatch, summary *models.RunSummary) {
	byProperty := make(map[string][]models.SourceEvent)
	order := []string{}
	for _, ev := range batch.Events {
		if _, seen := byProperty[ev.PropertyID]; !seen {
			order = append(order, ev.PropertyID)
		}
		byProperty[ev.PropertyID] = append(byProperty[ev.PropertyID], ev)
	}

	for _, propertyID := range order {
		lock := rc.PropertyLock(propertyID)
		lock.Lock()
		for i := range byProperty[propertyID] {
			ev := byProperty[propertyID][i]
			summary.EventsSeen++

			outcome, err := o.reconcile.ProcessEvent(ctx, rc, &ev)
			if err != nil {
				o.classifyError(run, batch, &ev, err, summary)
				continue
			}
			switch outcome.Kind {
			case models.MatchNone:
				summary.Created++
			case models.MatchChanged, models.MatchProximity:
				summary.Modified++
			case models.MatchUnchanged:
				summary.Unchanged++
			case models.MatchConflict:
				summary.Conflicts++
			}
		}
		lock.Unlock()
	}
}

func (o *Orchestrator) classifyError(run *models.SyncRun, batch *models.EventBatch, ev *models.SourceEvent, err error, summary *models.RunSummary) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		o.log(&run.ID, models.LogLevelWarn, string(batch.Source),
			fmt.Sprintf("Skipped %s/%s: %v", ev.PropertyID, ev.Token, err))
		summary.Errors++
		return
	}
	var cerr *models.IdentityConflictError
	if errors.As(err, &cerr) {
		// Equal authority on both sides; the review row is already
		// queued, so this is a conflict for the summary, not a failure.
		o.log(&run.ID, models.LogLevelWarn, string(batch.Source),
			fmt.Sprintf("Unresolved overlap %s/%s: %v", ev.PropertyID, ev.Token, err))
		summary.Conflicts++
		return
	}
	o.log(&run.ID, models.LogLevelError, string(batch.Source),
		fmt.Sprintf("Process %s/%s: %v", ev.PropertyID, ev.Token, err))
	summary.Errors++
}

// RunJobMatch runs the unlinked-job reconciliation pass across all
// configured properties. Distinct from the main sync; runs after it.
func (o *Orchestrator) RunJobMatch(ctx context.Context) error {
	rc := services.NewRunContext(o.cfg, time.Now())

	matched, ambiguous := 0, 0
	for propertyID := range o.cfg.Properties {
		summary, err := o.jobs.MatchUnlinked(ctx, rc, propertyID)
		if err != nil {
			log.Printf("Job match at %s: %v", propertyID, err)
			continue
		}
		matched += summary.Matched
		ambiguous += len(summary.Ambiguous)
	}
	log.Printf("Job match complete: %d attached, %d ambiguous", matched, ambiguous)
	return nil
}

// HandleCommand processes operator commands from the queue.
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdSyncNow:
		return o.RunAll(ctx)
	case models.CmdSyncSource:
		var params models.CommandParams
		if err := unmarshalParams(cmd.Params, &params); err != nil {
			return err
		}
		rc := services.NewRunContext(o.cfg, time.Now())
		_, err := o.RunSource(ctx, rc, params.Source)
		return err
	case models.CmdMatchJobs:
		return o.RunJobMatch(ctx)
	case models.CmdPause:
		o.Pause()
		return nil
	case models.CmdResume:
		o.Resume()
		return nil
	}
	return fmt.Errorf("unknown command: %s", cmd.Command)
}

func (o *Orchestrator) log(runID *int64, level models.LogLevel, source, message string) {
	log.Printf("[%s] %s", source, message)
	if err := o.ops.AppendLog(runID, level, source, message); err != nil {
		log.Printf("Warning: append run log: %v", err)
	}
}

func unmarshalParams(data []byte, v *models.CommandParams) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
