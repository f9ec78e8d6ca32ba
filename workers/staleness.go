package workers

import (
	"context"
	"log"
	"time"

	"turnsync/config"
	"turnsync/storage"
)

// StalenessWorker watches source feed health: a source that has not
// completed a run for longer than the threshold gets a loud log line.
// Stale feeds are the leading cause of phantom removals and missed
// bookings, and operators want to know before guests do.
type StalenessWorker struct {
	cfg       *config.Config
	ops       *storage.SQLiteStore
	threshold time.Duration
	triggerCh chan struct{}
}

func NewStalenessWorker(cfg *config.Config, ops *storage.SQLiteStore, threshold time.Duration) *StalenessWorker {
	return &StalenessWorker{
		cfg:       cfg,
		ops:       ops,
		threshold: threshold,
		triggerCh: make(chan struct{}, 1),
	}
}

func (w *StalenessWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *StalenessWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.check()
		case <-w.triggerCh:
			w.check()
		case <-ctx.Done():
			return
		}
	}
}

func (w *StalenessWorker) check() {
	for id := range w.cfg.Ingest.Sources {
		last, err := w.ops.GetLastRunTime(id)
		if err != nil {
			log.Printf("Staleness check for %s: %v", id, err)
			continue
		}
		if last.IsZero() {
			continue
		}
		if age := time.Since(last); age > w.threshold {
			log.Printf("STALE SOURCE %s: last run %s ago (threshold %s)", id, age.Round(time.Minute), w.threshold)
		}
	}
}
