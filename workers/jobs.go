package workers

import (
	"context"
	"log"
	"time"

	"turnsync/config"
	"turnsync/services"
)

// JobWorker runs the downstream job passes on their own cadence, after
// the main sync: creating jobs for records that became ready, then the
// unlinked-job reconciliation pass.
type JobWorker struct {
	cfg       *config.Config
	store     services.RecordStore
	jobs      *services.JobService
	triggerCh chan struct{}
}

func NewJobWorker(cfg *config.Config, store services.RecordStore, jobs *services.JobService) *JobWorker {
	return &JobWorker{
		cfg:       cfg,
		store:     store,
		jobs:      jobs,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger causes the worker to run immediately.
func (w *JobWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run loops until the context ends, executing one pass per interval or
// trigger.
func (w *JobWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.pass(ctx)
		case <-w.triggerCh:
			w.pass(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *JobWorker) pass(ctx context.Context) {
	rc := services.NewRunContext(w.cfg, time.Now())

	created, errs := w.jobs.CreateMissing(ctx, rc)
	for _, err := range errs {
		log.Printf("Job worker: create: %v", err)
	}

	matched, ambiguous := 0, 0
	for propertyID := range w.cfg.Properties {
		summary, err := w.jobs.MatchUnlinked(ctx, rc, propertyID)
		if err != nil {
			log.Printf("Job worker: match at %s: %v", propertyID, err)
			continue
		}
		matched += summary.Matched
		ambiguous += len(summary.Ambiguous)
	}

	if created+matched+ambiguous > 0 {
		log.Printf("Job worker: %d created, %d attached, %d ambiguous", created, matched, ambiguous)
	}
}
