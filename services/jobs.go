package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"turnsync/models"
)

// JobService pushes ready records into the external job system and runs
// the unlinked-job reconciliation pass.
type JobService struct {
	store  RecordStore
	system JobSystem
}

func NewJobService(store RecordStore, system JobSystem) *JobService {
	return &JobService{store: store, system: system}
}

// CreateMissing creates a downstream job for every active record with a
// resolved schedule and no job linkage yet. Records already holding a
// ref are never touched, which keeps repeated runs from duplicating
// jobs.
func (s *JobService) CreateMissing(ctx context.Context, rc *RunContext) (int, []error) {
	records, err := s.store.ActiveMissingJobRef(ctx)
	if err != nil {
		return 0, []error{fmt.Errorf("load pending records: %w", err)}
	}

	created := 0
	var errs []error
	for _, rec := range records {
		if rec.ScheduledServiceTime == nil {
			continue
		}
		ref, err := s.system.CreateJob(ctx, &models.JobRequest{
			PropertyID:  rec.PropertyID,
			ServiceType: rec.ServiceType,
			ScheduledAt: *rec.ScheduledServiceTime,
			Description: rec.ServiceDescription,
			IdentityKey: rec.IdentityKey,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("create job for %s: %w", rec.IdentityKey, err))
			continue
		}
		if err := s.store.SetExternalJobRef(ctx, rec.ID, ref); err != nil {
			errs = append(errs, &models.PersistenceError{IdentityKey: rec.IdentityKey, Err: err})
			continue
		}
		created++
	}
	return created, errs
}

// MatchResult of one unlinked-job pass.
type JobMatchSummary struct {
	Examined  int
	Matched   int
	Ambiguous []models.AmbiguousJob
}

// MatchUnlinked attaches externally-created jobs that lack a record
// back-reference, by property plus schedule-time proximity. A job with
// two equally close candidates is surfaced as ambiguous, not guessed at.
// The pass is one-directional and idempotent: records that already hold
// a ref are never candidates.
func (s *JobService) MatchUnlinked(ctx context.Context, rc *RunContext, propertyID string) (*JobMatchSummary, error) {
	window := rc.Cfg.Reconcile.JobMatchWindow
	from := rc.Now.Add(-30 * 24 * time.Hour)
	to := rc.Now.Add(90 * 24 * time.Hour)

	jobs, err := s.system.ListUnlinkedJobs(ctx, propertyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list unlinked jobs for %s: %w", propertyID, err)
	}

	records, err := s.store.ActiveForProperty(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("load active for %s: %w", propertyID, err)
	}

	summary := &JobMatchSummary{}
	for _, job := range jobs {
		if job.RecordLinked {
			continue
		}
		summary.Examined++

		best, tied := closestRecords(records, job.ScheduledAt, window)
		if best == nil {
			continue
		}
		if len(tied) > 1 {
			keys := make([]string, 0, len(tied))
			for _, r := range tied {
				keys = append(keys, r.IdentityKey)
			}
			summary.Ambiguous = append(summary.Ambiguous, models.AmbiguousJob{Job: job, Candidates: keys})
			log.Printf("Job %s at %s ambiguous between %d records, left for manual resolution", job.Ref, propertyID, len(tied))
			continue
		}

		if err := s.store.SetExternalJobRef(ctx, best.ID, job.Ref); err != nil {
			return summary, &models.PersistenceError{IdentityKey: best.IdentityKey, Err: err}
		}
		if err := s.store.AppendHistory(ctx, &models.HistoryEntry{
			IdentityKey: best.IdentityKey,
			RecordID:    &best.ID,
			Source:      best.Source,
			Action:      models.HistoryRelinked,
			Detail:      fmt.Sprintf("attached unlinked job %s", job.Ref),
			CreatedAt:   rc.Now,
		}); err != nil {
			log.Printf("Warning: append relink history for %s: %v", best.IdentityKey, err)
		}
		best.ExternalJobRef = &job.Ref
		summary.Matched++
	}
	return summary, nil
}

// closestRecords returns the nearest eligible record to a job's schedule
// time within the tolerance window, plus every record tied at that same
// distance.
func closestRecords(records []*models.ReservationRecord, at time.Time, window time.Duration) (*models.ReservationRecord, []*models.ReservationRecord) {
	var best *models.ReservationRecord
	var bestDist time.Duration
	var tied []*models.ReservationRecord

	for _, rec := range records {
		if rec.ExternalJobRef != nil || rec.ScheduledServiceTime == nil {
			continue
		}
		dist := rec.ScheduledServiceTime.Sub(at)
		if dist < 0 {
			dist = -dist
		}
		if dist > window {
			continue
		}
		switch {
		case best == nil || dist < bestDist:
			best = rec
			bestDist = dist
			tied = []*models.ReservationRecord{rec}
		case dist == bestDist:
			tied = append(tied, rec)
		}
	}
	return best, tied
}
