package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"turnsync/models"
)

// RecordStore is the minimal surface the reconciliation engine needs from
// the hosted record store. storage.PostgresStore implements it; tests use
// an in-memory fake. Reads are assumed read-your-writes within a run.
type RecordStore interface {
	// ActiveByIdentityKey returns the single active (New/Modified) record
	// for a key, or nil when none exists.
	ActiveByIdentityKey(ctx context.Context, key string) (*models.ReservationRecord, error)

	// LatestByIdentityKey returns the most recently created record for a
	// key in any status, or nil when the key has never been written.
	// Conflict resolution uses it to recognize a loser it already
	// recorded instead of inserting the same loser again every run.
	LatestByIdentityKey(ctx context.Context, key string) (*models.ReservationRecord, error)

	// ActiveForProperty returns all active records at a property ordered
	// by check-in date ascending. The sorted order is part of the
	// contract: derivation walks it to find next occupants.
	ActiveForProperty(ctx context.Context, propertyID string) ([]*models.ReservationRecord, error)

	// ActiveForSource returns all active records a source is responsible
	// for, across properties. Feeds the removal sweep.
	ActiveForSource(ctx context.Context, source models.Source) ([]*models.ReservationRecord, error)

	// Transition atomically applies one identity's lifecycle step:
	// demote (may be nil) is written with its new status, create (may be
	// nil) is inserted, and history rows land in the same transaction.
	// Partial application is never visible.
	Transition(ctx context.Context, demote, create *models.ReservationRecord, history []*models.HistoryEntry) error

	// UpdateDerived persists recomputed derived flags and schedule fields
	// for a record without touching its lifecycle columns.
	UpdateDerived(ctx context.Context, rec *models.ReservationRecord) error

	// TouchLastSeen bumps last_seen for an unchanged record.
	TouchLastSeen(ctx context.Context, id uuid.UUID, t time.Time) error

	// SetExternalJobRef links a record to its downstream job.
	SetExternalJobRef(ctx context.Context, id uuid.UUID, ref string) error

	// AppendHistory appends one audit row outside a transition.
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error

	// InsertConflict records a pending-review conflict row.
	InsertConflict(ctx context.Context, c *models.RecordConflict) error

	// ActiveMissingJobRef returns active records with a scheduled service
	// time but no downstream job yet.
	ActiveMissingJobRef(ctx context.Context) ([]*models.ReservationRecord, error)
}

// JobSystem is the minimal surface of the external field-service system.
type JobSystem interface {
	CreateJob(ctx context.Context, req *models.JobRequest) (string, error)
	ListUnlinkedJobs(ctx context.Context, propertyID string, from, to time.Time) ([]models.Job, error)
}
