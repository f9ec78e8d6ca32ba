package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Source identifies which upstream feed produced an event or record.
type Source string

const (
	SourceManual      Source = "manual"       // human override entries
	SourcePortal      Source = "portal"       // scraped portal export
	SourceDirectA     Source = "direct_a"     // guest-booking CSV export
	SourceDirectB     Source = "direct_b"     // secondary booking feed
	SourceCalendar    Source = "calendar"     // ICS calendar feed
	SourceSynthesized Source = "synthesized"  // placeholder records with no real source
)

// DefaultSourcePriority ranks source authority for conflict tie-breaks.
// Higher wins. Loaded into the RunContext at run start; config may override.
var DefaultSourcePriority = map[Source]int{
	SourceManual:      100,
	SourcePortal:      80,
	SourceDirectA:     60,
	SourceDirectB:     50,
	SourceCalendar:    40,
	SourceSynthesized: 10,
}

// EntryType distinguishes guest reservations from owner/maintenance blocks.
type EntryType string

const (
	EntryReservation EntryType = "reservation"
	EntryBlock       EntryType = "block"
)

// RecordStatus is the reconciliation lifecycle state.
type RecordStatus string

const (
	StatusNew      RecordStatus = "new"
	StatusModified RecordStatus = "modified"
	StatusOld      RecordStatus = "old"
	StatusRemoved  RecordStatus = "removed"
)

// Active reports whether a status counts as the live record for its
// identity key. At most one record per identity_key may be active.
func (s RecordStatus) Active() bool {
	return s == StatusNew || s == StatusModified
}

// ServiceType is the kind of field-service job a record produces.
type ServiceType string

const (
	ServiceTurnover      ServiceType = "turnover"
	ServiceInspection    ServiceType = "inspection"
	ServiceReturnLaundry ServiceType = "return_laundry"
)

// DefaultServiceType maps an entry type to the job it produces when the
// source supplies none: guest stays need a turnover clean, blocks an
// inspection.
func DefaultServiceType(t EntryType) ServiceType {
	if t == EntryBlock {
		return ServiceInspection
	}
	return ServiceTurnover
}

// ReservationRecord is the unit of reconciliation. The reconciliation
// engine is the sole writer of Status, IdentityKey and the derived flags;
// ingestion adapters only supply raw source fields.
type ReservationRecord struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	PropertyID  string       `json:"property_id" db:"property_id"`
	IdentityKey string       `json:"identity_key" db:"identity_key"`
	Source      Source       `json:"source" db:"source"`
	EntryType   EntryType    `json:"entry_type" db:"entry_type"`
	Status      RecordStatus `json:"status" db:"status"`
	SourceToken string       `json:"source_token" db:"source_token"`
	GuestName   string       `json:"guest_name" db:"guest_name"`

	// Naive property-local dates, stored at midnight UTC.
	CheckIn  time.Time  `json:"check_in" db:"check_in"`
	CheckOut *time.Time `json:"check_out" db:"check_out"`

	ServiceType ServiceType `json:"service_type" db:"service_type"`

	// Derived flags. Recomputed by the engine, never source-authored.
	SameDayTurnover  bool       `json:"same_day_turnover" db:"same_day_turnover"`
	OwnerArriving    bool       `json:"owner_arriving" db:"owner_arriving"`
	LongTermGuest    bool       `json:"long_term_guest" db:"long_term_guest"`
	NextOccupantDate *time.Time `json:"next_occupant_date" db:"next_occupant_date"`
	NextOccupantType *EntryType `json:"next_occupant_type" db:"next_occupant_type"`

	ScheduledServiceTime *time.Time `json:"scheduled_service_time" db:"scheduled_service_time"`
	ServiceDescription   string     `json:"service_description" db:"service_description"`
	OverrideServiceTime  *time.Time `json:"override_service_time" db:"override_service_time"`
	CustomInstructions   string     `json:"custom_instructions" db:"custom_instructions"`

	ExternalJobRef *string `json:"external_job_ref" db:"external_job_ref"`

	RawFields json.RawMessage `json:"raw_fields" db:"raw_fields"`

	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Nights returns the stay length in whole nights, or 0 when the
// check-out date is missing.
func (r *ReservationRecord) Nights() int {
	if r.CheckOut == nil {
		return 0
	}
	return int(r.CheckOut.Sub(r.CheckIn).Hours() / 24)
}

// Overlaps reports whether two half-open [check_in, check_out) ranges
// intersect. A record with no check-out is treated as a single night.
func (r *ReservationRecord) Overlaps(checkIn, checkOut time.Time) bool {
	end := r.CheckIn.AddDate(0, 0, 1)
	if r.CheckOut != nil {
		end = *r.CheckOut
	}
	return r.CheckIn.Before(checkOut) && checkIn.Before(end)
}

// HistoryEntry is one append-only audit trail row for a record identity.
type HistoryEntry struct {
	ID          int64           `json:"id" db:"id"`
	IdentityKey string          `json:"identity_key" db:"identity_key"`
	RecordID    *uuid.UUID      `json:"record_id" db:"record_id"`
	Source      Source          `json:"source" db:"source"`
	Action      string          `json:"action" db:"action"` // created, modified, demoted, removed, conflict, rederived
	Detail      string          `json:"detail" db:"detail"`
	Fields      json.RawMessage `json:"fields" db:"fields"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// History actions.
const (
	HistoryCreated   = "created"
	HistoryModified  = "modified"
	HistoryDemoted   = "demoted"
	HistoryRemoved   = "removed"
	HistoryConflict  = "conflict"
	HistoryRelinked  = "relinked"
	HistoryRederived = "rederived"
)

// RecordConflict is a pending-review row written when two sources claim
// overlapping dates and priority rules decline to overwrite.
type RecordConflict struct {
	ID           int64           `json:"id" db:"id"`
	PropertyID   string          `json:"property_id" db:"property_id"`
	WinnerKey    string          `json:"winner_key" db:"winner_key"`
	LoserKey     string          `json:"loser_key" db:"loser_key"`
	LoserSource  Source          `json:"loser_source" db:"loser_source"`
	Reasons      json.RawMessage `json:"reasons" db:"reasons"`
	Status       string          `json:"status" db:"status"` // pending, confirmed, rejected
	ReviewedAt   *time.Time      `json:"reviewed_at" db:"reviewed_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Conflict review statuses.
const (
	ConflictPending   = "pending"
	ConflictConfirmed = "confirmed"
	ConflictRejected  = "rejected"
)

// Day truncates a timestamp to its naive calendar date at midnight UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two timestamps fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}
