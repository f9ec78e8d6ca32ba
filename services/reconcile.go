package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"turnsync/identity"
	"turnsync/models"
)

// ReconcileService is the status lifecycle manager: the only writer of
// record status, identity keys and history. It applies each incoming
// event as one atomic transition per identity key.
type ReconcileService struct {
	store RecordStore
	match *MatchService
}

func NewReconcileService(store RecordStore, match *MatchService) *ReconcileService {
	return &ReconcileService{store: store, match: match}
}

// Outcome reports what one event did to the record set.
type Outcome struct {
	Kind   models.MatchKind
	Record *models.ReservationRecord
}

// ProcessEvent validates, classifies and applies a single normalized
// source event. Validation failures and per-record persistence failures
// are returned to the caller and never abort sibling records.
func (s *ReconcileService) ProcessEvent(ctx context.Context, rc *RunContext, ev *models.SourceEvent) (*Outcome, error) {
	if err := validateEvent(ev); err != nil {
		return nil, err
	}

	key := identity.Key(ev)

	res, err := s.match.Classify(ctx, rc, ev, key)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", key, err)
	}

	switch res.Kind {
	case models.MatchUnchanged:
		if err := s.store.TouchLastSeen(ctx, res.Existing.ID, rc.Now); err != nil {
			log.Printf("Warning: touch last_seen for %s: %v", key, err)
		}
		rc.RememberSession(key, res.Existing)
		return &Outcome{Kind: res.Kind, Record: res.Existing}, nil

	case models.MatchNone:
		rec, err := s.createNew(ctx, rc, ev, key)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: res.Kind, Record: rec}, nil

	case models.MatchChanged:
		rec, err := s.supersede(ctx, rc, ev, key, res.Existing, models.HistoryModified, nil)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: res.Kind, Record: rec}, nil

	case models.MatchProximity:
		// Token rotation: the old record continues under the new key.
		// Flag the old identity so the removal sweep leaves it alone,
		// and carry its history forward under the new key.
		rc.MarkReidentified(res.Existing.IdentityKey)
		relink := &models.HistoryEntry{
			IdentityKey: key,
			Source:      ev.Source,
			Action:      models.HistoryRelinked,
			Detail:      fmt.Sprintf("token rotated from %s", res.Existing.IdentityKey),
			CreatedAt:   rc.Now,
		}
		rec, err := s.supersede(ctx, rc, ev, key, res.Existing, models.HistoryModified, relink)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: res.Kind, Record: rec}, nil

	case models.MatchConflict:
		return s.resolveConflict(ctx, rc, ev, key, res)
	}

	return nil, fmt.Errorf("unhandled match kind %v", res.Kind)
}

func validateEvent(ev *models.SourceEvent) error {
	if ev.PropertyID == "" {
		return &models.ValidationError{Field: "property_id", Reason: "missing"}
	}
	if ev.CheckIn.IsZero() {
		return &models.ValidationError{Field: "check_in", Reason: "missing"}
	}
	if ev.CheckOut == nil {
		return &models.ValidationError{Field: "check_out", Reason: "missing"}
	}
	if !ev.CheckOut.After(ev.CheckIn) {
		return &models.ValidationError{Field: "check_out", Reason: "not after check_in"}
	}
	return nil
}

// createNew inserts a fresh record with status New.
func (s *ReconcileService) createNew(ctx context.Context, rc *RunContext, ev *models.SourceEvent, key string) (*models.ReservationRecord, error) {
	rec := buildRecord(rc, ev, key, models.StatusNew)
	history := []*models.HistoryEntry{{
		IdentityKey: key,
		RecordID:    &rec.ID,
		Source:      ev.Source,
		Action:      models.HistoryCreated,
		Detail:      transitionDetail(ev),
		Fields:      ev.RawFields,
		CreatedAt:   rc.Now,
	}}

	if err := s.store.Transition(ctx, nil, rec, history); err != nil {
		return nil, &models.PersistenceError{IdentityKey: key, Err: err}
	}
	rc.RememberSession(key, rec)
	rc.TouchProperty(ev.PropertyID)
	return rec, nil
}

// supersede demotes the current active record to Old and creates its
// Modified successor in a single transaction. The successor inherits
// first-seen, custom instructions, override and job linkage from the
// record it replaces: the downstream job already exists, creating a
// second one is exactly the failure this engine is meant to prevent.
func (s *ReconcileService) supersede(ctx context.Context, rc *RunContext, ev *models.SourceEvent, key string, prev *models.ReservationRecord, action string, extra *models.HistoryEntry) (*models.ReservationRecord, error) {
	rec := buildRecord(rc, ev, key, models.StatusModified)
	rec.FirstSeenAt = prev.FirstSeenAt
	rec.ExternalJobRef = prev.ExternalJobRef
	rec.OverrideServiceTime = prev.OverrideServiceTime
	rec.CustomInstructions = prev.CustomInstructions

	demoted := *prev
	demoted.Status = models.StatusOld
	demoted.UpdatedAt = rc.Now

	history := []*models.HistoryEntry{
		{
			IdentityKey: prev.IdentityKey,
			RecordID:    &prev.ID,
			Source:      ev.Source,
			Action:      models.HistoryDemoted,
			Detail:      fmt.Sprintf("superseded by %s", key),
			CreatedAt:   rc.Now,
		},
		{
			IdentityKey: key,
			RecordID:    &rec.ID,
			Source:      ev.Source,
			Action:      action,
			Detail:      transitionDetail(ev),
			Fields:      ev.RawFields,
			CreatedAt:   rc.Now,
		},
	}
	if extra != nil {
		extra.RecordID = &rec.ID
		history = append(history, extra)
	}

	if err := s.store.Transition(ctx, &demoted, rec, history); err != nil {
		return nil, &models.PersistenceError{IdentityKey: key, Err: err}
	}
	rc.RememberSession(key, rec)
	rc.TouchProperty(ev.PropertyID)
	return rec, nil
}

// resolveConflict applies the source priority table to two sources
// claiming overlapping dates at one property. The loser is recorded and
// flagged for review, never silently discarded. Equal ranks cannot be
// auto-resolved and surface an IdentityConflictError instead.
func (s *ReconcileService) resolveConflict(ctx context.Context, rc *RunContext, ev *models.SourceEvent, key string, res *MatchResult) (*Outcome, error) {
	other := res.Conflicting
	incomingRank := rc.Priority(ev.Source)
	existingRank := rc.Priority(other.Source)
	reasons, _ := json.Marshal(res.Reasons)

	if incomingRank > existingRank {
		// Incoming source outranks the holder: its record becomes
		// active, the holder is demoted and queued for review.
		rec, err := s.createNew(ctx, rc, ev, key)
		if err != nil {
			return nil, err
		}

		demoted := *other
		demoted.Status = models.StatusOld
		demoted.UpdatedAt = rc.Now
		history := []*models.HistoryEntry{{
			IdentityKey: other.IdentityKey,
			RecordID:    &other.ID,
			Source:      ev.Source,
			Action:      models.HistoryConflict,
			Detail:      fmt.Sprintf("outranked by %s record %s", ev.Source, key),
			CreatedAt:   rc.Now,
		}}
		if err := s.store.Transition(ctx, &demoted, nil, history); err != nil {
			return nil, &models.PersistenceError{IdentityKey: other.IdentityKey, Err: err}
		}

		conflict := &models.RecordConflict{
			PropertyID:  ev.PropertyID,
			WinnerKey:   key,
			LoserKey:    other.IdentityKey,
			LoserSource: other.Source,
			Reasons:     reasons,
			Status:      models.ConflictPending,
			CreatedAt:   rc.Now,
		}
		if err := s.store.InsertConflict(ctx, conflict); err != nil {
			log.Printf("Warning: insert conflict row for %s: %v", key, err)
		}
		return &Outcome{Kind: models.MatchConflict, Record: rec}, nil
	}

	if incomingRank == existingRank {
		// No rule can pick a winner. Queue review and surface the
		// overlap; neither record is created or demoted here.
		conflict := &models.RecordConflict{
			PropertyID:  ev.PropertyID,
			WinnerKey:   other.IdentityKey,
			LoserKey:    key,
			LoserSource: ev.Source,
			Reasons:     reasons,
			Status:      models.ConflictPending,
			CreatedAt:   rc.Now,
		}
		if err := s.store.InsertConflict(ctx, conflict); err != nil {
			log.Printf("Warning: insert conflict row for %s: %v", key, err)
		}
		return nil, &models.IdentityConflictError{IdentityKey: key, OtherKey: other.IdentityKey}
	}

	// The conflicting source keeps emitting the same event for as long as
	// the booking exists upstream. A loser already recorded with the same
	// essential fields is touched, not re-inserted: repeating the insert
	// every run would grow the store and the winner's history without
	// bound.
	if prev, err := s.store.LatestByIdentityKey(ctx, key); err != nil {
		return nil, fmt.Errorf("latest %s: %w", key, err)
	} else if prev != nil && prev.Status == models.StatusOld && sameEssentials(prev, ev) {
		if err := s.store.TouchLastSeen(ctx, prev.ID, rc.Now); err != nil {
			log.Printf("Warning: touch last_seen for %s: %v", key, err)
		}
		return &Outcome{Kind: models.MatchUnchanged, Record: prev}, nil
	}

	// Incoming is outranked and contradicts a higher-priority record's
	// core dates: record it as already demoted, append a conflict entry
	// to the winner's history, and queue review.
	rec := buildRecord(rc, ev, key, models.StatusOld)
	history := []*models.HistoryEntry{
		{
			IdentityKey: key,
			RecordID:    &rec.ID,
			Source:      ev.Source,
			Action:      models.HistoryConflict,
			Detail:      fmt.Sprintf("outranked by %s record %s", other.Source, other.IdentityKey),
			Fields:      ev.RawFields,
			CreatedAt:   rc.Now,
		},
		{
			IdentityKey: other.IdentityKey,
			RecordID:    &other.ID,
			Source:      ev.Source,
			Action:      models.HistoryConflict,
			Detail:      fmt.Sprintf("contested by lower-priority %s event %s", ev.Source, key),
			CreatedAt:   rc.Now,
		},
	}
	if err := s.store.Transition(ctx, nil, rec, history); err != nil {
		return nil, &models.PersistenceError{IdentityKey: key, Err: err}
	}

	conflict := &models.RecordConflict{
		PropertyID:  ev.PropertyID,
		WinnerKey:   other.IdentityKey,
		LoserKey:    key,
		LoserSource: ev.Source,
		Reasons:     reasons,
		Status:      models.ConflictPending,
		CreatedAt:   rc.Now,
	}
	if err := s.store.InsertConflict(ctx, conflict); err != nil {
		log.Printf("Warning: insert conflict row for %s: %v", key, err)
	}
	return &Outcome{Kind: models.MatchConflict, Record: rec}, nil
}

// SweepRemovals marks Removed every active record of the batch's source
// that the batch stopped emitting, subject to the suppression rule: the
// batch window must cover the record's check-in, past check-ins are
// historical fact and never auto-removed, and identities re-identified
// under a rotated token this run are exempt.
func (s *ReconcileService) SweepRemovals(ctx context.Context, rc *RunContext, batch *models.EventBatch) (int, error) {
	active, err := s.store.ActiveForSource(ctx, batch.Source)
	if err != nil {
		return 0, fmt.Errorf("load active for %s: %w", batch.Source, err)
	}

	removed := 0
	for _, rec := range active {
		if rc.Seen(rec.IdentityKey) {
			continue
		}
		if rc.Reidentified(rec.IdentityKey) {
			continue
		}
		if !batch.Covers(rec.CheckIn) {
			continue
		}
		if models.Day(rec.CheckIn).Before(models.Day(rc.Now)) {
			continue
		}

		lock := rc.PropertyLock(rec.PropertyID)
		lock.Lock()
		err := s.remove(ctx, rc, rec, batch.Source)
		lock.Unlock()
		if err != nil {
			log.Printf("Warning: remove %s: %v", rec.IdentityKey, err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *ReconcileService) remove(ctx context.Context, rc *RunContext, rec *models.ReservationRecord, src models.Source) error {
	gone := *rec
	gone.Status = models.StatusRemoved
	gone.UpdatedAt = rc.Now
	history := []*models.HistoryEntry{{
		IdentityKey: rec.IdentityKey,
		RecordID:    &rec.ID,
		Source:      src,
		Action:      models.HistoryRemoved,
		Detail:      "source stopped emitting inside covered window",
		CreatedAt:   rc.Now,
	}}
	if err := s.store.Transition(ctx, &gone, nil, history); err != nil {
		return &models.PersistenceError{IdentityKey: rec.IdentityKey, Err: err}
	}
	rc.TouchProperty(rec.PropertyID)
	return nil
}

func buildRecord(rc *RunContext, ev *models.SourceEvent, key string, status models.RecordStatus) *models.ReservationRecord {
	var out *time.Time
	if ev.CheckOut != nil {
		d := models.Day(*ev.CheckOut)
		out = &d
	}
	return &models.ReservationRecord{
		ID:          uuid.New(),
		PropertyID:  ev.PropertyID,
		IdentityKey: key,
		Source:      ev.Source,
		EntryType:   ev.EntryType,
		Status:      status,
		SourceToken: ev.Token,
		GuestName:   ev.GuestName,
		CheckIn:     models.Day(ev.CheckIn),
		CheckOut:    out,
		ServiceType: models.DefaultServiceType(ev.EntryType),
		RawFields:   ev.RawFields,
		FirstSeenAt: rc.Now,
		LastSeenAt:  rc.Now,
		CreatedAt:   rc.Now,
		UpdatedAt:   rc.Now,
	}
}

func transitionDetail(ev *models.SourceEvent) string {
	out := ""
	if ev.CheckOut != nil {
		out = ev.CheckOut.Format("2006-01-02")
	}
	return fmt.Sprintf("%s %s %s..%s", ev.Source, ev.EntryType, ev.CheckIn.Format("2006-01-02"), out)
}
