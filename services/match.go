package services

import (
	"context"
	"time"

	"turnsync/identity"
	"turnsync/models"
)

// MatchService is the duplicate/conflict detector. It classifies an
// incoming event against the record store and the in-run session set,
// in two passes: exact identity match first, then proximity match for
// sources known to rotate tokens between exports.
type MatchService struct {
	store RecordStore
}

func NewMatchService(store RecordStore) *MatchService {
	return &MatchService{store: store}
}

// MatchResult is the classification of one incoming event.
type MatchResult struct {
	Kind models.MatchKind

	// Existing is the matched active record for identity/proximity
	// matches, or the already-written session record.
	Existing *models.ReservationRecord

	// Conflicting is the overlapping active record from a different
	// source when Kind is MatchConflict.
	Conflicting *models.ReservationRecord

	// Reasons explains a proximity or conflict classification, for the
	// review queue.
	Reasons []string
}

// Classify runs both matching strategies in order for one event whose
// identity key has already been resolved.
func (s *MatchService) Classify(ctx context.Context, rc *RunContext, ev *models.SourceEvent, key string) (*MatchResult, error) {
	// Pass 1a: same-batch session set. A source reissuing a token inside
	// one feed must not churn create-then-demote.
	if rec := rc.SessionRecord(key); rec != nil {
		if sameEssentials(rec, ev) {
			return &MatchResult{Kind: models.MatchUnchanged, Existing: rec}, nil
		}
		return &MatchResult{Kind: models.MatchChanged, Existing: rec}, nil
	}

	// Pass 1b: exact identity match against the store.
	existing, err := s.store.ActiveByIdentityKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if sameEssentials(existing, ev) {
			return &MatchResult{Kind: models.MatchUnchanged, Existing: existing}, nil
		}
		return &MatchResult{Kind: models.MatchChanged, Existing: existing}, nil
	}

	siblings, err := s.store.ActiveForProperty(ctx, ev.PropertyID)
	if err != nil {
		return nil, err
	}

	// Pass 2: proximity match. Sources that regenerate tokens on every
	// export are eligible, as are synthesized identities: their key is
	// built from the dates, so any date change rotates it. For anyone
	// else a new token is a new booking, full stop.
	if rc.Cfg.Reconcile.RotatingSources[ev.Source] || identity.Synthesized(key) {
		if cand, reasons := s.closestRotation(rc, ev, siblings); cand != nil {
			return &MatchResult{Kind: models.MatchProximity, Existing: cand, Reasons: reasons}, nil
		}
	}

	// Cross-source overlap: another source already holds active records
	// over these dates at this property.
	if other := s.overlappingOtherSource(ev, siblings); other != nil {
		return &MatchResult{
			Kind:        models.MatchConflict,
			Conflicting: other,
			Reasons:     []string{"overlapping_dates", "different_source"},
		}, nil
	}

	return &MatchResult{Kind: models.MatchNone}, nil
}

// closestRotation finds the best same-source, same-type candidate whose
// dates overlap the event or drift within the configured threshold. The
// boundary between "token rotation" and "cancellation plus unrelated new
// booking" is a heuristic; the drift threshold keeps it tunable.
func (s *MatchService) closestRotation(rc *RunContext, ev *models.SourceEvent, siblings []*models.ReservationRecord) (*models.ReservationRecord, []string) {
	maxDrift := rc.Cfg.Reconcile.ProximityMaxDriftDays
	evEnd := ev.CheckIn.AddDate(0, 0, 1)
	if ev.CheckOut != nil {
		evEnd = *ev.CheckOut
	}

	var best *models.ReservationRecord
	bestDrift := maxDrift + 1
	var bestReasons []string

	for _, rec := range siblings {
		if rec.Source != ev.Source || rec.EntryType != ev.EntryType {
			continue
		}
		// A record already confirmed by its own token this run is not a
		// rotation candidate.
		if rc.Seen(rec.IdentityKey) {
			continue
		}

		drift := dayDiff(rec.CheckIn, ev.CheckIn)
		overlaps := rec.Overlaps(ev.CheckIn, evEnd)
		if !overlaps && drift > maxDrift {
			continue
		}

		reasons := []string{"same_source", "same_entry_type"}
		if overlaps {
			reasons = append(reasons, "overlapping_dates")
		}
		if drift <= maxDrift {
			reasons = append(reasons, "check_in_drift_within_threshold")
		}

		if overlaps {
			drift = 0
		}
		if drift < bestDrift {
			best = rec
			bestDrift = drift
			bestReasons = reasons
		}
	}

	return best, bestReasons
}

// overlappingOtherSource returns the first active record from a
// different source whose dates overlap the event. Entry types are NOT
// required to agree: an owner block landing on top of a guest
// reservation is the double-booking this pass exists to catch.
func (s *MatchService) overlappingOtherSource(ev *models.SourceEvent, siblings []*models.ReservationRecord) *models.ReservationRecord {
	evEnd := ev.CheckIn.AddDate(0, 0, 1)
	if ev.CheckOut != nil {
		evEnd = *ev.CheckOut
	}

	var found *models.ReservationRecord
	for _, rec := range siblings {
		if rec.Source == ev.Source {
			continue
		}
		if !rec.Overlaps(ev.CheckIn, evEnd) {
			continue
		}
		// Identical dates from another source is the same stay seen
		// through a second feed, not a dispute.
		if sameEssentials(rec, ev) {
			continue
		}
		if found == nil {
			found = rec
		}
	}
	return found
}

// sameEssentials reports whether a record and an event agree on the
// fields a change is judged by: dates and entry type.
func sameEssentials(rec *models.ReservationRecord, ev *models.SourceEvent) bool {
	if rec.EntryType != ev.EntryType {
		return false
	}
	if !models.SameDay(rec.CheckIn, ev.CheckIn) {
		return false
	}
	if (rec.CheckOut == nil) != (ev.CheckOut == nil) {
		return false
	}
	if rec.CheckOut != nil && !models.SameDay(*rec.CheckOut, *ev.CheckOut) {
		return false
	}
	return true
}

// dayDiff returns the absolute calendar-day distance between two dates.
func dayDiff(a, b time.Time) int {
	d := int(models.Day(a).Sub(models.Day(b)).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}
