package services

import (
	"context"
	"fmt"
	"log"

	"turnsync/models"
)

// DeriveService recomputes the derived flags for a property's record set:
// next occupant, same-day turnover, owner-arriving and long-term-guest,
// then resolves the schedule time. Derived flags are never authored by a
// source; this is the only writer.
type DeriveService struct {
	store    RecordStore
	schedule *ScheduleResolver
}

func NewDeriveService(store RecordStore, schedule *ScheduleResolver) *DeriveService {
	return &DeriveService{store: store, schedule: schedule}
}

// RecomputeProperty re-derives every active record at a property. A new
// later record can change an earlier one's next_occupant_date, so the
// whole set is revisited whenever anything at the property changed.
// A record with no check-out keeps its prior flags; its error is
// collected and siblings are still processed.
func (s *DeriveService) RecomputeProperty(ctx context.Context, rc *RunContext, propertyID string) []error {
	records, err := s.store.ActiveForProperty(ctx, propertyID)
	if err != nil {
		return []error{fmt.Errorf("load active for %s: %w", propertyID, err)}
	}

	var errs []error
	for _, rec := range records {
		if rec.CheckOut == nil {
			errs = append(errs, &models.ValidationError{Field: "check_out", Reason: "missing, derivation skipped for " + rec.IdentityKey})
			continue
		}

		changed := s.deriveOne(rc, rec, records)

		when, desc := s.schedule.Resolve(rc, rec)
		if rec.ScheduledServiceTime == nil || !rec.ScheduledServiceTime.Equal(when) || rec.ServiceDescription != desc {
			rec.ScheduledServiceTime = &when
			rec.ServiceDescription = desc
			changed = true
		}

		if !changed {
			continue
		}
		rec.UpdatedAt = rc.Now
		if err := s.store.UpdateDerived(ctx, rec); err != nil {
			errs = append(errs, &models.PersistenceError{IdentityKey: rec.IdentityKey, Err: err})
			continue
		}
		if err := s.store.AppendHistory(ctx, &models.HistoryEntry{
			IdentityKey: rec.IdentityKey,
			RecordID:    &rec.ID,
			Source:      rec.Source,
			Action:      models.HistoryRederived,
			Detail:      describeFlags(rec),
			CreatedAt:   rc.Now,
		}); err != nil {
			log.Printf("Warning: append rederive history for %s: %v", rec.IdentityKey, err)
		}
	}
	return errs
}

// deriveOne computes the flags for one record against its sorted
// siblings and reports whether anything changed.
func (s *DeriveService) deriveOne(rc *RunContext, rec *models.ReservationRecord, siblings []*models.ReservationRecord) bool {
	next := nextOccupant(rec, siblings)

	sameDay := false
	ownerArriving := false
	var nextDate *models.ReservationRecord

	if next != nil {
		nextDate = next
		sameDay = next.EntryType == models.EntryReservation &&
			models.SameDay(next.CheckIn, *rec.CheckOut)

		// Only the first future entry counts; a block farther out than
		// the window does not set the flag.
		gap := dayDiff(next.CheckIn, *rec.CheckOut)
		ownerArriving = next.EntryType == models.EntryBlock &&
			gap <= rc.Cfg.Reconcile.OwnerWindowDays &&
			!next.CheckIn.Before(models.Day(*rec.CheckOut))
	}

	longTerm := rec.Nights() >= rc.Cfg.Reconcile.LongTermDays

	changed := rec.SameDayTurnover != sameDay ||
		rec.OwnerArriving != ownerArriving ||
		rec.LongTermGuest != longTerm

	rec.SameDayTurnover = sameDay
	rec.OwnerArriving = ownerArriving
	rec.LongTermGuest = longTerm

	if nextDate == nil {
		changed = changed || rec.NextOccupantDate != nil
		rec.NextOccupantDate = nil
		rec.NextOccupantType = nil
	} else {
		d := models.Day(nextDate.CheckIn)
		t := nextDate.EntryType
		changed = changed ||
			rec.NextOccupantDate == nil || !rec.NextOccupantDate.Equal(d) ||
			rec.NextOccupantType == nil || *rec.NextOccupantType != t
		rec.NextOccupantDate = &d
		rec.NextOccupantType = &t
	}
	return changed
}

// nextOccupant returns the earliest active sibling checking in on or
// after this record's check-out. Siblings arrive sorted by check-in, so
// the first hit wins ties.
func nextOccupant(rec *models.ReservationRecord, siblings []*models.ReservationRecord) *models.ReservationRecord {
	for _, cand := range siblings {
		if cand.ID == rec.ID {
			continue
		}
		if cand.CheckIn.Before(models.Day(*rec.CheckOut)) {
			continue
		}
		return cand
	}
	return nil
}

func describeFlags(rec *models.ReservationRecord) string {
	return fmt.Sprintf("same_day=%t owner=%t long_term=%t", rec.SameDayTurnover, rec.OwnerArriving, rec.LongTermGuest)
}
