package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"turnsync/models"
)

func seedRecord(store *memStore, property string, entry models.EntryType, checkIn time.Time, checkOut *time.Time) *models.ReservationRecord {
	rec := &models.ReservationRecord{
		ID:          uuid.New(),
		PropertyID:  property,
		IdentityKey: "key-" + uuid.NewString()[:8],
		Source:      models.SourceDirectA,
		EntryType:   entry,
		Status:      models.StatusNew,
		CheckIn:     checkIn,
		CheckOut:    checkOut,
		ServiceType: models.DefaultServiceType(entry),
		CreatedAt:   checkIn,
	}
	store.mu.Lock()
	store.records[rec.ID] = rec
	store.mu.Unlock()
	return rec
}

func derived(t *testing.T, store *memStore, id uuid.UUID) *models.ReservationRecord {
	t.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	rec, ok := store.records[id]
	if !ok {
		t.Fatalf("record %s not in store", id)
	}
	return rec
}

func TestRecomputePropertySameDayTurnover(t *testing.T) {
	store := newMemStore()
	svc := NewDeriveService(store, NewScheduleResolver())
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))

	a := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 10), datePtr(2026, time.September, 14))
	seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 14), datePtr(2026, time.September, 18))

	if errs := svc.RecomputeProperty(context.Background(), rc, "prop-1"); len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}

	got := derived(t, store, a.ID)
	if !got.SameDayTurnover {
		t.Error("same_day_turnover = false, want true")
	}
	if got.NextOccupantDate == nil || !got.NextOccupantDate.Equal(date(2026, time.September, 14)) {
		t.Errorf("next_occupant_date = %v, want 2026-09-14", got.NextOccupantDate)
	}
	if got.NextOccupantType == nil || *got.NextOccupantType != models.EntryReservation {
		t.Errorf("next_occupant_type = %v, want reservation", got.NextOccupantType)
	}
	// The same-day window starts earlier than the default.
	want := date(2026, time.September, 14).Add(10 * time.Hour)
	if got.ScheduledServiceTime == nil || !got.ScheduledServiceTime.Equal(want) {
		t.Errorf("scheduled = %v, want %v", got.ScheduledServiceTime, want)
	}
}

func TestRecomputePropertyGapTurnoverNotSameDay(t *testing.T) {
	store := newMemStore()
	svc := NewDeriveService(store, NewScheduleResolver())
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))

	a := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 10), datePtr(2026, time.September, 14))
	seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 16), datePtr(2026, time.September, 20))

	if errs := svc.RecomputeProperty(context.Background(), rc, "prop-1"); len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}

	got := derived(t, store, a.ID)
	if got.SameDayTurnover {
		t.Error("same_day_turnover = true for a two-day gap")
	}
	want := date(2026, time.September, 14).Add(11 * time.Hour)
	if got.ScheduledServiceTime == nil || !got.ScheduledServiceTime.Equal(want) {
		t.Errorf("scheduled = %v, want default window %v", got.ScheduledServiceTime, want)
	}
}

func TestRecomputePropertyOwnerArriving(t *testing.T) {
	cases := []struct {
		name     string
		blockIn  time.Time
		expected bool
	}{
		{"block next day", date(2026, time.September, 15), true},
		{"block same day", date(2026, time.September, 14), true},
		{"block five days out", date(2026, time.September, 19), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			svc := NewDeriveService(store, NewScheduleResolver())
			rc := NewRunContext(testConfig(), date(2026, time.September, 1))

			a := seedRecord(store, "prop-1", models.EntryReservation,
				date(2026, time.September, 10), datePtr(2026, time.September, 14))
			end := tc.blockIn.AddDate(0, 0, 3)
			seedRecord(store, "prop-1", models.EntryBlock, tc.blockIn, &end)

			if errs := svc.RecomputeProperty(context.Background(), rc, "prop-1"); len(errs) != 0 {
				t.Fatalf("errs = %v", errs)
			}
			got := derived(t, store, a.ID)
			if got.OwnerArriving != tc.expected {
				t.Errorf("owner_arriving = %t, want %t", got.OwnerArriving, tc.expected)
			}
		})
	}
}

// A guest reservation between the check-out and the owner block means the
// block is not the next occupant; the flag stays off.
func TestRecomputePropertyOwnerFlagOnlyForNextOccupant(t *testing.T) {
	store := newMemStore()
	svc := NewDeriveService(store, NewScheduleResolver())
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))

	a := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 10), datePtr(2026, time.September, 14))
	seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 14), datePtr(2026, time.September, 15))
	end := date(2026, time.September, 18)
	seedRecord(store, "prop-1", models.EntryBlock, date(2026, time.September, 15), &end)

	if errs := svc.RecomputeProperty(context.Background(), rc, "prop-1"); len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	got := derived(t, store, a.ID)
	if got.OwnerArriving {
		t.Error("owner_arriving = true, but a reservation is the next occupant")
	}
	if !got.SameDayTurnover {
		t.Error("same_day_turnover = false, want true")
	}
}

func TestRecomputePropertyLongTermGuest(t *testing.T) {
	store := newMemStore()
	svc := NewDeriveService(store, NewScheduleResolver())
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))

	long := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 1), datePtr(2026, time.September, 15)) // 14 nights
	short := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.October, 1), datePtr(2026, time.October, 14)) // 13 nights

	if errs := svc.RecomputeProperty(context.Background(), rc, "prop-1"); len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}

	if !derived(t, store, long.ID).LongTermGuest {
		t.Error("14-night stay long_term_guest = false, want true")
	}
	if derived(t, store, short.ID).LongTermGuest {
		t.Error("13-night stay long_term_guest = true, want false")
	}
}

func TestRecomputePropertySkipsMissingCheckOut(t *testing.T) {
	store := newMemStore()
	svc := NewDeriveService(store, NewScheduleResolver())
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))

	broken := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 10), nil)
	ok := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 20), datePtr(2026, time.September, 24))

	errs := svc.RecomputeProperty(context.Background(), rc, "prop-1")
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want exactly one", errs)
	}

	if derived(t, store, ok.ID).ScheduledServiceTime == nil {
		t.Error("sibling was not derived after the broken record")
	}
	if derived(t, store, broken.ID).ScheduledServiceTime != nil {
		t.Error("record with no check-out got a schedule")
	}
}

func TestRecomputePropertyWritesRederiveHistoryOnce(t *testing.T) {
	store := newMemStore()
	svc := NewDeriveService(store, NewScheduleResolver())
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))

	seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 10), datePtr(2026, time.September, 14))

	if errs := svc.RecomputeProperty(context.Background(), rc, "prop-1"); len(errs) != 0 {
		t.Fatalf("first pass: %v", errs)
	}
	first := len(store.history)
	if first == 0 {
		t.Fatal("no rederive history after first pass")
	}

	// Second pass with nothing changed must be a no-op.
	if errs := svc.RecomputeProperty(context.Background(), rc, "prop-1"); len(errs) != 0 {
		t.Fatalf("second pass: %v", errs)
	}
	if len(store.history) != first {
		t.Errorf("second pass appended history: %d -> %d", first, len(store.history))
	}
}
