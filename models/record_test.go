package models

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRecordStatusActive(t *testing.T) {
	active := []RecordStatus{StatusNew, StatusModified}
	inactive := []RecordStatus{StatusOld, StatusRemoved}
	for _, s := range active {
		if !s.Active() {
			t.Errorf("%s.Active() = false", s)
		}
	}
	for _, s := range inactive {
		if s.Active() {
			t.Errorf("%s.Active() = true", s)
		}
	}
}

func TestOverlaps(t *testing.T) {
	out := day(2026, time.September, 14)
	rec := &ReservationRecord{CheckIn: day(2026, time.September, 10), CheckOut: &out}

	cases := []struct {
		name     string
		from, to time.Time
		want     bool
	}{
		{"fully inside", day(2026, time.September, 11), day(2026, time.September, 13), true},
		{"straddles start", day(2026, time.September, 8), day(2026, time.September, 11), true},
		{"straddles end", day(2026, time.September, 13), day(2026, time.September, 16), true},
		{"same-day turnover boundary", day(2026, time.September, 14), day(2026, time.September, 18), false},
		{"back-to-back before", day(2026, time.September, 8), day(2026, time.September, 10), false},
		{"disjoint", day(2026, time.October, 1), day(2026, time.October, 5), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rec.Overlaps(tc.from, tc.to); got != tc.want {
				t.Errorf("Overlaps(%v, %v) = %t, want %t", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestOverlapsMissingCheckOutIsOneNight(t *testing.T) {
	rec := &ReservationRecord{CheckIn: day(2026, time.September, 10)}
	if !rec.Overlaps(day(2026, time.September, 10), day(2026, time.September, 11)) {
		t.Error("one-night fallback did not overlap its own night")
	}
	if rec.Overlaps(day(2026, time.September, 11), day(2026, time.September, 12)) {
		t.Error("one-night fallback overlapped the following night")
	}
}

func TestNights(t *testing.T) {
	out := day(2026, time.September, 15)
	rec := &ReservationRecord{CheckIn: day(2026, time.September, 1), CheckOut: &out}
	if got := rec.Nights(); got != 14 {
		t.Errorf("Nights() = %d, want 14", got)
	}
	none := &ReservationRecord{CheckIn: day(2026, time.September, 1)}
	if got := none.Nights(); got != 0 {
		t.Errorf("Nights() without check-out = %d, want 0", got)
	}
}

func TestBatchCovers(t *testing.T) {
	batch := &EventBatch{
		WindowStart: day(2026, time.September, 1),
		WindowEnd:   day(2026, time.December, 1),
	}
	if !batch.Covers(day(2026, time.September, 1)) {
		t.Error("window start not covered")
	}
	if !batch.Covers(day(2026, time.December, 1)) {
		t.Error("window end not covered")
	}
	if batch.Covers(day(2026, time.August, 31)) {
		t.Error("day before window covered")
	}
	if batch.Covers(day(2026, time.December, 2)) {
		t.Error("day after window covered")
	}

	unbounded := &EventBatch{}
	if unbounded.Covers(day(2026, time.September, 15)) {
		t.Error("batch with no window claims coverage")
	}
}

func TestDayAndSameDay(t *testing.T) {
	loc := time.FixedZone("X", -7*3600)
	stamp := time.Date(2026, time.September, 10, 18, 30, 0, 0, loc)
	if got := Day(stamp); !got.Equal(day(2026, time.September, 10)) {
		t.Errorf("Day(%v) = %v", stamp, got)
	}
	if !SameDay(stamp, time.Date(2026, time.September, 10, 2, 0, 0, 0, loc)) {
		t.Error("same calendar day reported different")
	}
	if SameDay(stamp, time.Date(2026, time.September, 11, 2, 0, 0, 0, loc)) {
		t.Error("different calendar days reported same")
	}
}

func TestDefaultServiceType(t *testing.T) {
	if got := DefaultServiceType(EntryReservation); got != ServiceTurnover {
		t.Errorf("reservation -> %s, want turnover", got)
	}
	if got := DefaultServiceType(EntryBlock); got != ServiceInspection {
		t.Errorf("block -> %s, want inspection", got)
	}
}
