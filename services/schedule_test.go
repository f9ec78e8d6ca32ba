package services

import (
	"testing"
	"time"

	"turnsync/config"
	"turnsync/models"
)

func scheduleRecord() *models.ReservationRecord {
	return &models.ReservationRecord{
		PropertyID:  "prop-1",
		IdentityKey: "key-1",
		Source:      models.SourceDirectA,
		EntryType:   models.EntryReservation,
		ServiceType: models.ServiceTurnover,
		CheckIn:     date(2026, time.September, 10),
		CheckOut:    datePtr(2026, time.September, 14),
	}
}

func TestResolveDefaultWindow(t *testing.T) {
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))
	rec := scheduleRecord()

	when, desc := NewScheduleResolver().Resolve(rc, rec)
	want := date(2026, time.September, 14).Add(11 * time.Hour)
	if !when.Equal(want) {
		t.Errorf("when = %v, want %v", when, want)
	}
	if desc != "Turnover clean (2h0m0s)" {
		t.Errorf("desc = %q", desc)
	}
}

func TestResolveOverrideWinsOverEverything(t *testing.T) {
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))
	rec := scheduleRecord()
	rec.SameDayTurnover = true
	override := date(2026, time.September, 14).Add(8 * time.Hour)
	rec.OverrideServiceTime = &override

	when, _ := NewScheduleResolver().Resolve(rc, rec)
	if !when.Equal(override) {
		t.Errorf("when = %v, want override %v", when, override)
	}
}

func TestResolveSameDayWindow(t *testing.T) {
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))
	rec := scheduleRecord()
	rec.SameDayTurnover = true

	when, desc := NewScheduleResolver().Resolve(rc, rec)
	want := date(2026, time.September, 14).Add(10 * time.Hour)
	if !when.Equal(want) {
		t.Errorf("when = %v, want %v", when, want)
	}
	if desc != "SAME DAY Turnover clean (1h30m0s)" {
		t.Errorf("desc = %q", desc)
	}
}

// Components appear in fixed order: custom instructions, owner marker,
// long-stay marker, base descriptor. Downstream parsing depends on it.
func TestResolveDescriptionComponentOrder(t *testing.T) {
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))
	rec := scheduleRecord()
	rec.CustomInstructions = "Gate code 4411"
	rec.OwnerArriving = true
	rec.LongTermGuest = true

	_, desc := NewScheduleResolver().Resolve(rc, rec)
	want := "Gate code 4411 | OWNER ARRIVAL | LONG STAY | Turnover clean (4h0m0s)"
	if desc != want {
		t.Errorf("desc = %q\nwant   %q", desc, want)
	}
}

func TestResolvePropertyOverrides(t *testing.T) {
	cfg := testConfig()
	cfg.Properties["prop-1"] = &config.PropertyConfig{
		ID:                 "prop-1",
		DefaultStart:       "13:30",
		DefaultDuration:    3 * time.Hour,
		CustomInstructions: "Spare key in lockbox",
	}
	rc := NewRunContext(cfg, date(2026, time.September, 1))
	rec := scheduleRecord()

	when, desc := NewScheduleResolver().Resolve(rc, rec)
	want := date(2026, time.September, 14).Add(13*time.Hour + 30*time.Minute)
	if !when.Equal(want) {
		t.Errorf("when = %v, want property start %v", when, want)
	}
	if desc != "Spare key in lockbox | Turnover clean (3h0m0s)" {
		t.Errorf("desc = %q", desc)
	}
}

// Record-level instructions beat the property default.
func TestResolveRecordInstructionsWin(t *testing.T) {
	cfg := testConfig()
	cfg.Properties["prop-1"] = &config.PropertyConfig{
		ID:                 "prop-1",
		CustomInstructions: "Spare key in lockbox",
	}
	rc := NewRunContext(cfg, date(2026, time.September, 1))
	rec := scheduleRecord()
	rec.CustomInstructions = "Guest left early"

	_, desc := NewScheduleResolver().Resolve(rc, rec)
	if desc != "Guest left early | Turnover clean (2h0m0s)" {
		t.Errorf("desc = %q", desc)
	}
}

func TestResolveInspectionForBlock(t *testing.T) {
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))
	rec := scheduleRecord()
	rec.EntryType = models.EntryBlock
	rec.ServiceType = models.ServiceInspection

	_, desc := NewScheduleResolver().Resolve(rc, rec)
	if desc != "Inspection (2h0m0s)" {
		t.Errorf("desc = %q", desc)
	}
}

func TestClockOffsetFallback(t *testing.T) {
	if got := clockOffset("not a clock"); got != 11*time.Hour {
		t.Errorf("fallback = %v, want 11h", got)
	}
	if got := clockOffset("09:45"); got != 9*time.Hour+45*time.Minute {
		t.Errorf("09:45 = %v", got)
	}
}
