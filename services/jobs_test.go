package services

import (
	"context"
	"testing"
	"time"

	"turnsync/models"
)

func TestCreateMissingLinksNewRecords(t *testing.T) {
	store := newMemStore()
	system := &fakeJobSystem{}
	svc := NewJobService(store, system)
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))

	ready := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 10), datePtr(2026, time.September, 14))
	when := date(2026, time.September, 14).Add(11 * time.Hour)
	ready.ScheduledServiceTime = &when
	ready.ServiceDescription = "Turnover clean (2h0m0s)"

	// No schedule yet: not ready, must be skipped.
	seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.October, 1), datePtr(2026, time.October, 5))

	created, errs := svc.CreateMissing(context.Background(), rc)
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}
	if len(system.created) != 1 {
		t.Fatalf("job system received %d requests", len(system.created))
	}
	req := system.created[0]
	if req.PropertyID != "prop-1" || req.ServiceType != models.ServiceTurnover {
		t.Errorf("request = %+v", req)
	}
	if !req.ScheduledAt.Equal(when) {
		t.Errorf("scheduled_at = %v, want %v", req.ScheduledAt, when)
	}

	got := derived(t, store, ready.ID)
	if got.ExternalJobRef == nil || *got.ExternalJobRef != "job-1" {
		t.Errorf("external_job_ref = %v, want job-1", got.ExternalJobRef)
	}

	// Second pass creates nothing: the ref is already set.
	created, errs = svc.CreateMissing(context.Background(), rc)
	if len(errs) != 0 || created != 0 {
		t.Errorf("second pass created = %d errs = %v, want 0 and none", created, errs)
	}
}

func TestMatchUnlinkedAttachesClosestRecord(t *testing.T) {
	store := newMemStore()
	system := &fakeJobSystem{}
	svc := NewJobService(store, system)
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))

	rec := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 10), datePtr(2026, time.September, 14))
	when := date(2026, time.September, 14).Add(11 * time.Hour)
	rec.ScheduledServiceTime = &when

	system.unlinked = []models.Job{{
		Ref:         "ext-77",
		PropertyID:  "prop-1",
		ServiceType: models.ServiceTurnover,
		ScheduledAt: when.Add(20 * time.Minute),
	}}

	summary, err := svc.MatchUnlinked(context.Background(), rc, "prop-1")
	if err != nil {
		t.Fatalf("MatchUnlinked: %v", err)
	}
	if summary.Matched != 1 || len(summary.Ambiguous) != 0 {
		t.Fatalf("summary = %+v, want one match", summary)
	}
	got := derived(t, store, rec.ID)
	if got.ExternalJobRef == nil || *got.ExternalJobRef != "ext-77" {
		t.Errorf("external_job_ref = %v, want ext-77", got.ExternalJobRef)
	}
}

func TestMatchUnlinkedOutsideWindowIgnored(t *testing.T) {
	store := newMemStore()
	system := &fakeJobSystem{}
	svc := NewJobService(store, system)
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))

	rec := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 10), datePtr(2026, time.September, 14))
	when := date(2026, time.September, 14).Add(11 * time.Hour)
	rec.ScheduledServiceTime = &when

	system.unlinked = []models.Job{{
		Ref:         "ext-77",
		PropertyID:  "prop-1",
		ScheduledAt: when.Add(2 * time.Hour), // beyond the 60m window
	}}

	summary, err := svc.MatchUnlinked(context.Background(), rc, "prop-1")
	if err != nil {
		t.Fatalf("MatchUnlinked: %v", err)
	}
	if summary.Matched != 0 {
		t.Errorf("matched = %d, want 0", summary.Matched)
	}
	if derived(t, store, rec.ID).ExternalJobRef != nil {
		t.Error("record linked to a job outside the tolerance window")
	}
}

func TestMatchUnlinkedEquidistantIsAmbiguous(t *testing.T) {
	store := newMemStore()
	system := &fakeJobSystem{}
	svc := NewJobService(store, system)
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))

	at := date(2026, time.September, 14).Add(11 * time.Hour)
	early := at.Add(-30 * time.Minute)
	late := at.Add(30 * time.Minute)

	a := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 10), datePtr(2026, time.September, 14))
	a.ScheduledServiceTime = &early
	b := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 14), datePtr(2026, time.September, 18))
	b.ScheduledServiceTime = &late

	system.unlinked = []models.Job{{
		Ref:         "ext-77",
		PropertyID:  "prop-1",
		ScheduledAt: at,
	}}

	summary, err := svc.MatchUnlinked(context.Background(), rc, "prop-1")
	if err != nil {
		t.Fatalf("MatchUnlinked: %v", err)
	}
	if summary.Matched != 0 {
		t.Errorf("matched = %d, want 0 for an ambiguous job", summary.Matched)
	}
	if len(summary.Ambiguous) != 1 {
		t.Fatalf("ambiguous = %+v, want one entry", summary.Ambiguous)
	}
	amb := summary.Ambiguous[0]
	if amb.Job.Ref != "ext-77" || len(amb.Candidates) != 2 {
		t.Errorf("ambiguous entry = %+v", amb)
	}
	if derived(t, store, a.ID).ExternalJobRef != nil || derived(t, store, b.ID).ExternalJobRef != nil {
		t.Error("ambiguous job was auto-linked")
	}
}

func TestMatchUnlinkedSkipsAlreadyLinkedRecords(t *testing.T) {
	store := newMemStore()
	system := &fakeJobSystem{}
	svc := NewJobService(store, system)
	rc := NewRunContext(testConfig(), date(2026, time.September, 1))

	at := date(2026, time.September, 14).Add(11 * time.Hour)

	linked := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 10), datePtr(2026, time.September, 14))
	linked.ScheduledServiceTime = &at
	existing := "job-already"
	linked.ExternalJobRef = &existing

	other := seedRecord(store, "prop-1", models.EntryReservation,
		date(2026, time.September, 14), datePtr(2026, time.September, 18))
	farther := at.Add(45 * time.Minute)
	other.ScheduledServiceTime = &farther

	system.unlinked = []models.Job{{
		Ref:         "ext-77",
		PropertyID:  "prop-1",
		ScheduledAt: at,
	}}

	summary, err := svc.MatchUnlinked(context.Background(), rc, "prop-1")
	if err != nil {
		t.Fatalf("MatchUnlinked: %v", err)
	}
	if summary.Matched != 1 {
		t.Fatalf("matched = %d, want 1", summary.Matched)
	}
	if got := derived(t, store, linked.ID).ExternalJobRef; got == nil || *got != "job-already" {
		t.Errorf("linked record's ref changed to %v", got)
	}
	if got := derived(t, store, other.ID).ExternalJobRef; got == nil || *got != "ext-77" {
		t.Errorf("unlinked sibling ref = %v, want ext-77", got)
	}
}
