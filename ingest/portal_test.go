package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"turnsync/config"
	"turnsync/models"
)

func TestPortalAdapterFetch(t *testing.T) {
	a := NewPortalAdapter(&config.SourceConfig{
		ID:       "portal",
		Kind:     "portal",
		Source:   models.SourcePortal,
		Location: "testdata/portal.json",
	})

	batch, raw, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(raw) == 0 {
		t.Error("raw payload empty")
	}

	// The entry with no property is dropped.
	if len(batch.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(batch.Events))
	}

	// Plain-string fields.
	first := batch.Events[0]
	if first.PropertyID != "prop-1" || first.GuestName != "Jane Doe" || first.Token != "tok-8842" {
		t.Errorf("string-shaped entry = %+v", first)
	}
	if !first.CheckIn.Equal(time.Date(2026, time.September, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("check_in = %v", first.CheckIn)
	}

	// Object-shaped fields normalize to the same event shape.
	second := batch.Events[1]
	if second.PropertyID != "prop-2" || second.GuestName != "John Smith" {
		t.Errorf("object-shaped entry = %+v", second)
	}

	// Object with only an id falls back to it; owner_block maps to block.
	third := batch.Events[2]
	if third.PropertyID != "prop-3" {
		t.Errorf("id-only property = %q, want prop-3", third.PropertyID)
	}
	if third.EntryType != models.EntryBlock {
		t.Errorf("owner_block entry_type = %s", third.EntryType)
	}
}

func TestFlexNameShapes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`"prop-1"`, "prop-1"},
		{`{"name":"prop-2","id":"p2"}`, "prop-2"},
		{`{"id":"p3"}`, "p3"},
		{`""`, ""},
	}
	for _, tc := range cases {
		var f flexName
		if err := json.Unmarshal([]byte(tc.in), &f); err != nil {
			t.Errorf("unmarshal %s: %v", tc.in, err)
			continue
		}
		if f.Value != tc.want {
			t.Errorf("flexName(%s) = %q, want %q", tc.in, f.Value, tc.want)
		}
	}

	var f flexName
	if err := json.Unmarshal([]byte(`42`), &f); err == nil {
		t.Error("numeric field decoded without error")
	}
}
