package models

import (
	"encoding/json"
	"time"
)

// SourceEvent is the normalized event an ingestion adapter emits. All
// upstream shape quirks (string-vs-object fields, column layouts, VEVENT
// structure) are resolved at the adapter boundary; core logic never sees
// raw feed data.
type SourceEvent struct {
	Source     Source          `json:"source"`
	PropertyID string          `json:"property_id"`
	Token      string          `json:"token,omitempty"` // source booking id, may be absent
	EntryType  EntryType       `json:"entry_type"`
	GuestName  string          `json:"guest_name,omitempty"`
	CheckIn    time.Time       `json:"check_in"`
	CheckOut   *time.Time      `json:"check_out,omitempty"`
	RawFields  json.RawMessage `json:"raw_fields,omitempty"`
}

// EventBatch is one source's complete emission for a run, together with
// the date window the batch covers. Window coverage feeds the removal
// suppression rule: a record may only be removed when its source's batch
// demonstrably covered the dates where the record should have appeared.
type EventBatch struct {
	Source      Source
	Events      []SourceEvent
	WindowStart time.Time
	WindowEnd   time.Time
	FetchedAt   time.Time
}

// Covers reports whether the batch window includes the given check-in date.
func (b *EventBatch) Covers(checkIn time.Time) bool {
	if b.WindowStart.IsZero() || b.WindowEnd.IsZero() {
		return false
	}
	d := Day(checkIn)
	return !d.Before(Day(b.WindowStart)) && !d.After(Day(b.WindowEnd))
}

// MatchKind classifies how an incoming event relates to the existing
// record set.
type MatchKind int

const (
	// MatchNone: no identity or proximity match, create a New record.
	MatchNone MatchKind = iota
	// MatchUnchanged: identity match with identical essential fields,
	// nothing to write beyond a last-seen touch.
	MatchUnchanged
	// MatchChanged: identity match whose essential fields disagree; the
	// active record is demoted to Old and a Modified successor created.
	MatchChanged
	// MatchProximity: no identity match but a date-overlap match on a
	// token-rotating source; treated like MatchChanged, not a removal.
	MatchProximity
	// MatchConflict: an active record from a different source claims
	// overlapping dates; resolved by source priority.
	MatchConflict
)

func (k MatchKind) String() string {
	switch k {
	case MatchNone:
		return "none"
	case MatchUnchanged:
		return "unchanged"
	case MatchChanged:
		return "changed"
	case MatchProximity:
		return "proximity"
	case MatchConflict:
		return "conflict"
	}
	return "unknown"
}
