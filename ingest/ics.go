package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"turnsync/config"
	"turnsync/models"
)

// ICSAdapter ingests calendar feeds. Location is either a single feed
// URL (the whole account calendar keyed by property in each VEVENT
// summary is not supported; one feed is one property) or a directory of
// <property_id>.ics files.
type ICSAdapter struct {
	cfg *config.SourceConfig
}

func NewICSAdapter(cfg *config.SourceConfig) *ICSAdapter {
	return &ICSAdapter{cfg: cfg}
}

func (a *ICSAdapter) Source() models.Source {
	return a.cfg.Source
}

func (a *ICSAdapter) Fetch(ctx context.Context) (*models.EventBatch, []byte, error) {
	now := time.Now()
	batch := &models.EventBatch{
		Source:    a.cfg.Source,
		FetchedAt: now,
	}
	batch.WindowStart, batch.WindowEnd = batchWindow(a.cfg, now)

	info, err := os.Stat(a.cfg.Location)
	if err == nil && info.IsDir() {
		raw, err := a.fetchDir(ctx, batch)
		return batch, raw, err
	}

	data, err := loadLocation(ctx, a.cfg.Location)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", a.cfg.Location, err)
	}
	propertyID := strings.TrimSuffix(filepath.Base(a.cfg.Location), ".ics")
	if err := a.parseFeed(data, propertyID, batch); err != nil {
		return nil, nil, err
	}
	return batch, data, nil
}

func (a *ICSAdapter) fetchDir(ctx context.Context, batch *models.EventBatch) ([]byte, error) {
	entries, err := os.ReadDir(a.cfg.Location)
	if err != nil {
		return nil, err
	}

	var combined bytes.Buffer
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".ics" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(a.cfg.Location, entry.Name()))
		if err != nil {
			return combined.Bytes(), err
		}
		combined.Write(data)

		propertyID := strings.TrimSuffix(entry.Name(), ".ics")
		if err := a.parseFeed(data, propertyID, batch); err != nil {
			return combined.Bytes(), fmt.Errorf("%s: %w", entry.Name(), err)
		}
	}
	return combined.Bytes(), nil
}

func (a *ICSAdapter) parseFeed(data []byte, propertyID string, batch *models.EventBatch) error {
	cal, err := ics.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse calendar: %w", err)
	}

	for _, event := range cal.Events() {
		ev, err := a.normalize(event, propertyID)
		if err != nil {
			continue
		}
		batch.Events = append(batch.Events, *ev)
	}
	return nil
}

func (a *ICSAdapter) normalize(event *ics.VEvent, propertyID string) (*models.SourceEvent, error) {
	start, err := eventDate(event.GetStartAt, event.GetAllDayStartAt)
	if err != nil {
		return nil, fmt.Errorf("dtstart: %w", err)
	}

	var checkOut *time.Time
	if end, err := eventDate(event.GetEndAt, event.GetAllDayEndAt); err == nil {
		checkOut = &end
	}

	token := ""
	if p := event.GetProperty(ics.ComponentPropertyUniqueId); p != nil {
		token = p.Value
	}

	summary := ""
	if p := event.GetProperty(ics.ComponentPropertySummary); p != nil {
		summary = p.Value
	}

	entry := models.EntryReservation
	if isBlockSummary(summary) {
		entry = models.EntryBlock
	}

	return &models.SourceEvent{
		Source:     a.cfg.Source,
		PropertyID: propertyID,
		Token:      token,
		EntryType:  entry,
		GuestName:  guestFromSummary(summary),
		CheckIn:    models.Day(start),
		CheckOut:   dayPtr(checkOut),
	}, nil
}

func eventDate(timed, allDay func() (time.Time, error)) (time.Time, error) {
	if t, err := timed(); err == nil {
		return t, nil
	}
	return allDay()
}

// isBlockSummary recognizes the summaries calendar platforms use for
// owner holds and unavailability.
func isBlockSummary(summary string) bool {
	s := strings.ToLower(summary)
	for _, marker := range []string{"block", "blocked", "owner", "unavailable", "not available", "hold"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// guestFromSummary pulls a guest name out of "Reserved - Jane Doe" style
// summaries; blocks yield nothing.
func guestFromSummary(summary string) string {
	if isBlockSummary(summary) {
		return ""
	}
	if _, name, ok := strings.Cut(summary, " - "); ok {
		return strings.TrimSpace(name)
	}
	return ""
}

func dayPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := models.Day(*t)
	return &d
}
