package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"turnsync/config"
	"turnsync/models"
)

// CSVAdapter ingests the guest-booking CSV export (direct feed). Header
// names map through csv struct tags; column order in the export is not
// stable and must not matter.
type CSVAdapter struct {
	cfg *config.SourceConfig
}

func NewCSVAdapter(cfg *config.SourceConfig) *CSVAdapter {
	return &CSVAdapter{cfg: cfg}
}

func (a *CSVAdapter) Source() models.Source {
	return a.cfg.Source
}

// csvRow is one line of the booking export.
type csvRow struct {
	PropertyID    string `csv:"property_id"`
	ReservationID string `csv:"reservation_id"`
	GuestName     string `csv:"guest_name"`
	Arrival       string `csv:"arrival"`
	Departure     string `csv:"departure"`
	Kind          string `csv:"type"`
}

func (a *CSVAdapter) Fetch(ctx context.Context) (*models.EventBatch, []byte, error) {
	data, err := loadLocation(ctx, a.cfg.Location)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", a.cfg.Location, err)
	}

	var rows []csvRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, nil, fmt.Errorf("decode csv %s: %w", a.cfg.ID, err)
	}

	now := time.Now()
	batch := &models.EventBatch{
		Source:    a.cfg.Source,
		FetchedAt: now,
	}
	batch.WindowStart, batch.WindowEnd = batchWindow(a.cfg, now)

	for _, row := range rows {
		ev, err := a.normalize(row)
		if err != nil {
			// Bad rows are dropped here with their reason preserved in
			// the archived payload; they never reach the core.
			continue
		}
		batch.Events = append(batch.Events, *ev)
	}
	return batch, data, nil
}

func (a *CSVAdapter) normalize(row csvRow) (*models.SourceEvent, error) {
	if row.PropertyID == "" {
		return nil, fmt.Errorf("row missing property_id")
	}

	checkIn, err := parseCSVDate(row.Arrival)
	if err != nil {
		return nil, fmt.Errorf("arrival: %w", err)
	}

	var checkOut *time.Time
	if row.Departure != "" {
		d, err := parseCSVDate(row.Departure)
		if err != nil {
			return nil, fmt.Errorf("departure: %w", err)
		}
		checkOut = &d
	}

	entry := models.EntryReservation
	if strings.EqualFold(strings.TrimSpace(row.Kind), "block") {
		entry = models.EntryBlock
	}

	raw, _ := json.Marshal(row)
	return &models.SourceEvent{
		Source:     a.cfg.Source,
		PropertyID: row.PropertyID,
		Token:      row.ReservationID,
		EntryType:  entry,
		GuestName:  row.GuestName,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		RawFields:  raw,
	}, nil
}

// parseCSVDate accepts the date layouts the export has been seen to use.
func parseCSVDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "01/02/2006", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return models.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
