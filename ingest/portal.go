package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"turnsync/config"
	"turnsync/models"
)

// PortalAdapter ingests the scraped portal export: a JSON array dumped
// by the portal scraper. The portal regenerates entry ids on every
// export and sometimes flattens object fields to bare strings; both
// quirks are normalized away here so the core never branches on shape.
type PortalAdapter struct {
	cfg *config.SourceConfig
}

func NewPortalAdapter(cfg *config.SourceConfig) *PortalAdapter {
	return &PortalAdapter{cfg: cfg}
}

func (a *PortalAdapter) Source() models.Source {
	return a.cfg.Source
}

// flexName decodes upstream fields that arrive either as a plain string
// or as an object carrying a name.
type flexName struct {
	Value string
}

func (f *flexName) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f.Value = s
		return nil
	}
	var obj struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Name != "" {
		f.Value = obj.Name
	} else {
		f.Value = obj.ID
	}
	return nil
}

type portalEntry struct {
	EntryID   string   `json:"entry_id"`
	Property  flexName `json:"property"`
	Guest     flexName `json:"guest"`
	Kind      string   `json:"kind"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
}

func (a *PortalAdapter) Fetch(ctx context.Context) (*models.EventBatch, []byte, error) {
	data, err := loadLocation(ctx, a.cfg.Location)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", a.cfg.Location, err)
	}

	var entries []portalEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil, fmt.Errorf("decode portal export %s: %w", a.cfg.ID, err)
	}

	now := time.Now()
	batch := &models.EventBatch{
		Source:    a.cfg.Source,
		FetchedAt: now,
	}
	batch.WindowStart, batch.WindowEnd = batchWindow(a.cfg, now)

	for _, entry := range entries {
		ev, err := a.normalize(entry)
		if err != nil {
			continue
		}
		batch.Events = append(batch.Events, *ev)
	}
	return batch, data, nil
}

func (a *PortalAdapter) normalize(entry portalEntry) (*models.SourceEvent, error) {
	if entry.Property.Value == "" {
		return nil, fmt.Errorf("entry missing property")
	}

	checkIn, err := time.Parse("2006-01-02", entry.StartDate)
	if err != nil {
		return nil, fmt.Errorf("start_date: %w", err)
	}

	var checkOut *time.Time
	if entry.EndDate != "" {
		d, err := time.Parse("2006-01-02", entry.EndDate)
		if err != nil {
			return nil, fmt.Errorf("end_date: %w", err)
		}
		day := models.Day(d)
		checkOut = &day
	}

	entryType := models.EntryReservation
	if strings.EqualFold(entry.Kind, "block") || strings.EqualFold(entry.Kind, "owner_block") {
		entryType = models.EntryBlock
	}

	raw, _ := json.Marshal(entry)
	return &models.SourceEvent{
		Source:     a.cfg.Source,
		PropertyID: entry.Property.Value,
		Token:      entry.EntryID,
		EntryType:  entryType,
		GuestName:  entry.Guest.Value,
		CheckIn:    models.Day(checkIn),
		CheckOut:   checkOut,
		RawFields:  raw,
	}, nil
}
