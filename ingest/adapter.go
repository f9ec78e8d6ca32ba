package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"turnsync/config"
	"turnsync/models"
)

// Adapter turns one source's export into a normalized event batch. All
// format quirks stay behind this boundary; the reconciliation core only
// ever sees models.SourceEvent. Fetch also returns the raw payload so
// the orchestrator can archive exactly what the source said.
type Adapter interface {
	Source() models.Source
	Fetch(ctx context.Context) (*models.EventBatch, []byte, error)
}

// NewAdapter builds the adapter for a source config.
func NewAdapter(cfg *config.SourceConfig) (Adapter, error) {
	switch cfg.Kind {
	case "csv":
		return NewCSVAdapter(cfg), nil
	case "ics":
		return NewICSAdapter(cfg), nil
	case "portal":
		return NewPortalAdapter(cfg), nil
	}
	return nil, fmt.Errorf("unknown adapter kind %q for source %s", cfg.Kind, cfg.ID)
}

// batchWindow computes the date window a source export covers, from the
// configured past/future day spans around the fetch time.
func batchWindow(cfg *config.SourceConfig, fetchedAt time.Time) (time.Time, time.Time) {
	past := cfg.WindowPastDays
	future := cfg.WindowFutureDays
	if future == 0 {
		future = 365
	}
	day := models.Day(fetchedAt)
	return day.AddDate(0, 0, -past), day.AddDate(0, 0, future)
}

// loadLocation reads a source location: an http(s) feed URL or a local
// file path.
func loadLocation(ctx context.Context, location string) ([]byte, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, err
		}
		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTransientNetwork, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: status %d", location, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(location)
}
