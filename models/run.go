package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// SyncRun is one source-ingestion execution record.
type SyncRun struct {
	ID           int64      `json:"id" db:"id"`
	Source       string     `json:"source" db:"source"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at" db:"finished_at"`
	Status       RunStatus  `json:"status" db:"status"`
	EventsSeen   int        `json:"events_seen" db:"events_seen"`
	Created      int        `json:"created" db:"created"`
	Modified     int        `json:"modified" db:"modified"`
	Removed      int        `json:"removed" db:"removed"`
	Conflicts    int        `json:"conflicts" db:"conflicts"`
	ErrorsCount  int        `json:"errors_count" db:"errors_count"`
	ErrorMessage string     `json:"error_message" db:"error_message"`
}

// RunSummary aggregates per-record outcomes across one run. It is emitted
// regardless of partial failure so operators can see exactly what
// happened on a degraded run.
type RunSummary struct {
	EventsSeen int
	Created    int
	Modified   int
	Unchanged  int
	Removed    int
	Conflicts  int
	Ambiguous  int
	Errors     int
}

// Add merges another summary into this one.
func (s *RunSummary) Add(o RunSummary) {
	s.EventsSeen += o.EventsSeen
	s.Created += o.Created
	s.Modified += o.Modified
	s.Unchanged += o.Unchanged
	s.Removed += o.Removed
	s.Conflicts += o.Conflicts
	s.Ambiguous += o.Ambiguous
	s.Errors += o.Errors
}

// ToJSON returns JSON-serializable run metadata.
func (s *RunSummary) ToJSON() json.RawMessage {
	data, _ := json.Marshal(map[string]int{
		"events_seen": s.EventsSeen,
		"created":     s.Created,
		"modified":    s.Modified,
		"unchanged":   s.Unchanged,
		"removed":     s.Removed,
		"conflicts":   s.Conflicts,
		"ambiguous":   s.Ambiguous,
		"errors":      s.Errors,
	})
	return data
}

// LogLevel for per-run log rows.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// RunLog is a log entry attached to a sync run.
type RunLog struct {
	ID        int64     `json:"id" db:"id"`
	RunID     *int64    `json:"run_id" db:"run_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Level     LogLevel  `json:"level" db:"level"`
	Message   string    `json:"message" db:"message"`
	Source    string    `json:"source" db:"source"`
}
