package models

import "time"

// Job is a field-service job as reported by the external job system.
type Job struct {
	Ref          string     `json:"ref"`
	PropertyID   string     `json:"property_id"`
	ServiceType  ServiceType `json:"service_type"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	Description  string     `json:"description"`
	RecordLinked bool       `json:"record_linked"`
}

// JobRequest is the payload sent to the job system when a record reaches
// New or Modified with complete required fields.
type JobRequest struct {
	PropertyID   string      `json:"property_id"`
	ServiceType  ServiceType `json:"service_type"`
	ScheduledAt  time.Time   `json:"scheduled_at"`
	Description  string      `json:"description"`
	IdentityKey  string      `json:"identity_key"`
}

// AmbiguousJob records an unlinked job with two or more equally close
// candidate records; it is surfaced for manual resolution, never
// auto-matched.
type AmbiguousJob struct {
	Job        Job
	Candidates []string // identity keys, closest first
}
