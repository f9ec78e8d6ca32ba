package models

import (
	"errors"
	"fmt"
)

// Error taxonomy. Per-record errors never abort a batch; run-level errors
// abort before any partial write.
var (
	ErrRateLimited      = errors.New("rate limited")
	ErrTransientNetwork = errors.New("transient network failure")
)

// ValidationError marks an event that cannot be reconciled as-is (missing
// check-out, unknown property). The record is skipped, the run continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// IdentityConflictError marks an ambiguous duplicate that priority rules
// could not resolve. It is surfaced for manual review, never auto-resolved.
type IdentityConflictError struct {
	IdentityKey string
	OtherKey    string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("identity conflict: %s vs %s", e.IdentityKey, e.OtherKey)
}

// PersistenceError marks a write that failed after retries. The record's
// whole transition is rolled back, never partially applied.
type PersistenceError struct {
	IdentityKey string
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.IdentityKey, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
