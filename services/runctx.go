package services

import (
	"sync"
	"time"

	"turnsync/config"
	"turnsync/models"
)

// RunContext carries all run-scoped state: the config snapshot, the
// source priority table, the in-memory session dedup set, and the set of
// identities re-identified by proximity matching this run. It is built
// fresh for every batch run and passed explicitly; nothing here is
// global, and nothing survives the run except what the store persisted.
type RunContext struct {
	Cfg *config.Config
	Now time.Time

	mu           sync.Mutex
	session      map[string]*models.ReservationRecord
	reidentified map[string]bool
	touched      map[string]bool
	locks        map[string]*sync.Mutex
}

func NewRunContext(cfg *config.Config, now time.Time) *RunContext {
	return &RunContext{
		Cfg:          cfg,
		Now:          now,
		session:      make(map[string]*models.ReservationRecord),
		reidentified: make(map[string]bool),
		touched:      make(map[string]bool),
		locks:        make(map[string]*sync.Mutex),
	}
}

// Priority returns the authority rank of a source for this run.
func (rc *RunContext) Priority(src models.Source) int {
	return rc.Cfg.Priority(src)
}

// SessionRecord returns the record already written for a key in this run,
// if any. Catches sources that reissue a token with changed dates inside
// a single feed, which would otherwise create-then-demote in one pass.
func (rc *RunContext) SessionRecord(key string) *models.ReservationRecord {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.session[key]
}

// RememberSession registers the record now active for a key.
func (rc *RunContext) RememberSession(key string, rec *models.ReservationRecord) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.session[key] = rec
}

// SeenKeys returns every identity key touched by ingestion this run.
func (rc *RunContext) Seen(key string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_, ok := rc.session[key]
	return ok
}

// MarkReidentified flags an identity whose record was matched by
// proximity under a different token this run. The removal sweep must not
// remove it: the source rotated the token, the booking still exists.
func (rc *RunContext) MarkReidentified(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.reidentified[key] = true
}

func (rc *RunContext) Reidentified(key string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.reidentified[key]
}

// TouchProperty marks a property's record set as changed so derivation
// revisits it at the end of the run.
func (rc *RunContext) TouchProperty(propertyID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.touched[propertyID] = true
}

// TouchedProperties returns the properties whose records changed.
func (rc *RunContext) TouchedProperties() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, 0, len(rc.touched))
	for id := range rc.touched {
		out = append(out, id)
	}
	return out
}

// PropertyLock returns the mutex serializing writes for one property.
// Sources ingest concurrently, but records sharing a property must never
// interleave: next-occupant derivation reads siblings.
func (rc *RunContext) PropertyLock(propertyID string) *sync.Mutex {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	l, ok := rc.locks[propertyID]
	if !ok {
		l = &sync.Mutex{}
		rc.locks[propertyID] = l
	}
	return l
}
