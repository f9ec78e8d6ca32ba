package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"turnsync/config"
	"turnsync/models"
)

// memStore is an in-memory RecordStore for tests.
type memStore struct {
	mu        sync.Mutex
	records   map[uuid.UUID]*models.ReservationRecord
	history   []*models.HistoryEntry
	conflicts []*models.RecordConflict
	failWrite bool
}

func newMemStore() *memStore {
	return &memStore{records: make(map[uuid.UUID]*models.ReservationRecord)}
}

func (m *memStore) ActiveByIdentityKey(_ context.Context, key string) (*models.ReservationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.IdentityKey == key && rec.Status.Active() {
			return rec, nil
		}
	}
	return nil, nil
}

func (m *memStore) LatestByIdentityKey(_ context.Context, key string) (*models.ReservationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.ReservationRecord
	for _, rec := range m.records {
		if rec.IdentityKey != key {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	return latest, nil
}

func (m *memStore) ActiveForProperty(_ context.Context, propertyID string) ([]*models.ReservationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ReservationRecord
	for _, rec := range m.records {
		if rec.PropertyID == propertyID && rec.Status.Active() {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckIn.Equal(out[j].CheckIn) {
			return out[i].CheckIn.Before(out[j].CheckIn)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memStore) ActiveForSource(_ context.Context, source models.Source) ([]*models.ReservationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ReservationRecord
	for _, rec := range m.records {
		if rec.Source == source && rec.Status.Active() {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckIn.Before(out[j].CheckIn) })
	return out, nil
}

func (m *memStore) Transition(_ context.Context, demote, create *models.ReservationRecord, history []*models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return fmt.Errorf("simulated write failure")
	}
	if demote != nil {
		cp := *demote
		m.records[cp.ID] = &cp
	}
	if create != nil {
		cp := *create
		m.records[cp.ID] = &cp
	}
	m.history = append(m.history, history...)
	return nil
}

func (m *memStore) UpdateDerived(_ context.Context, rec *models.ReservationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[cp.ID] = &cp
	return nil
}

func (m *memStore) TouchLastSeen(_ context.Context, id uuid.UUID, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.LastSeenAt = t
	}
	return nil
}

func (m *memStore) SetExternalJobRef(_ context.Context, id uuid.UUID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok && rec.ExternalJobRef == nil {
		rec.ExternalJobRef = &ref
	}
	return nil
}

func (m *memStore) AppendHistory(_ context.Context, entry *models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, entry)
	return nil
}

func (m *memStore) InsertConflict(_ context.Context, c *models.RecordConflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = append(m.conflicts, c)
	return nil
}

func (m *memStore) ActiveMissingJobRef(_ context.Context) ([]*models.ReservationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ReservationRecord
	for _, rec := range m.records {
		if rec.Status.Active() && rec.ExternalJobRef == nil && rec.ScheduledServiceTime != nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledServiceTime.Before(*out[j].ScheduledServiceTime)
	})
	return out, nil
}

func (m *memStore) activeCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.IdentityKey == key && rec.Status.Active() {
			n++
		}
	}
	return n
}

func (m *memStore) statusOf(id uuid.UUID) models.RecordStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		return rec.Status
	}
	return ""
}

// fakeJobSystem implements JobSystem for tests.
type fakeJobSystem struct {
	mu       sync.Mutex
	created  []*models.JobRequest
	unlinked []models.Job
	nextRef  int
}

func (f *fakeJobSystem) CreateJob(_ context.Context, req *models.JobRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	f.nextRef++
	return fmt.Sprintf("job-%d", f.nextRef), nil
}

func (f *fakeJobSystem) ListUnlinkedJobs(_ context.Context, propertyID string, from, to time.Time) ([]models.Job, error) {
	var out []models.Job
	for _, j := range f.unlinked {
		if j.PropertyID == propertyID {
			out = append(out, j)
		}
	}
	return out, nil
}

// Test fixtures shared by the service tests.

func testConfig() *config.Config {
	cfg := &config.Config{
		Reconcile: config.ReconcileConfig{
			ProximityMaxDriftDays: 3,
			RotatingSources:       map[models.Source]bool{models.SourcePortal: true},
			OwnerWindowDays:       1,
			LongTermDays:          14,
			JobMatchWindow:        60 * time.Minute,
		},
		Windows: config.WindowConfig{
			DefaultStart:    "11:00",
			DefaultDuration: 2 * time.Hour,
			SameDayStart:    "10:00",
			SameDayDuration: 90 * time.Minute,
			OwnerExtraTime:  time.Hour,
			LongTermBuffer:  time.Hour,
		},
		Properties:     make(map[string]*config.PropertyConfig),
		SourcePriority: make(map[models.Source]int),
	}
	for src, rank := range models.DefaultSourcePriority {
		cfg.SourcePriority[src] = rank
	}
	return cfg
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

func event(src models.Source, property, token string, entry models.EntryType, checkIn time.Time, checkOut *time.Time) *models.SourceEvent {
	return &models.SourceEvent{
		Source:     src,
		PropertyID: property,
		Token:      token,
		EntryType:  entry,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
	}
}
