package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

// MemoryStore keeps both logs in process memory. It is the default backend
// and the one used in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	readings  []model.SensorReading
	snapshots []model.ActuatorSnapshot
	nextID    int64
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// WithClock replaces the insert-time source.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) AppendReading(_ context.Context, r model.SensorReading) (model.SensorReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	r.ObservedAt = stamp(r.ObservedAt, m.now)
	if r.Distance != nil {
		d := *r.Distance
		r.Distance = &d
	}
	m.readings = append(m.readings, r)
	return r, nil
}

func (m *MemoryStore) AppendSnapshot(_ context.Context, s model.ActuatorState) (model.ActuatorSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	snap := model.ActuatorSnapshot{ID: m.nextID, State: s.Clone(), RecordedAt: m.now().UTC()}
	m.snapshots = append(m.snapshots, snap)
	return snap, nil
}

func (m *MemoryStore) LatestSnapshot(_ context.Context) (model.ActuatorSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.snapshots) == 0 {
		return model.ActuatorSnapshot{}, ErrNotFound
	}
	snap := m.snapshots[len(m.snapshots)-1]
	snap.State = snap.State.Clone()
	return snap, nil
}

// Snapshots returns the whole snapshot log, oldest first.
func (m *MemoryStore) Snapshots() []model.ActuatorSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ActuatorSnapshot, len(m.snapshots))
	for i, s := range m.snapshots {
		s.State = s.State.Clone()
		out[i] = s
	}
	return out
}

// newestFirst copies the readings in reverse insertion order; ties on
// ObservedAt keep insertion order.
func (m *MemoryStore) newestFirst(keep func(model.SensorReading) bool) []model.SensorReading {
	out := make([]model.SensorReading, 0, len(m.readings))
	for i := len(m.readings) - 1; i >= 0; i-- {
		if keep(m.readings[i]) {
			out = append(out, m.readings[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	return out
}

func (m *MemoryStore) LatestReadings(_ context.Context, limit int) ([]model.SensorReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.newestFirst(func(model.SensorReading) bool { return true })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ReadingsSince(_ context.Context, since time.Time) ([]model.SensorReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.newestFirst(func(r model.SensorReading) bool { return !r.ObservedAt.Before(since) }), nil
}

func (m *MemoryStore) CountReadings(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.readings), nil
}

func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	readings := m.readings[:0]
	for _, r := range m.readings {
		if r.ObservedAt.Before(before) {
			removed++
			continue
		}
		readings = append(readings, r)
	}
	m.readings = readings

	// The newest snapshot is the current state and always survives.
	snapshots := m.snapshots[:0]
	for i, s := range m.snapshots {
		if s.RecordedAt.Before(before) && i < len(m.snapshots)-1 {
			removed++
			continue
		}
		snapshots = append(snapshots, s)
	}
	m.snapshots = snapshots
	return removed, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
