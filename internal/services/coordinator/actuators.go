package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
	"github.com/LeonardoBeccarini/smarthome/internal/services/persistence"
)

// SnapshotStore is the slice of persistence.Store the actuator store needs.
type SnapshotStore interface {
	AppendSnapshot(ctx context.Context, s model.ActuatorState) (model.ActuatorSnapshot, error)
	LatestSnapshot(ctx context.Context) (model.ActuatorSnapshot, error)
}

// ActuatorStore caches the authoritative actuator state. Every Apply
// persists the merged snapshot first and only then advances the cache, so
// readers never see a state that was not durably recorded.
type ActuatorStore struct {
	// writeMu serialises Apply so merges never race; it is held across the
	// persist call. mu guards only the cache and is never held during I/O.
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   model.ActuatorState

	store   SnapshotStore
	timeout time.Duration
}

func NewActuatorStore(store SnapshotStore, timeout time.Duration) *ActuatorStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ActuatorStore{state: model.DefaultActuatorState(), store: store, timeout: timeout}
}

// Load seeds the cache from the latest persisted snapshot. A missing
// snapshot keeps the defaults.
func (s *ActuatorStore) Load(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	snap, err := s.store.LatestSnapshot(ctx)
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &PersistenceError{Op: "load snapshot", Err: err}
	}
	state := snap.State.Clone()
	if state.LEDs == nil {
		state.LEDs = map[string]bool{}
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return true, nil
}

// Get returns a copy of the last known state.
func (s *ActuatorStore) Get() model.ActuatorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Apply merges patch over the current state, persists the result and
// returns it together with the state it replaced.
func (s *ActuatorStore) Apply(ctx context.Context, patch model.ActuatorPatch) (prev, next model.ActuatorState, err error) {
	return s.ApplyIf(ctx, patch, nil)
}

// ApplyIf is Apply guarded by check, which runs under the write lock. A
// check failure is returned as is and nothing is written.
func (s *ActuatorStore) ApplyIf(ctx context.Context, patch model.ActuatorPatch, check func() error) (prev, next model.ActuatorState, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if check != nil {
		if err := check(); err != nil {
			cur := s.Get()
			return cur, cur, err
		}
	}

	prev = s.Get()
	next = patch.Merge(prev)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.store.AppendSnapshot(ctx, next); err != nil {
		return prev, prev, &PersistenceError{Op: "append snapshot", Err: err}
	}

	s.mu.Lock()
	s.state = next.Clone()
	s.mu.Unlock()
	return prev, next, nil
}

// Exclusive runs fn while no Apply is in progress.
func (s *ActuatorStore) Exclusive(fn func()) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	fn()
}
