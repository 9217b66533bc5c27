package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

type recordingSink struct {
	mu        sync.Mutex
	readings  []model.SensorReading
	snapshots []model.ActuatorSnapshot
	err       error
	// block, when set, holds every call until ctx ends.
	block bool
}

func (s *recordingSink) Reading(ctx context.Context, r model.SensorReading) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return s.err
}

func (s *recordingSink) Snapshot(ctx context.Context, snap model.ActuatorSnapshot) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return s.err
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings), len(s.snapshots)
}

func runMirror(t *testing.T, m *Mirror) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMirrorForwardsStoredRows(t *testing.T) {
	sink := &recordingSink{}
	m := NewMirror(NewMemoryStore(), sink, 0, 0, zap.NewNop().Sugar())
	runMirror(t, m)
	ctx := context.Background()

	r, err := m.AppendReading(ctx, model.SensorReading{Temperature: 19})
	require.NoError(t, err)
	_, err = m.AppendSnapshot(ctx, model.DefaultActuatorState())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		nr, ns := sink.counts()
		return nr == 1 && ns == 1
	}, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Equal(t, r.ID, sink.readings[0].ID)
	sink.mu.Unlock()

	n, err := m.CountReadings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "reads pass through to the inner store")
}

func TestMirrorSinkFailureDoesNotFailAppend(t *testing.T) {
	sink := &recordingSink{err: errors.New("kafka down")}
	m := NewMirror(NewMemoryStore(), sink, 0, 0, zap.NewNop().Sugar())
	runMirror(t, m)

	_, err := m.AppendReading(context.Background(), model.SensorReading{})

	assert.NoError(t, err)
}

func TestMirrorSkipsSinkWhenAppendFails(t *testing.T) {
	sink := &recordingSink{}
	inner := &brokenStore{MemoryStore: NewMemoryStore(), failWr: true}
	m := NewMirror(inner, sink, 0, 0, zap.NewNop().Sugar())

	_, err := m.AppendReading(context.Background(), model.SensorReading{})

	assert.ErrorIs(t, err, errBackend)
	assert.Empty(t, m.queue)
}

func TestMirrorStalledSinkDoesNotDelayAppends(t *testing.T) {
	sink := &recordingSink{block: true}
	m := NewMirror(NewMemoryStore(), sink, 2, time.Minute, zap.NewNop().Sugar())
	runMirror(t, m)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		_, err := m.AppendReading(ctx, model.SensorReading{Temperature: float64(i)})
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	n, err := m.CountReadings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n, "rows beyond the queue are dropped from the export only")
}
