package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smarthome/internal/metrics"
	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

type BreakerConfig struct {
	// Failures is the number of consecutive read failures that opens the breaker.
	Failures int
	// OpenFor is how long the breaker stays open before a trial request.
	OpenFor time.Duration
	// Interval resets the closed-state counts; 0 never resets.
	Interval time.Duration
}

// Guarded wraps a Store. Reads go through a circuit breaker so a backend
// outage fails fast instead of stalling every request; writes always reach
// the backend so their failure is reported to the caller. Every call is
// timed, and the age of the last write error is kept for readiness.
type Guarded struct {
	inner   Store
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.Metrics

	mu           sync.RWMutex
	lastWriteErr time.Time
}

var _ Store = (*Guarded)(nil)

func NewGuarded(inner Store, cfg BreakerConfig, log *zap.SugaredLogger, m *metrics.Metrics) *Guarded {
	if cfg.Failures < 1 {
		cfg.Failures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 10 * time.Second
	}
	fails := uint32(cfg.Failures)
	g := &Guarded{inner: inner, metrics: m}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "store-read",
		Interval: cfg.Interval,
		Timeout:  cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("store: breaker %s %s -> %s", name, from, to)
			m.BreakerState(name, int(to))
		},
	})
	m.BreakerState("store-read", int(gobreaker.StateClosed))
	return g
}

// State exposes the read breaker state.
func (g *Guarded) State() gobreaker.State { return g.cb.State() }

// LastWriteErrorAge reports how long ago the last write failed, or a very
// large duration if none ever did.
func (g *Guarded) LastWriteErrorAge() time.Duration {
	g.mu.RLock()
	t := g.lastWriteErr
	g.mu.RUnlock()
	if t.IsZero() {
		return 99999 * time.Hour
	}
	return time.Since(t)
}

func (g *Guarded) observeWrite(op string, start time.Time, err error) {
	g.metrics.StoreOp(op, time.Since(start), err)
	if err != nil {
		g.mu.Lock()
		g.lastWriteErr = time.Now()
		g.mu.Unlock()
	}
}

func guardRead[T any](g *Guarded, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	res, err := g.cb.Execute(func() (any, error) { return fn() })
	g.metrics.StoreOp(op, time.Since(start), err)
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (g *Guarded) AppendReading(ctx context.Context, r model.SensorReading) (model.SensorReading, error) {
	start := time.Now()
	out, err := g.inner.AppendReading(ctx, r)
	g.observeWrite("append_reading", start, err)
	return out, err
}

func (g *Guarded) AppendSnapshot(ctx context.Context, s model.ActuatorState) (model.ActuatorSnapshot, error) {
	start := time.Now()
	out, err := g.inner.AppendSnapshot(ctx, s)
	g.observeWrite("append_snapshot", start, err)
	return out, err
}

func (g *Guarded) Prune(ctx context.Context, before time.Time) (int, error) {
	start := time.Now()
	n, err := g.inner.Prune(ctx, before)
	g.observeWrite("prune", start, err)
	return n, err
}

func (g *Guarded) LatestSnapshot(ctx context.Context) (model.ActuatorSnapshot, error) {
	return guardRead(g, "latest_snapshot", func() (model.ActuatorSnapshot, error) { return g.inner.LatestSnapshot(ctx) })
}

func (g *Guarded) LatestReadings(ctx context.Context, limit int) ([]model.SensorReading, error) {
	return guardRead(g, "latest_readings", func() ([]model.SensorReading, error) { return g.inner.LatestReadings(ctx, limit) })
}

func (g *Guarded) ReadingsSince(ctx context.Context, since time.Time) ([]model.SensorReading, error) {
	return guardRead(g, "readings_since", func() ([]model.SensorReading, error) { return g.inner.ReadingsSince(ctx, since) })
}

func (g *Guarded) CountReadings(ctx context.Context) (int, error) {
	return guardRead(g, "count_readings", func() (int, error) { return g.inner.CountReadings(ctx) })
}

func (g *Guarded) Ping(ctx context.Context) error {
	_, err := guardRead(g, "ping", func() (struct{}, error) { return struct{}{}, g.inner.Ping(ctx) })
	return err
}

func (g *Guarded) Close() error { return g.inner.Close() }
