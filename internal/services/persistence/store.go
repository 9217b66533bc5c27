// Package persistence is the durable side of the coordinator: an append-only
// log of sensor readings and an append-only log of actuator snapshots.
// "Current" state is always the most recent row.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

// ErrNotFound is returned by reads that find no row.
var ErrNotFound = errors.New("persistence: not found")

// Store is implemented by every backend.
type Store interface {
	// AppendReading stores r and returns it with its assigned ID. A zero
	// ObservedAt is stamped with the insert time.
	AppendReading(ctx context.Context, r model.SensorReading) (model.SensorReading, error)
	// AppendSnapshot stores a full actuator state stamped with the insert time.
	AppendSnapshot(ctx context.Context, s model.ActuatorState) (model.ActuatorSnapshot, error)
	// LatestSnapshot returns ErrNotFound when no snapshot exists.
	LatestSnapshot(ctx context.Context) (model.ActuatorSnapshot, error)
	// LatestReadings returns up to limit readings, newest first.
	LatestReadings(ctx context.Context, limit int) ([]model.SensorReading, error)
	// ReadingsSince returns every reading observed at or after since, newest first.
	ReadingsSince(ctx context.Context, since time.Time) ([]model.SensorReading, error)
	// CountReadings returns the number of stored readings.
	CountReadings(ctx context.Context) (int, error)
	// Prune deletes readings and snapshots older than before and returns
	// how many rows went away.
	Prune(ctx context.Context, before time.Time) (int, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// LatestReading is a convenience over LatestReadings(ctx, 1).
func LatestReading(ctx context.Context, s Store) (model.SensorReading, error) {
	rs, err := s.LatestReadings(ctx, 1)
	if err != nil {
		return model.SensorReading{}, err
	}
	if len(rs) == 0 {
		return model.SensorReading{}, ErrNotFound
	}
	return rs[0], nil
}

func stamp(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now().UTC()
	}
	return t.UTC()
}
