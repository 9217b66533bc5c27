package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
	"github.com/LeonardoBeccarini/smarthome/internal/services/persistence"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
	MaxHistoryHours     = 720
	DefaultStatsWindow  = 24 * time.Hour
)

// LatestView is the latest reading together with the current actuator
// state and mode.
type LatestView struct {
	Reading   model.SensorReading `json:"sensor_data"`
	Actuators model.ActuatorState `json:"actuators"`
	Mode      model.SystemMode    `json:"mode"`
}

// Latest returns persistence.ErrNotFound when no reading exists or the
// store cannot be read.
func (c *Coordinator) Latest(ctx context.Context) (LatestView, error) {
	ctx, cancel := context.WithTimeout(ctx, c.persistTimeout)
	defer cancel()
	r, err := persistence.LatestReading(ctx, c.store)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			c.log.Warnf("coordinator: latest reading unavailable: %v", err)
		}
		return LatestView{}, persistence.ErrNotFound
	}
	return LatestView{Reading: r, Actuators: c.actuators.Get(), Mode: c.gate.Mode()}, nil
}

// History returns the last limit readings, or the readings of the last
// hours when hours > 0. Both are clamped. Store failures yield an empty
// slice.
func (c *Coordinator) History(ctx context.Context, limit, hours int) []model.SensorReading {
	ctx, cancel := context.WithTimeout(ctx, c.persistTimeout)
	defer cancel()

	var (
		out []model.SensorReading
		err error
	)
	if hours > 0 {
		hours = clamp(hours, 1, MaxHistoryHours)
		out, err = c.store.ReadingsSince(ctx, c.now().Add(-time.Duration(hours)*time.Hour))
	} else {
		if limit <= 0 {
			limit = DefaultHistoryLimit
		}
		out, err = c.store.LatestReadings(ctx, clamp(limit, 1, MaxHistoryLimit))
	}
	if err != nil {
		c.log.Warnf("coordinator: history unavailable: %v", err)
		return []model.SensorReading{}
	}
	if out == nil {
		out = []model.SensorReading{}
	}
	return out
}

// Window returns the readings observed in the last window, newest first.
func (c *Coordinator) Window(ctx context.Context, window time.Duration) []model.SensorReading {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	ctx, cancel := context.WithTimeout(ctx, c.persistTimeout)
	defer cancel()
	out, err := c.store.ReadingsSince(ctx, c.now().Add(-window))
	if err != nil {
		c.log.Warnf("coordinator: readings window unavailable: %v", err)
		return []model.SensorReading{}
	}
	return out
}

// Stats summarises the last window. Store failures yield empty stats.
func (c *Coordinator) Stats(ctx context.Context, window time.Duration) model.Stats {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	readings := c.Window(ctx, window)

	ctx, cancel := context.WithTimeout(ctx, c.persistTimeout)
	defer cancel()
	total, err := c.store.CountReadings(ctx)
	if err != nil {
		c.log.Warnf("coordinator: reading count unavailable: %v", err)
		total = len(readings)
	}
	return model.ComputeStats(readings, window, total)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
