package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

// Sink receives a copy of every row successfully appended.
type Sink interface {
	Reading(ctx context.Context, r model.SensorReading) error
	Snapshot(ctx context.Context, s model.ActuatorSnapshot) error
}

// mirrored holds exactly one of its fields.
type mirrored struct {
	reading  *model.SensorReading
	snapshot *model.ActuatorSnapshot
}

// Mirror forwards appended rows to a Sink after the inner store accepted
// them. Appends only enqueue the copy; a single exporter started with Run
// drains the queue, so a slow or unreachable sink never delays the write
// path. Sink failures and queue overflow are logged and never fail the
// append.
type Mirror struct {
	Store
	sink    Sink
	queue   chan mirrored
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewMirror(inner Store, sink Sink, queueSize int, timeout time.Duration, log *zap.SugaredLogger) *Mirror {
	if queueSize < 1 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Mirror{Store: inner, sink: sink, queue: make(chan mirrored, queueSize), timeout: timeout, log: log}
}

func (m *Mirror) AppendReading(ctx context.Context, r model.SensorReading) (model.SensorReading, error) {
	out, err := m.Store.AppendReading(ctx, r)
	if err != nil {
		return out, err
	}
	m.enqueue(mirrored{reading: &out}, "reading", out.ID)
	return out, nil
}

func (m *Mirror) AppendSnapshot(ctx context.Context, s model.ActuatorState) (model.ActuatorSnapshot, error) {
	out, err := m.Store.AppendSnapshot(ctx, s)
	if err != nil {
		return out, err
	}
	m.enqueue(mirrored{snapshot: &out}, "snapshot", out.ID)
	return out, nil
}

func (m *Mirror) enqueue(item mirrored, kind string, id int64) {
	select {
	case m.queue <- item:
	default:
		m.log.Warnf("store: mirror queue full, dropped %s %d", kind, id)
	}
}

// Run exports queued rows until ctx is cancelled. Rows still queued at
// that point are not exported.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-m.queue:
			m.export(ctx, item)
		}
	}
}

func (m *Mirror) export(ctx context.Context, item mirrored) {
	sctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	switch {
	case item.reading != nil:
		if err := m.sink.Reading(sctx, *item.reading); err != nil {
			m.log.Warnf("store: mirror reading %d: %v", item.reading.ID, err)
		}
	case item.snapshot != nil:
		if err := m.sink.Snapshot(sctx, *item.snapshot); err != nil {
			m.log.Warnf("store: mirror snapshot %d: %v", item.snapshot.ID, err)
		}
	}
}
