package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
	"github.com/LeonardoBeccarini/smarthome/internal/services/persistence"
	"github.com/LeonardoBeccarini/smarthome/pkg/mqttbus"
)

type published struct {
	topic   string
	payload string
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, payload: string(payload)})
	return p.err
}

func (p *fakePublisher) sent() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

// flakyStore fails the selected operations and delegates the rest.
type flakyStore struct {
	*persistence.MemoryStore
	failReadings  bool
	failSnapshots bool
}

var errStoreDown = errors.New("store down")

func (s *flakyStore) AppendReading(ctx context.Context, r model.SensorReading) (model.SensorReading, error) {
	if s.failReadings {
		return model.SensorReading{}, errStoreDown
	}
	return s.MemoryStore.AppendReading(ctx, r)
}

func (s *flakyStore) AppendSnapshot(ctx context.Context, st model.ActuatorState) (model.ActuatorSnapshot, error) {
	if s.failSnapshots {
		return model.ActuatorSnapshot{}, errStoreDown
	}
	return s.MemoryStore.AppendSnapshot(ctx, st)
}

func (s *flakyStore) LatestReadings(ctx context.Context, limit int) ([]model.SensorReading, error) {
	if s.failReadings {
		return nil, errStoreDown
	}
	return s.MemoryStore.LatestReadings(ctx, limit)
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []model.Event
	closed bool
	delay  time.Duration
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, ev model.Event) error {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("use of closed connection")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Event(nil), c.events...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fixture struct {
	c     *Coordinator
	store *flakyStore
	pub   *fakePublisher
	hub   *Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := &flakyStore{MemoryStore: persistence.NewMemoryStore()}
	pub := &fakePublisher{}
	hub := NewHub(64, time.Second, log, nil)
	c := New(store, pub, hub, mqttbus.Topics{}, Options{}, log, nil)
	return &fixture{c: c, store: store, pub: pub, hub: hub}
}

// queued drains every event waiting in the hub queue.
func queued(h *Hub) []model.Event {
	var out []model.Event
	for {
		select {
		case ev := <-h.queue:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofType(evs []model.Event, t model.EventType) []model.Event {
	var out []model.Event
	for _, ev := range evs {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// gatedPublisher blocks publishes to one topic until release is closed.
type gatedPublisher struct {
	fakePublisher
	topic   string
	entered chan struct{}
	release chan struct{}
}

func newGatedPublisher(topic string) *gatedPublisher {
	return &gatedPublisher{topic: topic, entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (p *gatedPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == p.topic {
		p.entered <- struct{}{}
		<-p.release
	}
	return p.fakePublisher.Publish(ctx, topic, payload)
}
