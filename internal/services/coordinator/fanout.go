package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smarthome/internal/metrics"
	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

// Conn is one live subscriber. Send must be safe for concurrent use and
// must honour ctx.
type Conn interface {
	ID() string
	Send(ctx context.Context, ev model.Event) error
	Close() error
}

// Hub fans events out to every registered subscriber. Producers call
// Publish, which never blocks; a single dispatcher started with Run drains
// the queue and calls Broadcast, so each subscriber sees events in the
// order they were published.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Conn

	queue        chan model.Event
	writeTimeout time.Duration

	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewHub(queueSize int, writeTimeout time.Duration, log *zap.SugaredLogger, m *metrics.Metrics) *Hub {
	if queueSize < 1 {
		queueSize = 256
	}
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	return &Hub{
		conns:        make(map[string]Conn),
		queue:        make(chan model.Event, queueSize),
		writeTimeout: writeTimeout,
		log:          log,
		metrics:      m,
	}
}

// Register sends the connection acknowledgement and only then adds c to the
// broadcast set, so a client never receives its own welcome as a broadcast.
func (h *Hub) Register(ctx context.Context, c Conn) error {
	sendCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	if err := c.Send(sendCtx, model.ConnectedEvent()); err != nil {
		_ = c.Close()
		return &TransportError{Target: "subscriber " + c.ID(), Err: err}
	}

	h.mu.Lock()
	h.conns[c.ID()] = c
	n := len(h.conns)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	h.log.Infof("hub: subscriber %s registered (%d total)", c.ID(), n)
	return nil
}

// Unregister removes c if present. It does not close the connection.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	_, ok := h.conns[c.ID()]
	delete(h.conns, c.ID())
	n := len(h.conns)
	h.mu.Unlock()

	if ok {
		h.metrics.SetSubscribers(n)
		h.log.Infof("hub: subscriber %s unregistered (%d left)", c.ID(), n)
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish enqueues ev for broadcast without blocking. It reports false when
// the queue is full and the event was dropped.
func (h *Hub) Publish(ev model.Event) bool {
	select {
	case h.queue <- ev:
		return true
	default:
		h.metrics.EventDropped()
		h.log.Warnf("hub: queue full, dropped %s event", ev.Type)
		return false
	}
}

// Run drains the queue until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.queue:
			h.Broadcast(ctx, ev)
		}
	}
}

// Broadcast delivers ev to every subscriber concurrently, each write bounded
// by the write timeout. Subscribers whose delivery fails are removed and
// closed; the others are unaffected. It returns the number of successful
// deliveries.
func (h *Hub) Broadcast(ctx context.Context, ev model.Event) int {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, c := range targets {
		wg.Add(1)
		go func(i int, c Conn) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			defer cancel()
			errs[i] = c.Send(sendCtx, ev)
		}(i, c)
	}
	wg.Wait()

	delivered := 0
	for i, err := range errs {
		if err == nil {
			delivered++
			continue
		}
		h.prune(targets[i], &TransportError{Target: "subscriber " + targets[i].ID(), Err: err})
	}
	h.metrics.EventBroadcast(string(ev.Type))
	return delivered
}

func (h *Hub) prune(c Conn, err error) {
	h.mu.Lock()
	_, ok := h.conns[c.ID()]
	delete(h.conns, c.ID())
	n := len(h.conns)
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = c.Close()
	h.metrics.SubscriberPruned()
	h.metrics.SetSubscribers(n)
	h.log.Warnf("hub: removed subscriber after failed delivery: %v", err)
}

// CloseAll closes and forgets every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]Conn)
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	h.metrics.SetSubscribers(0)
}
