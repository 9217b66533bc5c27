// Package metrics holds the Prometheus collectors of the coordinator. Every
// method is safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	telemetryTotal    *prometheus.CounterVec
	readingsCompleted prometheus.Counter
	commandsTotal     *prometheus.CounterVec
	publishFailures   *prometheus.CounterVec
	subscribers       prometheus.Gauge
	eventsBroadcast   *prometheus.CounterVec
	eventsDropped     prometheus.Counter
	subscribersPruned prometheus.Counter
	storeDuration     *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers the collectors on reg. A *prometheus.Registry is both the
// registerer and the gatherer served on /metrics.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		telemetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarthome_telemetry_messages_total",
			Help: "Telemetry messages received by sensor and result.",
		}, []string{"sensor", "result"}),
		readingsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smarthome_readings_completed_total",
			Help: "Sensor readings completed by the aggregator.",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarthome_commands_total",
			Help: "Actuator commands by device kind and result.",
		}, []string{"device", "result"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarthome_publish_failures_total",
			Help: "Outbound MQTT publishes that failed, by topic.",
		}, []string{"topic"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smarthome_subscribers",
			Help: "Live subscribers currently registered.",
		}),
		eventsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarthome_events_broadcast_total",
			Help: "Events broadcast to live subscribers, by type.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smarthome_events_dropped_total",
			Help: "Events dropped because the broadcast queue was full.",
		}),
		subscribersPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smarthome_subscribers_pruned_total",
			Help: "Subscribers removed after a failed delivery.",
		}),
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smarthome_store_operation_seconds",
			Help:    "Latency of persistence operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarthome_store_errors_total",
			Help: "Failed persistence operations.",
		}, []string{"op"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smarthome_breaker_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"name"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarthome_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smarthome_http_request_duration_seconds",
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.telemetryTotal,
		m.readingsCompleted,
		m.commandsTotal,
		m.publishFailures,
		m.subscribers,
		m.eventsBroadcast,
		m.eventsDropped,
		m.subscribersPruned,
		m.storeDuration,
		m.storeErrors,
		m.breakerState,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Telemetry(sensor, result string) {
	if m == nil {
		return
	}
	m.telemetryTotal.WithLabelValues(sensor, result).Inc()
}

func (m *Metrics) ReadingCompleted() {
	if m == nil {
		return
	}
	m.readingsCompleted.Inc()
}

func (m *Metrics) Command(device, result string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(device, result).Inc()
}

func (m *Metrics) PublishFailed(topic string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(topic).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) EventBroadcast(eventType string) {
	if m == nil {
		return
	}
	m.eventsBroadcast.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) SubscriberPruned() {
	if m == nil {
		return
	}
	m.subscribersPruned.Inc()
}

// StoreOp records one persistence call.
func (m *Metrics) StoreOp(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.storeDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and observes their latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry this Metrics was built on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
