// Package coordinator is the state coordinator of the home: it assembles
// telemetry into readings, owns the actuator state, the system mode and the
// threshold configuration, routes commands to the devices and relays every
// change to the live subscribers.
package coordinator

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smarthome/internal/metrics"
	"github.com/LeonardoBeccarini/smarthome/internal/model"
	"github.com/LeonardoBeccarini/smarthome/internal/services/persistence"
	"github.com/LeonardoBeccarini/smarthome/pkg/mqttbus"
)

type Options struct {
	// PersistTimeout bounds every store call made by the coordinator.
	PersistTimeout time.Duration
	// Thresholds is the configuration in effect at startup.
	Thresholds model.ThresholdConfig
	// Now stamps telemetry; defaults to time.Now.
	Now func() time.Time
}

// Coordinator is constructed once per process and handed to the HTTP,
// WebSocket, gRPC and MQTT adapters.
type Coordinator struct {
	aggregator *Aggregator
	actuators  *ActuatorStore
	gate       *ModeGate
	router     *Router
	hub        *Hub

	store  persistence.Store
	pub    Publisher
	topics mqttbus.Topics

	cfgMu      sync.RWMutex
	thresholds model.ThresholdConfig

	persistTimeout time.Duration
	now            func() time.Time
	log            *zap.SugaredLogger
	metrics        *metrics.Metrics
}

func New(store persistence.Store, pub Publisher, hub *Hub, topics mqttbus.Topics, opts Options, log *zap.SugaredLogger, m *metrics.Metrics) *Coordinator {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.Thresholds == (model.ThresholdConfig{}) {
		opts.Thresholds = model.DefaultThresholds()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	gate := NewModeGate()
	actuators := NewActuatorStore(store, opts.PersistTimeout)
	return &Coordinator{
		aggregator:     NewAggregator(),
		actuators:      actuators,
		gate:           gate,
		router:         NewRouter(gate, actuators, pub, topics, hub, log, m),
		hub:            hub,
		store:          store,
		pub:            pub,
		topics:         topics,
		thresholds:     opts.Thresholds,
		persistTimeout: opts.PersistTimeout,
		now:            opts.Now,
		log:            log,
		metrics:        m,
	}
}

// Start restores the actuator state from the latest persisted snapshot.
func (c *Coordinator) Start(ctx context.Context) error {
	found, err := c.actuators.Load(ctx)
	if err != nil {
		return err
	}
	if found {
		c.log.Infof("coordinator: restored actuator state %+v", c.actuators.Get())
	} else {
		c.log.Infof("coordinator: no actuator snapshot, using defaults")
	}
	return nil
}

func (c *Coordinator) Hub() *Hub { return c.hub }

func (c *Coordinator) Store() persistence.Store { return c.store }

func (c *Coordinator) Topics() mqttbus.Topics { return c.topics }

// HandleTelemetry is the MQTT handler for the sensor topics. Malformed
// payloads are logged and dropped; it never returns an error so the
// consumer does not log twice.
func (c *Coordinator) HandleTelemetry(topic string, payload []byte) error {
	sensor, ok := c.topics.ParseSensor(topic)
	if !ok {
		c.log.Warnf("aggregator: ignoring message on unknown topic %s", topic)
		return nil
	}
	value, err := model.ParseSensorValue(sensor, payload)
	if err != nil {
		c.metrics.Telemetry(string(sensor), "dropped")
		c.log.Warnf("aggregator: dropped %s payload %q: %v", sensor, payload, err)
		return nil
	}
	c.metrics.Telemetry(string(sensor), "accepted")
	c.Ingest(context.Background(), sensor, value, c.now())
	return nil
}

// Ingest merges one validated value. Every value is relayed as a
// sensor_update; a completed reading is persisted and relayed as
// sensor_data. It returns the persisted reading, if one completed.
func (c *Coordinator) Ingest(ctx context.Context, sensor model.SensorName, value float64, at time.Time) (model.SensorReading, bool) {
	reading, complete := c.aggregator.Ingest(sensor, value, at)
	c.hub.Publish(model.SensorUpdateEvent(sensor, value, at))
	if !complete {
		return model.SensorReading{}, false
	}

	c.metrics.ReadingCompleted()
	stored, err := c.appendReading(ctx, reading)
	if err != nil {
		c.log.Errorf("aggregator: completed reading not stored: %v", err)
		return model.SensorReading{}, false
	}
	c.hub.Publish(model.SensorDataEvent(stored))
	c.log.Debugf("aggregator: stored reading %d (t=%.2f h=%.2f soil=%d)", stored.ID, stored.Temperature, stored.Humidity, stored.SoilMoisture)
	return stored, true
}

func (c *Coordinator) appendReading(ctx context.Context, r model.SensorReading) (model.SensorReading, error) {
	ctx, cancel := context.WithTimeout(ctx, c.persistTimeout)
	defer cancel()
	stored, err := c.store.AppendReading(ctx, r)
	if err != nil {
		return model.SensorReading{}, &PersistenceError{Op: "append reading", Err: err}
	}
	return stored, nil
}

// Dispatch routes one actuator command; see Router.Dispatch.
func (c *Coordinator) Dispatch(ctx context.Context, device string, value any) (model.ActuatorState, error) {
	return c.router.Dispatch(ctx, device, value)
}

// Actuators returns the last known actuator state.
func (c *Coordinator) Actuators() model.ActuatorState { return c.actuators.Get() }

func (c *Coordinator) Mode() model.SystemMode { return c.gate.Mode() }

// PartialReading returns the sensor values collected toward the next
// completed reading.
func (c *Coordinator) PartialReading() map[string]any { return c.aggregator.Partial() }

// SetMode switches the mode, tells the devices on the mode topic and
// relays a mode_change event. Entering automatic clears pending commands.
func (c *Coordinator) SetMode(ctx context.Context, m model.SystemMode) (model.SystemMode, error) {
	if !m.Valid() {
		return "", invalid("mode", string(m), "expected automatic or manual")
	}
	var prev model.SystemMode
	c.actuators.Exclusive(func() { prev = c.gate.SetMode(m) })
	c.publish(ctx, c.topics.Mode(), []byte(m))
	c.hub.Publish(model.ModeChangeEvent(m))
	c.log.Infof("coordinator: mode %s -> %s", prev, m)
	return m, nil
}

func (c *Coordinator) Thresholds() model.ThresholdConfig {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.thresholds
}

// UpdateThresholds merges the provided keys, publishes the whole
// configuration on the config topic and relays a config_change event.
// The configuration lives in memory only.
func (c *Coordinator) UpdateThresholds(ctx context.Context, patch model.ThresholdPatch) (model.ThresholdConfig, error) {
	if err := checkFinite("activation_temp", patch.ActivationTemp); err != nil {
		return model.ThresholdConfig{}, err
	}
	if err := checkFinite("deactivation_temp", patch.DeactivationTemp); err != nil {
		return model.ThresholdConfig{}, err
	}

	c.cfgMu.Lock()
	next := patch.Merge(c.thresholds)
	if field, err := next.CheckSoil(); err != nil {
		c.cfgMu.Unlock()
		return model.ThresholdConfig{}, invalid(field, nil, "%v", err)
	}
	c.thresholds = next
	c.cfgMu.Unlock()

	if next.Inverted() {
		c.log.Warnf("coordinator: activation temperature %.1f does not exceed deactivation temperature %.1f",
			next.ActivationTemp, next.DeactivationTemp)
	}

	if raw, err := json.Marshal(next); err == nil {
		c.publish(ctx, c.topics.Config(), raw)
	}
	c.hub.Publish(model.ConfigChangeEvent(next))
	c.log.Infof("coordinator: thresholds updated %+v", next)
	return next, nil
}

func checkFinite(field string, v *float64) error {
	if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
		return invalid(field, nil, "not a finite number")
	}
	return nil
}

// Pending returns what a polling device should apply next.
func (c *Coordinator) Pending() model.PendingView {
	mode, cmds := c.gate.Pending()
	return model.PendingView{Mode: mode, Commands: cmds, Config: c.Thresholds()}
}

// SubmitPacket stores a reading the device already assembled and merges the
// actuator block it reported. Device-reported state is not mode gated.
func (c *Coordinator) SubmitPacket(ctx context.Context, r model.SensorReading, patch model.ActuatorPatch) (model.SensorReading, model.ActuatorState, error) {
	if err := validateReading(r); err != nil {
		return model.SensorReading{}, model.ActuatorState{}, err
	}
	if err := validatePatch(patch); err != nil {
		return model.SensorReading{}, model.ActuatorState{}, err
	}
	if r.ObservedAt.IsZero() {
		r.ObservedAt = c.now()
	}

	stored, err := c.appendReading(ctx, r)
	if err != nil {
		return model.SensorReading{}, model.ActuatorState{}, err
	}
	c.hub.Publish(model.SensorDataEvent(stored))

	if patch.Empty() {
		return stored, c.actuators.Get(), nil
	}
	prev, next, err := c.actuators.Apply(ctx, patch)
	if err != nil {
		return stored, model.ActuatorState{}, err
	}
	for _, ch := range model.Diff(prev, next) {
		c.hub.Publish(model.ActuatorChangeEvent(ch.Device, ch.Value))
	}
	return stored, next, nil
}

func validateReading(r model.SensorReading) error {
	for _, f := range []struct {
		name string
		v    float64
	}{{"temperature", r.Temperature}, {"humidity", r.Humidity}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return invalid(f.name, nil, "not a finite number")
		}
	}
	if r.SoilMoisture < 0 || r.SoilMoisture > 100 {
		return invalid("soil_moisture", r.SoilMoisture, "must be within [0,100]")
	}
	if r.Motion != 0 && r.Motion != 1 {
		return invalid("motion", r.Motion, "must be 0 or 1")
	}
	if r.Distance != nil && (*r.Distance < 0 || math.IsNaN(*r.Distance) || math.IsInf(*r.Distance, 0)) {
		return invalid("distance", *r.Distance, "must be a non-negative number")
	}
	return nil
}

func validatePatch(p model.ActuatorPatch) error {
	if p.ServoAngle != nil && (*p.ServoAngle < model.MinServoAngle || *p.ServoAngle > model.MaxServoAngle) {
		return invalid("servo_angle", *p.ServoAngle, "must be within [%d,%d]", model.MinServoAngle, model.MaxServoAngle)
	}
	if p.FanSpeed != nil && (*p.FanSpeed < 0 || *p.FanSpeed > 100) {
		return invalid("fan_speed", *p.FanSpeed, "must be within [0,100]")
	}
	for room := range p.LEDs {
		if err := model.ValidateRoom(room); err != nil {
			return invalid("leds", room, "%v", err)
		}
	}
	return nil
}

// publish is fire-and-forget: failures are logged as transport errors.
func (c *Coordinator) publish(ctx context.Context, topic string, payload []byte) {
	if err := c.pub.Publish(ctx, topic, payload); err != nil {
		c.metrics.PublishFailed(topic)
		c.log.Errorf("coordinator: %v", &TransportError{Target: topic, Err: err})
	}
}
