package coordinator

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smarthome/internal/metrics"
	"github.com/LeonardoBeccarini/smarthome/internal/model"
	"github.com/LeonardoBeccarini/smarthome/pkg/mqttbus"
)

// Publisher sends a payload to a topic. *mqttbus.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Router validates actuator commands and turns them into an outbound
// publish, a persisted snapshot and an actuator_change event.
type Router struct {
	gate      *ModeGate
	actuators *ActuatorStore
	pub       Publisher
	topics    mqttbus.Topics
	hub       *Hub
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics
}

func NewRouter(gate *ModeGate, actuators *ActuatorStore, pub Publisher, topics mqttbus.Topics, hub *Hub, log *zap.SugaredLogger, m *metrics.Metrics) *Router {
	return &Router{gate: gate, actuators: actuators, pub: pub, topics: topics, hub: hub, log: log, metrics: m}
}

// command is a validated, encoded actuator command.
type command struct {
	device  model.Device
	patch   model.ActuatorPatch
	payload string
	value   any
}

// Dispatch runs a command for device ("fan", "pump", "servo", "led:<room>").
// Order: mode gate, validation, publish, persist, pending buffer, event.
// A failed publish is logged and does not undo the state change. A mode
// switch that lands while the publish is in flight rejects the command
// before it is persisted.
func (r *Router) Dispatch(ctx context.Context, device string, value any) (model.ActuatorState, error) {
	d, err := model.ParseDevice(device)
	if err != nil {
		r.metrics.Command("unknown", "invalid")
		return model.ActuatorState{}, invalid("device", device, "%v", err)
	}
	kind := string(d.Kind)

	var epoch uint64
	if d.Gated() {
		if epoch, err = r.gate.Admit(d); err != nil {
			r.metrics.Command(kind, "mode_conflict")
			return model.ActuatorState{}, err
		}
	}

	cmd, err := validate(d, value)
	if err != nil {
		r.metrics.Command(kind, "invalid")
		return model.ActuatorState{}, err
	}

	topic := r.topics.Actuator(d)
	if err := r.pub.Publish(ctx, topic, []byte(cmd.payload)); err != nil {
		r.metrics.PublishFailed(topic)
		r.log.Errorf("router: %v", &TransportError{Target: topic, Err: err})
	}

	var stillAdmitted func() error
	if d.Gated() {
		stillAdmitted = func() error { return r.gate.Confirm(d, epoch) }
	}
	_, next, err := r.actuators.ApplyIf(ctx, cmd.patch, stillAdmitted)
	if errors.Is(err, ErrModeConflict) {
		r.metrics.Command(kind, "mode_conflict")
		r.log.Warnf("router: %s command dropped: %v", d, err)
		return model.ActuatorState{}, err
	}
	if err != nil {
		r.metrics.Command(kind, "persist_failed")
		r.log.Errorf("router: %s command not applied: %v", d, err)
		return model.ActuatorState{}, err
	}

	r.gate.Record(d, cmd.patch)
	r.hub.Publish(model.ActuatorChangeEvent(d.String(), cmd.value))
	r.metrics.Command(kind, "accepted")
	r.log.Infof("router: %s set to %v", d, cmd.value)
	return next, nil
}

func validate(d model.Device, value any) (command, error) {
	field := d.String()
	switch d.Kind {
	case model.KindFan:
		on, err := boolValue(field, value)
		if err != nil {
			return command{}, err
		}
		speed := model.FanSpeedOff
		if on {
			speed = model.FanSpeedOn
		}
		return command{device: d, patch: model.ActuatorPatch{FanSpeed: model.IntPtr(speed)}, payload: onOff(on), value: on}, nil
	case model.KindPump:
		on, err := boolValue(field, value)
		if err != nil {
			return command{}, err
		}
		return command{device: d, patch: model.ActuatorPatch{PumpActive: model.BoolPtr(on)}, payload: onOff(on), value: on}, nil
	case model.KindServo:
		angle, err := intValue(field, value)
		if err != nil {
			return command{}, err
		}
		if angle < model.MinServoAngle || angle > model.MaxServoAngle {
			return command{}, invalid(field, value, "angle must be within [%d,%d]", model.MinServoAngle, model.MaxServoAngle)
		}
		return command{device: d, patch: model.ActuatorPatch{ServoAngle: model.IntPtr(angle)}, payload: strconv.Itoa(angle), value: angle}, nil
	case model.KindLED:
		on, err := boolValue(field, value)
		if err != nil {
			return command{}, err
		}
		return command{device: d, patch: model.ActuatorPatch{LEDs: map[string]bool{d.Room: on}}, payload: onOff(on), value: on}, nil
	}
	return command{}, invalid("device", d.String(), "unsupported device")
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// boolValue accepts a JSON bool, the tokens on/off/true/false, or 0/1.
func boolValue(field string, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		}
	case float64:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case int:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	}
	return false, invalid(field, value, "expected on/off")
}

// intValue accepts integral JSON numbers, Go integers and numeric strings.
func intValue(field string, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if !math.IsNaN(v) && !math.IsInf(v, 0) && v == math.Trunc(v) && math.Abs(v) < 1e9 {
			return int(v), nil
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, nil
		}
	}
	return 0, invalid(field, value, "expected an integer")
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
