package mqttbus

import (
	"strings"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

// Topics builds every topic name from an optional prefix. The zero value
// yields the bare names the devices use ("sensors/temperature", ...).
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	s := strings.Join(parts, "/")
	if p := strings.Trim(t.Prefix, "/"); p != "" {
		return p + "/" + s
	}
	return s
}

func (t Topics) Sensor(name model.SensorName) string { return t.join("sensors", string(name)) }

// Telemetry lists the sensor topics the coordinator subscribes to.
func (t Topics) Telemetry() []string {
	return []string{
		t.Sensor(model.SensorTemperature),
		t.Sensor(model.SensorHumidity),
		t.Sensor(model.SensorSoilMoisture),
		t.Sensor(model.SensorMotion),
		t.Sensor(model.SensorDistance),
	}
}

// Actuator returns the outbound topic of a device.
func (t Topics) Actuator(d model.Device) string {
	if d.Kind == model.KindLED {
		return t.join("actuators", "leds", d.Room)
	}
	return t.join("actuators", string(d.Kind))
}

// Actuators is the wildcard filter for every actuator topic.
func (t Topics) Actuators() string { return t.join("actuators", "#") }

func (t Topics) Mode() string { return t.join("system", "mode") }

func (t Topics) Config() string { return t.join("system", "config") }

func (t Topics) trim(topic string) (string, bool) {
	if p := strings.Trim(t.Prefix, "/"); p != "" {
		rest, ok := strings.CutPrefix(topic, p+"/")
		return rest, ok
	}
	return topic, true
}

// ParseSensor maps a telemetry topic back to its sensor.
func (t Topics) ParseSensor(topic string) (model.SensorName, bool) {
	rest, ok := t.trim(topic)
	if !ok {
		return "", false
	}
	leaf, ok := strings.CutPrefix(rest, "sensors/")
	if !ok {
		return "", false
	}
	return model.ParseSensorName(leaf)
}

// ParseActuator maps an actuator topic back to its device.
func (t Topics) ParseActuator(topic string) (model.Device, bool) {
	rest, ok := t.trim(topic)
	if !ok {
		return model.Device{}, false
	}
	leaf, ok := strings.CutPrefix(rest, "actuators/")
	if !ok {
		return model.Device{}, false
	}
	if room, ok := strings.CutPrefix(leaf, "leds/"); ok {
		if model.ValidateRoom(room) != nil {
			return model.Device{}, false
		}
		return model.LEDDevice(room), true
	}
	d, err := model.ParseDevice(leaf)
	if err != nil || d.Kind == model.KindLED {
		return model.Device{}, false
	}
	return d, true
}
