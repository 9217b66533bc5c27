package mqttbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

func TestTopicsWithoutPrefix(t *testing.T) {
	var tp Topics

	assert.Equal(t, "sensors/temperature", tp.Sensor(model.SensorTemperature))
	assert.Equal(t, "actuators/fan", tp.Actuator(model.DeviceFan))
	assert.Equal(t, "actuators/pump", tp.Actuator(model.DevicePump))
	assert.Equal(t, "actuators/servo", tp.Actuator(model.DeviceServo))
	assert.Equal(t, "actuators/leds/kitchen", tp.Actuator(model.LEDDevice("kitchen")))
	assert.Equal(t, "actuators/#", tp.Actuators())
	assert.Equal(t, "system/mode", tp.Mode())
	assert.Equal(t, "system/config", tp.Config())
	assert.Contains(t, tp.Telemetry(), "sensors/soil_moisture")
}

func TestTopicsWithPrefix(t *testing.T) {
	tp := Topics{Prefix: "/home/"}

	assert.Equal(t, "home/sensors/humidity", tp.Sensor(model.SensorHumidity))
	assert.Equal(t, "home/actuators/leds/hall", tp.Actuator(model.LEDDevice("hall")))

	s, ok := tp.ParseSensor("home/sensors/humidity")
	assert.True(t, ok)
	assert.Equal(t, model.SensorHumidity, s)

	_, ok = tp.ParseSensor("sensors/humidity")
	assert.False(t, ok, "topic outside the prefix")
}

func TestParseActuator(t *testing.T) {
	var tp Topics
	tests := []struct {
		topic string
		want  model.Device
		ok    bool
	}{
		{"actuators/fan", model.DeviceFan, true},
		{"actuators/servo", model.DeviceServo, true},
		{"actuators/leds/kitchen", model.LEDDevice("kitchen"), true},
		{"actuators/leds/", model.Device{}, false},
		{"actuators/led:kitchen", model.Device{}, false},
		{"actuators/heater", model.Device{}, false},
		{"sensors/temperature", model.Device{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := tp.ParseActuator(tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
