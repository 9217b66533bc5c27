package model

import "time"

// EventType tags a live-subscriber message.
type EventType string

const (
	EventConnection     EventType = "connection"
	EventSensorUpdate   EventType = "sensor_update"
	EventSensorData     EventType = "sensor_data"
	EventActuatorChange EventType = "actuator_change"
	EventModeChange     EventType = "mode_change"
	EventConfigChange   EventType = "config_change"
	EventError          EventType = "error"
	EventControl        EventType = "control"
)

// Event is the single JSON envelope used in both directions on the live
// channel. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType        `json:"type"`
	Status    string           `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	Sensor    string           `json:"sensor,omitempty"`
	Device    string           `json:"device,omitempty"`
	Value     any              `json:"value,omitempty"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
	Reading   *SensorReading   `json:"reading,omitempty"`
	Mode      SystemMode       `json:"mode,omitempty"`
	Config    *ThresholdConfig `json:"config,omitempty"`
}

func ConnectedEvent() Event {
	return Event{Type: EventConnection, Status: "connected", Message: "connected to smarthome"}
}

func SensorUpdateEvent(sensor SensorName, value float64, at time.Time) Event {
	return Event{Type: EventSensorUpdate, Sensor: string(sensor), Value: value, Timestamp: &at}
}

func SensorDataEvent(r SensorReading) Event {
	at := r.ObservedAt
	return Event{Type: EventSensorData, Reading: &r, Timestamp: &at}
}

func ActuatorChangeEvent(device string, value any) Event {
	return Event{Type: EventActuatorChange, Device: device, Value: value}
}

func ModeChangeEvent(m SystemMode) Event {
	return Event{Type: EventModeChange, Mode: m}
}

func ConfigChangeEvent(c ThresholdConfig) Event {
	return Event{Type: EventConfigChange, Config: &c}
}

func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Message: msg}
}
