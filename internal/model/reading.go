// Package model holds the types shared by the coordinator, the persistence
// gateway and the outer surfaces (HTTP, WebSocket, gRPC).
package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// SensorName identifies a single-value telemetry stream.
type SensorName string

const (
	SensorTemperature  SensorName = "temperature"
	SensorHumidity     SensorName = "humidity"
	SensorSoilMoisture SensorName = "soil_moisture"
	SensorMotion       SensorName = "motion"
	SensorDistance     SensorName = "distance"
)

// RequiredSensors gate the completion of a reading.
var RequiredSensors = []SensorName{SensorTemperature, SensorHumidity, SensorSoilMoisture}

// Required reports whether the sensor is one of the completion-gating fields.
func (s SensorName) Required() bool {
	for _, r := range RequiredSensors {
		if r == s {
			return true
		}
	}
	return false
}

// ParseSensorName accepts the topic leaf used by the devices.
func ParseSensorName(s string) (SensorName, bool) {
	switch n := SensorName(strings.ToLower(strings.TrimSpace(s))); n {
	case SensorTemperature, SensorHumidity, SensorSoilMoisture, SensorMotion, SensorDistance:
		return n, true
	}
	return "", false
}

// SensorReading is one completed combination of the required fields.
// Immutable once persisted.
type SensorReading struct {
	ID           int64     `json:"id,omitempty"`
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	SoilMoisture int       `json:"soil_moisture"`
	Motion       int       `json:"motion"`
	Distance     *float64  `json:"distance,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
}

// ParseSensorValue decodes a UTF-8 telemetry payload for the given sensor.
// Temperature, humidity and distance are decimals; soil moisture is an
// integer in [0,100]; motion is 0 or 1.
func ParseSensorValue(sensor SensorName, payload []byte) (float64, error) {
	raw := strings.TrimSpace(string(payload))
	if raw == "" {
		return 0, fmt.Errorf("%s: empty payload", sensor)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: not a number: %q", sensor, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s: not a finite number: %q", sensor, raw)
	}
	switch sensor {
	case SensorSoilMoisture:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%s: not an integer: %q", sensor, raw)
		}
		if v < 0 || v > 100 {
			return 0, fmt.Errorf("%s: %v out of range [0,100]", sensor, v)
		}
	case SensorMotion:
		if v != 0 && v != 1 {
			return 0, fmt.Errorf("%s: expected 0 or 1, got %q", sensor, raw)
		}
	case SensorDistance:
		if v < 0 {
			return 0, fmt.Errorf("%s: negative distance %q", sensor, raw)
		}
	}
	return v, nil
}
