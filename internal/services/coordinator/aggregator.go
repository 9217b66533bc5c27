package coordinator

import (
	"sync"
	"time"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

// Aggregator assembles independently arriving sensor values into complete
// readings. The in-progress reading is never reset: after a completion the
// old values carry forward and a new soil moisture sample alone is enough
// to complete again.
type Aggregator struct {
	mu sync.Mutex

	temperature  *float64
	humidity     *float64
	soilMoisture *int
	motion       int
	distance     *float64
	observedAt   time.Time

	// required fields updated since the last completion
	fresh map[model.SensorName]bool
}

func NewAggregator() *Aggregator {
	return &Aggregator{fresh: make(map[model.SensorName]bool, len(model.RequiredSensors))}
}

// Ingest merges one value and reports the completed reading, if any.
// Values must already be validated by model.ParseSensorValue.
func (a *Aggregator) Ingest(sensor model.SensorName, value float64, at time.Time) (model.SensorReading, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch sensor {
	case model.SensorTemperature:
		a.temperature = &value
	case model.SensorHumidity:
		a.humidity = &value
	case model.SensorSoilMoisture:
		v := int(value)
		a.soilMoisture = &v
	case model.SensorMotion:
		a.motion = int(value)
	case model.SensorDistance:
		a.distance = &value
	default:
		return model.SensorReading{}, false
	}
	a.observedAt = at
	if !sensor.Required() {
		return model.SensorReading{}, false
	}
	a.fresh[sensor] = true

	if a.temperature == nil || a.humidity == nil || a.soilMoisture == nil {
		return model.SensorReading{}, false
	}
	if sensor != model.SensorSoilMoisture && len(a.fresh) < len(model.RequiredSensors) {
		return model.SensorReading{}, false
	}

	clear(a.fresh)
	r := model.SensorReading{
		Temperature:  *a.temperature,
		Humidity:     *a.humidity,
		SoilMoisture: *a.soilMoisture,
		Motion:       a.motion,
		ObservedAt:   a.observedAt,
	}
	if a.distance != nil {
		d := *a.distance
		r.Distance = &d
	}
	return r, true
}

// Partial returns a copy of the in-progress values for diagnostics.
func (a *Aggregator) Partial() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := map[string]any{"motion": a.motion}
	if a.temperature != nil {
		out["temperature"] = *a.temperature
	}
	if a.humidity != nil {
		out["humidity"] = *a.humidity
	}
	if a.soilMoisture != nil {
		out["soil_moisture"] = *a.soilMoisture
	}
	if a.distance != nil {
		out["distance"] = *a.distance
	}
	if !a.observedAt.IsZero() {
		out["observed_at"] = a.observedAt
	}
	return out
}
