package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Tunables, per minute of simulated time.
const (
	ambientTemp   = 29.0
	coolestTemp   = 18.0
	warmPerMin    = 0.05
	coolPerMin    = 0.30
	soilDryPerMin = 0.20
	soilWetPerMin = 1.50
	humidPerMin   = 0.10

	defaultTemp     = 26.0
	defaultHumidity = 55.0
	defaultSoil     = 45.0
)

// Sample is one round of readings, in the units the devices publish.
type Sample struct {
	Temperature  float64
	Humidity     float64
	SoilMoisture int
	Motion       int
}

// Environment models the room the sensors sit in. The fan pulls the
// temperature down, the pump raises the soil moisture; without them both
// drift back toward ambient conditions.
type Environment struct {
	mu          sync.Mutex
	last        time.Time
	temperature float64
	humidity    float64
	soil        float64
	fanOn       bool
	pumpOn      bool

	rng *rand.Rand
	now func() time.Time
}

func NewEnvironment(seed int64) *Environment {
	return &Environment{
		temperature: defaultTemp,
		humidity:    defaultHumidity,
		soil:        defaultSoil,
		rng:         rand.New(rand.NewSource(seed)),
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (e *Environment) WithClock(now func() time.Time) *Environment {
	e.now = now
	return e
}

func (e *Environment) SetFan(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fanOn = on
}

func (e *Environment) SetPump(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pumpOn = on
}

// Next advances the model to now and returns the readings. noise adds up to
// ±noise to temperature and humidity.
func (e *Environment) Next(noise float64) Sample {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.last.IsZero() {
		e.last = now
	}
	dtMin := math.Max(0, now.Sub(e.last).Minutes())
	e.last = now

	if e.fanOn {
		e.temperature = math.Max(coolestTemp, e.temperature-coolPerMin*dtMin)
	} else {
		e.temperature = math.Min(ambientTemp, e.temperature+warmPerMin*dtMin)
	}
	if e.pumpOn {
		e.soil = math.Min(100, e.soil+soilWetPerMin*dtMin)
		e.humidity = math.Min(100, e.humidity+humidPerMin*dtMin)
	} else {
		e.soil = math.Max(0, e.soil-soilDryPerMin*dtMin)
	}

	jitter := func() float64 { return (e.rng.Float64()*2 - 1) * noise }
	motion := 0
	if e.rng.Float64() < 0.1 {
		motion = 1
	}
	return Sample{
		Temperature:  round1(e.temperature + jitter()),
		Humidity:     round1(clamp(e.humidity+jitter(), 0, 100)),
		SoilMoisture: int(math.Round(e.soil)),
		Motion:       motion,
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
