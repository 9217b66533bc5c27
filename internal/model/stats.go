package model

import (
	"math"
	"time"
)

// Stats summarises the readings of one window.
type Stats struct {
	Window          string  `json:"window"`
	AvgTemperature  float64 `json:"avg_temperature"`
	MinTemperature  float64 `json:"min_temperature"`
	MaxTemperature  float64 `json:"max_temperature"`
	AvgHumidity     float64 `json:"avg_humidity"`
	AvgSoilMoisture float64 `json:"avg_soil_moisture"`
	MotionCount     int     `json:"motion_count"`
	WindowCount     int     `json:"window_count"`
	TotalCount      int     `json:"total_count"`
}

// ComputeStats aggregates readings observed in the window. total is the
// number of readings ever stored.
func ComputeStats(readings []SensorReading, window time.Duration, total int) Stats {
	s := Stats{Window: window.String(), WindowCount: len(readings), TotalCount: total}
	if len(readings) == 0 {
		return s
	}
	var sumT, sumH, sumS float64
	s.MinTemperature = math.Inf(1)
	s.MaxTemperature = math.Inf(-1)
	for _, r := range readings {
		sumT += r.Temperature
		sumH += r.Humidity
		sumS += float64(r.SoilMoisture)
		s.MinTemperature = math.Min(s.MinTemperature, r.Temperature)
		s.MaxTemperature = math.Max(s.MaxTemperature, r.Temperature)
		if r.Motion != 0 {
			s.MotionCount++
		}
	}
	n := float64(len(readings))
	s.AvgTemperature = round2(sumT / n)
	s.AvgHumidity = round2(sumH / n)
	s.AvgSoilMoisture = round2(sumS / n)
	s.MinTemperature = round2(s.MinTemperature)
	s.MaxTemperature = round2(s.MaxTemperature)
	return s
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
