package persistence

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

func TestBuildFlux(t *testing.T) {
	q := buildFlux("home", readingMeasurement, "0", 25)

	assert.Contains(t, q, `from(bucket: "home")`)
	assert.Contains(t, q, `range(start: 0)`)
	assert.Contains(t, q, `r._measurement == "sensor_reading"`)
	assert.Contains(t, q, `pivot(rowKey: ["_time"]`)
	assert.Contains(t, q, `sort(columns: ["_time"], desc: true)`)
	assert.Contains(t, q, `limit(n: 25)`)

	unlimited := buildFlux("home", snapshotMeasurement, "2024-01-01T00:00:00Z", 0)
	assert.NotContains(t, unlimited, "limit(")
	assert.Contains(t, buildCountFlux("home"), "count()")
}

func TestReadingPointLineProtocol(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d := 12.5
	lp := write.PointToLineProtocol(readingPoint(model.SensorReading{
		Temperature: 25.5, Humidity: 60, SoilMoisture: 40, Distance: &d, ObservedAt: at,
	}), time.Nanosecond)

	assert.True(t, strings.HasPrefix(lp, "sensor_reading "))
	assert.Contains(t, lp, "temperature=25.5")
	assert.Contains(t, lp, "soil_moisture=40i")
	assert.Contains(t, lp, "distance=12.5")
	assert.Contains(t, lp, "motion=0i")
}

func TestReadingFromRecord(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := query.NewFluxRecord(0, map[string]interface{}{
		"_time":         at,
		"temperature":   25.5,
		"humidity":      int64(60),
		"soil_moisture": int64(40),
		"motion":        int64(1),
	})

	r := readingFromRecord(rec)

	assert.Equal(t, at.UnixNano(), r.ID)
	assert.Equal(t, 25.5, r.Temperature)
	assert.Equal(t, 60.0, r.Humidity)
	assert.Equal(t, 40, r.SoilMoisture)
	assert.Equal(t, 1, r.Motion)
	assert.Nil(t, r.Distance)
	assert.Equal(t, at, r.ObservedAt)
}

func TestSnapshotRoundTripThroughRecord(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	state := model.ActuatorState{ServoAngle: 45, FanSpeed: 100, PumpActive: true, LEDs: map[string]bool{"kitchen": true}}
	p, err := snapshotPoint(state, at)
	require.NoError(t, err)

	values := map[string]interface{}{"_time": at}
	for _, f := range p.FieldList() {
		values[f.Key] = f.Value
	}
	snap, err := snapshotFromRecord(query.NewFluxRecord(0, values))

	require.NoError(t, err)
	assert.Equal(t, state, snap.State)
	assert.Equal(t, at, snap.RecordedAt)
}

func TestSnapshotPruneCutoffKeepsNewest(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		before    time.Time
		latest    time.Time
		want      time.Time
		wantPrune bool
	}{
		{"latest newer than cutoff", base, base.Add(time.Hour), base, true},
		{"latest older than cutoff", base, base.Add(-time.Hour), base.Add(-time.Hour - time.Nanosecond), true},
		{"latest at cutoff", base, base, base.Add(-time.Nanosecond), true},
		{"latest at epoch", base, time.Unix(0, 0), time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := snapshotPruneCutoff(tt.before, tt.latest)
			require.Equal(t, tt.wantPrune, ok)
			if ok {
				assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
				assert.True(t, got.Before(tt.latest), "the newest snapshot must stay outside the delete range")
			}
		})
	}
}
