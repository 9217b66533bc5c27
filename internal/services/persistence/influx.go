package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

const (
	readingMeasurement  = "sensor_reading"
	snapshotMeasurement = "actuator_snapshot"
)

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxStore keeps both logs as InfluxDB measurements. Reading IDs are the
// nanosecond timestamp of the point.
type InfluxStore struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	org    string
	bucket string
	now    func() time.Time
}

func NewInfluxStore(cfg InfluxConfig) (*InfluxStore, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxStore{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		org:    cfg.Org,
		bucket: cfg.Bucket,
		now:    time.Now,
	}, nil
}

func readingPoint(r model.SensorReading) *write.Point {
	fields := map[string]interface{}{
		"temperature":   r.Temperature,
		"humidity":      r.Humidity,
		"soil_moisture": int64(r.SoilMoisture),
		"motion":        int64(r.Motion),
	}
	if r.Distance != nil {
		fields["distance"] = *r.Distance
	}
	return influxdb2.NewPoint(readingMeasurement, nil, fields, r.ObservedAt)
}

func snapshotPoint(s model.ActuatorState, at time.Time) (*write.Point, error) {
	leds, err := json.Marshal(s.LEDs)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"servo_angle": int64(s.ServoAngle),
		"fan_speed":   int64(s.FanSpeed),
		"pump_active": s.PumpActive,
		"leds":        string(leds),
	}
	return influxdb2.NewPoint(snapshotMeasurement, nil, fields, at), nil
}

func (s *InfluxStore) AppendReading(ctx context.Context, r model.SensorReading) (model.SensorReading, error) {
	r.ObservedAt = stamp(r.ObservedAt, s.now)
	if err := s.write.WritePoint(ctx, readingPoint(r)); err != nil {
		return model.SensorReading{}, fmt.Errorf("influx write reading: %w", err)
	}
	r.ID = r.ObservedAt.UnixNano()
	return r, nil
}

func (s *InfluxStore) AppendSnapshot(ctx context.Context, st model.ActuatorState) (model.ActuatorSnapshot, error) {
	at := s.now().UTC()
	p, err := snapshotPoint(st, at)
	if err != nil {
		return model.ActuatorSnapshot{}, err
	}
	if err := s.write.WritePoint(ctx, p); err != nil {
		return model.ActuatorSnapshot{}, fmt.Errorf("influx write snapshot: %w", err)
	}
	return model.ActuatorSnapshot{ID: at.UnixNano(), State: st.Clone(), RecordedAt: at}, nil
}

// buildFlux pivots one measurement into rows, newest first.
func buildFlux(bucket, measurement, start string, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `
from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)`, bucket, start, measurement)
	if limit > 0 {
		fmt.Fprintf(&b, "\n  |> limit(n: %d)", limit)
	}
	b.WriteString("\n")
	return b.String()
}

func buildCountFlux(bucket string) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement == %q and r._field == "temperature")
  |> group()
  |> count()
`, bucket, readingMeasurement)
}

func (s *InfluxStore) queryRecords(ctx context.Context, flux string, each func(*query.FluxRecord) error) error {
	res, err := s.query.Query(ctx, flux)
	if err != nil {
		return fmt.Errorf("influx query: %w", err)
	}
	defer func() { _ = res.Close() }()
	for res.Next() {
		if err := each(res.Record()); err != nil {
			return err
		}
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("influx iterate: %w", err)
	}
	return nil
}

func (s *InfluxStore) readings(ctx context.Context, start string, limit int) ([]model.SensorReading, error) {
	out := make([]model.SensorReading, 0)
	err := s.queryRecords(ctx, buildFlux(s.bucket, readingMeasurement, start, limit), func(rec *query.FluxRecord) error {
		out = append(out, readingFromRecord(rec))
		return nil
	})
	return out, err
}

func (s *InfluxStore) LatestReadings(ctx context.Context, limit int) ([]model.SensorReading, error) {
	return s.readings(ctx, "0", limit)
}

func (s *InfluxStore) ReadingsSince(ctx context.Context, since time.Time) ([]model.SensorReading, error) {
	return s.readings(ctx, since.UTC().Format(time.RFC3339Nano), 0)
}

func (s *InfluxStore) LatestSnapshot(ctx context.Context) (model.ActuatorSnapshot, error) {
	var (
		snap  model.ActuatorSnapshot
		found bool
	)
	err := s.queryRecords(ctx, buildFlux(s.bucket, snapshotMeasurement, "0", 1), func(rec *query.FluxRecord) error {
		var err error
		snap, err = snapshotFromRecord(rec)
		found = err == nil
		return err
	})
	if err != nil {
		return model.ActuatorSnapshot{}, err
	}
	if !found {
		return model.ActuatorSnapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *InfluxStore) CountReadings(ctx context.Context) (int, error) {
	n := 0
	err := s.queryRecords(ctx, buildCountFlux(s.bucket), func(rec *query.FluxRecord) error {
		n = int(asInt(rec.Value()))
		return nil
	})
	return n, err
}

// Prune deletes readings before the cutoff and every snapshot before it
// except the newest, which is the current state. InfluxDB does not report
// how many points were removed, so the count is always 0.
func (s *InfluxStore) Prune(ctx context.Context, before time.Time) (int, error) {
	del := s.client.DeleteAPI()
	if err := s.deleteBefore(ctx, del, readingMeasurement, before); err != nil {
		return 0, err
	}

	latest, err := s.LatestSnapshot(ctx)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("influx prune: %w", err)
	}
	if stop, ok := snapshotPruneCutoff(before, latest.RecordedAt); ok {
		if err := s.deleteBefore(ctx, del, snapshotMeasurement, stop); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func (s *InfluxStore) deleteBefore(ctx context.Context, del api.DeleteAPI, measurement string, stop time.Time) error {
	if err := del.DeleteWithName(ctx, s.org, s.bucket, time.Unix(0, 0), stop, fmt.Sprintf("_measurement=%q", measurement)); err != nil {
		return fmt.Errorf("influx delete %s: %w", measurement, err)
	}
	return nil
}

// snapshotPruneCutoff is the delete bound for snapshots: before, pulled back
// to just under the newest snapshot so that one survives. It reports false
// when nothing can be deleted.
func snapshotPruneCutoff(before, latest time.Time) (time.Time, bool) {
	stop := before
	if keep := latest.Add(-time.Nanosecond); keep.Before(stop) {
		stop = keep
	}
	if !stop.After(time.Unix(0, 0)) {
		return time.Time{}, false
	}
	return stop, true
}

func (s *InfluxStore) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("influx ping failed")
	}
	return nil
}

func (s *InfluxStore) Close() error {
	s.client.Close()
	return nil
}

func readingFromRecord(rec *query.FluxRecord) model.SensorReading {
	t := rec.Time().UTC()
	r := model.SensorReading{
		ID:           t.UnixNano(),
		Temperature:  asFloat(rec.ValueByKey("temperature")),
		Humidity:     asFloat(rec.ValueByKey("humidity")),
		SoilMoisture: int(asInt(rec.ValueByKey("soil_moisture"))),
		Motion:       int(asInt(rec.ValueByKey("motion"))),
		ObservedAt:   t,
	}
	if v := rec.ValueByKey("distance"); v != nil {
		d := asFloat(v)
		r.Distance = &d
	}
	return r
}

func snapshotFromRecord(rec *query.FluxRecord) (model.ActuatorSnapshot, error) {
	t := rec.Time().UTC()
	st := model.ActuatorState{
		ServoAngle: int(asInt(rec.ValueByKey("servo_angle"))),
		FanSpeed:   int(asInt(rec.ValueByKey("fan_speed"))),
		LEDs:       map[string]bool{},
	}
	if b, ok := rec.ValueByKey("pump_active").(bool); ok {
		st.PumpActive = b
	}
	if raw, ok := rec.ValueByKey("leds").(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.LEDs); err != nil {
			return model.ActuatorSnapshot{}, fmt.Errorf("decode leds: %w", err)
		}
	}
	return model.ActuatorSnapshot{ID: t.UnixNano(), State: st, RecordedAt: t}, nil
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case int:
		return float64(x)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
	}
	return 0
}

func asInt(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case uint64:
		return int64(x)
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n
		}
	}
	return 0
}
