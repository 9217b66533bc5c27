package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	id            BIGSERIAL PRIMARY KEY,
	observed_at   TIMESTAMPTZ NOT NULL,
	temperature   DOUBLE PRECISION NOT NULL,
	humidity      DOUBLE PRECISION NOT NULL,
	soil_moisture INTEGER NOT NULL,
	motion        INTEGER NOT NULL DEFAULT 0,
	distance      DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS sensor_readings_observed_at_idx ON sensor_readings (observed_at DESC);
CREATE TABLE IF NOT EXISTS actuator_snapshots (
	id          BIGSERIAL PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	servo_angle INTEGER NOT NULL,
	fan_speed   INTEGER NOT NULL,
	pump_active BOOLEAN NOT NULL,
	leds        JSONB NOT NULL DEFAULT '{}'::jsonb
);
`

const readingColumns = `id, observed_at, temperature, humidity, soil_moisture, motion, distance`

// PostgresStore keeps both logs in two append-only tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and creates the tables if they are missing.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) AppendReading(ctx context.Context, r model.SensorReading) (model.SensorReading, error) {
	r.ObservedAt = stamp(r.ObservedAt, time.Now)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sensor_readings (observed_at, temperature, humidity, soil_moisture, motion, distance)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		r.ObservedAt, r.Temperature, r.Humidity, r.SoilMoisture, r.Motion, r.Distance,
	).Scan(&r.ID)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("insert reading: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) AppendSnapshot(ctx context.Context, st model.ActuatorState) (model.ActuatorSnapshot, error) {
	leds := st.LEDs
	if leds == nil {
		leds = map[string]bool{}
	}
	raw, err := json.Marshal(leds)
	if err != nil {
		return model.ActuatorSnapshot{}, err
	}
	snap := model.ActuatorSnapshot{State: st.Clone()}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO actuator_snapshots (servo_angle, fan_speed, pump_active, leds)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING id, recorded_at`,
		st.ServoAngle, st.FanSpeed, st.PumpActive, string(raw),
	).Scan(&snap.ID, &snap.RecordedAt)
	if err != nil {
		return model.ActuatorSnapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	snap.RecordedAt = snap.RecordedAt.UTC()
	return snap, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context) (model.ActuatorSnapshot, error) {
	var (
		snap model.ActuatorSnapshot
		raw  []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, recorded_at, servo_angle, fan_speed, pump_active, leds
		FROM actuator_snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&snap.ID, &snap.RecordedAt, &snap.State.ServoAngle, &snap.State.FanSpeed, &snap.State.PumpActive, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ActuatorSnapshot{}, ErrNotFound
	}
	if err != nil {
		return model.ActuatorSnapshot{}, fmt.Errorf("select snapshot: %w", err)
	}
	snap.State.LEDs = map[string]bool{}
	if err := json.Unmarshal(raw, &snap.State.LEDs); err != nil {
		return model.ActuatorSnapshot{}, fmt.Errorf("decode leds: %w", err)
	}
	snap.RecordedAt = snap.RecordedAt.UTC()
	return snap, nil
}

func collectReadings(rows pgx.Rows) ([]model.SensorReading, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SensorReading, error) {
		var r model.SensorReading
		err := row.Scan(&r.ID, &r.ObservedAt, &r.Temperature, &r.Humidity, &r.SoilMoisture, &r.Motion, &r.Distance)
		r.ObservedAt = r.ObservedAt.UTC()
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("select readings: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LatestReadings(ctx context.Context, limit int) ([]model.SensorReading, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+readingColumns+`
		FROM sensor_readings ORDER BY observed_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select readings: %w", err)
	}
	return collectReadings(rows)
}

func (s *PostgresStore) ReadingsSince(ctx context.Context, since time.Time) ([]model.SensorReading, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+readingColumns+`
		FROM sensor_readings WHERE observed_at >= $1 ORDER BY observed_at DESC, id DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("select readings: %w", err)
	}
	return collectReadings(rows)
}

func (s *PostgresStore) CountReadings(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM sensor_readings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}

// Prune never deletes the newest snapshot, which is the current state.
func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int, error) {
	total := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM sensor_readings WHERE observed_at < $1`, before)
		if err != nil {
			return err
		}
		total += int(tag.RowsAffected())
		tag, err = tx.Exec(ctx, `
			DELETE FROM actuator_snapshots
			WHERE recorded_at < $1 AND id <> (SELECT max(id) FROM actuator_snapshots)`, before)
		if err != nil {
			return err
		}
		total += int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
