// Package export mirrors completed readings and actuator snapshots to Kafka
// for downstream consumers.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

const (
	KindReading  = "reading"
	KindSnapshot = "snapshot"
)

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
	// Failures opens the breaker after this many consecutive write errors.
	Failures int
	OpenFor  time.Duration
}

// Envelope is the JSON value of every exported message.
type Envelope struct {
	Kind     string                  `json:"kind"`
	Reading  *model.SensorReading    `json:"reading,omitempty"`
	Snapshot *model.ActuatorSnapshot `json:"snapshot,omitempty"`
}

// KafkaSink implements persistence.Sink. While the breaker is open writes
// fail fast with gobreaker.ErrOpenState.
type KafkaSink struct {
	w  messageWriter
	cb *gobreaker.CircuitBreaker
}

func NewKafkaSink(cfg Config) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaSink(w, cfg), nil
}

func newKafkaSink(w messageWriter, cfg Config) *KafkaSink {
	if cfg.Failures < 1 {
		cfg.Failures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	fails := uint32(cfg.Failures)
	return &KafkaSink{
		w: w,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "kafka-export",
			Timeout: cfg.OpenFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= fails
			},
		}),
	}
}

func (s *KafkaSink) Reading(ctx context.Context, r model.SensorReading) error {
	return s.send(ctx, KindReading, r.ID, Envelope{Kind: KindReading, Reading: &r})
}

func (s *KafkaSink) Snapshot(ctx context.Context, snap model.ActuatorSnapshot) error {
	return s.send(ctx, KindSnapshot, snap.ID, Envelope{Kind: KindSnapshot, Snapshot: &snap})
}

func (s *KafkaSink) send(ctx context.Context, kind string, id int64, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(kind + ":" + strconv.FormatInt(id, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
		},
	}
	_, err = s.cb.Execute(func() (any, error) {
		return nil, s.w.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("kafka export %s: %w", kind, err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.w.Close() }
