// Package sensor_simulator stands in for the home devices: it publishes
// temperature, humidity, motion and soil moisture on the sensor topics and
// follows the fan and pump commands the coordinator sends.
package sensor_simulator

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
	"github.com/LeonardoBeccarini/smarthome/pkg/mqttbus"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type SensorSimulator struct {
	env    *Environment
	pub    Publisher
	topics mqttbus.Topics
	noise  float64
	log    *zap.SugaredLogger
}

func NewSensorSimulator(env *Environment, pub Publisher, topics mqttbus.Topics, noise float64, log *zap.SugaredLogger) *SensorSimulator {
	return &SensorSimulator{env: env, pub: pub, topics: topics, noise: noise, log: log}
}

// Start publishes one round every interval until ctx is cancelled.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PublishRound(ctx)
		}
	}
}

// PublishRound publishes one sample. Soil moisture goes last since it is
// the sample that completes a reading on the coordinator.
func (s *SensorSimulator) PublishRound(ctx context.Context) Sample {
	sample := s.env.Next(s.noise)
	values := []struct {
		sensor model.SensorName
		value  string
	}{
		{model.SensorTemperature, strconv.FormatFloat(sample.Temperature, 'f', 1, 64)},
		{model.SensorHumidity, strconv.FormatFloat(sample.Humidity, 'f', 1, 64)},
		{model.SensorMotion, strconv.Itoa(sample.Motion)},
		{model.SensorSoilMoisture, strconv.Itoa(sample.SoilMoisture)},
	}
	for _, v := range values {
		if err := s.pub.Publish(ctx, s.topics.Sensor(v.sensor), []byte(v.value)); err != nil {
			s.log.Warnf("simulator: publish %s: %v", v.sensor, err)
		}
	}
	s.log.Debugf("simulator: temp=%.1f hum=%.1f soil=%d motion=%d",
		sample.Temperature, sample.Humidity, sample.SoilMoisture, sample.Motion)
	return sample
}

// HandleActuator applies a command received on an actuator topic. Servo
// and LED commands are only logged.
func (s *SensorSimulator) HandleActuator(topic string, payload []byte) error {
	d, ok := s.topics.ParseActuator(topic)
	if !ok {
		return nil
	}
	cmd := strings.ToUpper(strings.TrimSpace(string(payload)))
	switch d.Kind {
	case model.KindFan:
		s.env.SetFan(cmd == "ON")
	case model.KindPump:
		s.env.SetPump(cmd == "ON")
	}
	s.log.Infof("simulator: %s -> %s", d, cmd)
	return nil
}
