package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.HTTP.Address)
	assert.Equal(t, ":50051", cfg.GRPC.Address)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 256, cfg.Hub.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Hub.WriteTimeout)
	assert.Equal(t, model.DefaultThresholds(), cfg.Thresholds)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, 1024, cfg.Kafka.QueueSize)
	assert.Zero(t, cfg.Store.Retention)
	assert.Equal(t, 30*time.Second, cfg.Store.WriteErrorWindow)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smarthome.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  address: ":9000"
mqtt:
  host: broker.local
  topic_prefix: casa
store:
  backend: influx
  influx:
    token: secret
  retention: 720h
thresholds:
  dry_soil: 25
hub:
  write_timeout: 500ms
`), 0o600))
	t.Setenv("SMARTHOME_MQTT_PORT", "8883")
	t.Setenv("SMARTHOME_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Address)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, "casa/system/mode", cfg.MQTT.Topics().Mode())
	assert.Equal(t, "influx", cfg.Store.Backend)
	assert.Equal(t, "secret", cfg.Store.Persistence().Influx.Token)
	assert.Equal(t, 720*time.Hour, cfg.Store.Retention)
	assert.Equal(t, 25, cfg.Thresholds.DrySoil)
	assert.Equal(t, model.DefaultWetSoil, cfg.Thresholds.WetSoil)
	assert.Equal(t, 500*time.Millisecond, cfg.Hub.WriteTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load(viper.New(), "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }, "store.backend"},
		{"influx without bucket", func(c *Config) { c.Store.Backend = "influx"; c.Store.Influx.Bucket = "" }, "store.influx"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = "postgres" }, "store.postgres.dsn"},
		{"empty queue", func(c *Config) { c.Hub.QueueSize = 0 }, "hub.queue_size"},
		{"negative timeout", func(c *Config) { c.Store.PersistTimeout = -time.Second }, "store.persist_timeout"},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"soil threshold", func(c *Config) { c.Thresholds.WetSoil = 120 }, "thresholds.wet_soil"},
		{"kafka without queue", func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.QueueSize = 0 }, "kafka.queue_size"},
		{"kafka without topic", func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.Topic = "" }, "kafka.topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
