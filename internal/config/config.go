// Package config loads the smarthome service configuration from a YAML file,
// SMARTHOME_ environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
	"github.com/LeonardoBeccarini/smarthome/internal/services/persistence"
	"github.com/LeonardoBeccarini/smarthome/pkg/mqttbus"
)

// EnvPrefix is prepended to every environment override, e.g.
// SMARTHOME_MQTT_HOST for mqtt.host.
const EnvPrefix = "SMARTHOME"

type Config struct {
	HTTP       HTTPConfig            `mapstructure:"http"`
	GRPC       GRPCConfig            `mapstructure:"grpc"`
	MQTT       MQTTConfig            `mapstructure:"mqtt"`
	Store      StoreConfig           `mapstructure:"store"`
	Kafka      KafkaConfig           `mapstructure:"kafka"`
	Hub        HubConfig             `mapstructure:"hub"`
	Thresholds model.ThresholdConfig `mapstructure:"thresholds"`
	Log        LogConfig             `mapstructure:"log"`
}

type HTTPConfig struct {
	Address        string        `mapstructure:"address"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type GRPCConfig struct {
	// Address empty disables the gRPC surface.
	Address string `mapstructure:"address"`
}

type MQTTConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	ClientID       string        `mapstructure:"client_id"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            int           `mapstructure:"qos"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type BreakerConfig struct {
	Failures int           `mapstructure:"failures"`
	OpenFor  time.Duration `mapstructure:"open_for"`
}

type StoreConfig struct {
	Backend        string         `mapstructure:"backend"`
	Influx         InfluxConfig   `mapstructure:"influx"`
	Postgres       PostgresConfig `mapstructure:"postgres"`
	PersistTimeout time.Duration  `mapstructure:"persist_timeout"`
	// Retention 0 disables pruning.
	Retention      time.Duration `mapstructure:"retention"`
	RetentionEvery time.Duration `mapstructure:"retention_every"`
	// WriteErrorWindow keeps /readyz failing this long after a failed write.
	WriteErrorWindow time.Duration `mapstructure:"write_error_window"`
	Breaker          BreakerConfig `mapstructure:"breaker"`
}

type KafkaConfig struct {
	// Brokers empty disables the export mirror.
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// QueueSize bounds the rows waiting for the exporter; overflow is dropped.
	QueueSize int `mapstructure:"queue_size"`
}

type HubConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.address", ":8000")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.request_timeout", 5*time.Second)

	v.SetDefault("grpc.address", ":50051")

	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.user", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "smarthome-coordinator")
	v.SetDefault("mqtt.topic_prefix", "")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.publish_timeout", 2*time.Second)
	v.SetDefault("mqtt.connect_retries", 10)

	v.SetDefault("store.backend", persistence.BackendMemory)
	v.SetDefault("store.influx.url", "http://localhost:8086")
	v.SetDefault("store.influx.token", "")
	v.SetDefault("store.influx.org", "smarthome")
	v.SetDefault("store.influx.bucket", "smarthome")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.persist_timeout", 5*time.Second)
	v.SetDefault("store.retention", time.Duration(0))
	v.SetDefault("store.retention_every", time.Hour)
	v.SetDefault("store.write_error_window", 30*time.Second)
	v.SetDefault("store.breaker.failures", 3)
	v.SetDefault("store.breaker.open_for", 10*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "smarthome.events")
	v.SetDefault("kafka.queue_size", 1024)

	v.SetDefault("hub.queue_size", 256)
	v.SetDefault("hub.write_timeout", 2*time.Second)

	v.SetDefault("thresholds.activation_temp", model.DefaultActivationTemp)
	v.SetDefault("thresholds.deactivation_temp", model.DefaultDeactivationTemp)
	v.SetDefault("thresholds.dry_soil", model.DefaultDrySoil)
	v.SetDefault("thresholds.wet_soil", model.DefaultWetSoil)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads path (optional) plus the environment into a validated Config.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case persistence.BackendMemory, persistence.BackendPostgres, persistence.BackendInflux:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.Backend == persistence.BackendInflux {
		in := c.Store.Influx
		if in.URL == "" || in.Org == "" || in.Bucket == "" {
			errs = append(errs, errors.New("store.influx: url, org and bucket are required"))
		}
	}
	if c.Store.Backend == persistence.BackendPostgres && c.Store.Postgres.DSN == "" {
		errs = append(errs, errors.New("store.postgres.dsn: required for the postgres backend"))
	}
	if c.HTTP.Address == "" {
		errs = append(errs, errors.New("http.address: required"))
	}
	if c.MQTT.Host == "" {
		errs = append(errs, errors.New("mqtt.host: required"))
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.port: %d out of range", c.MQTT.Port))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos: %d not in 0..2", c.MQTT.QoS))
	}
	if c.Hub.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("hub.queue_size: %d must be at least 1", c.Hub.QueueSize))
	}
	for name, d := range map[string]time.Duration{
		"http.request_timeout":     c.HTTP.RequestTimeout,
		"mqtt.publish_timeout":     c.MQTT.PublishTimeout,
		"store.persist_timeout":    c.Store.PersistTimeout,
		"store.retention":          c.Store.Retention,
		"store.retention_every":    c.Store.RetentionEvery,
		"store.write_error_window": c.Store.WriteErrorWindow,
		"store.breaker.open_for":   c.Store.Breaker.OpenFor,
		"hub.write_timeout":        c.Hub.WriteTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: negative duration %s", name, d))
		}
	}
	if c.Kafka.Enabled() && c.Kafka.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("kafka.queue_size: %d must be at least 1", c.Kafka.QueueSize))
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic: required when brokers are set"))
	}
	if field, err := c.Thresholds.CheckSoil(); err != nil {
		errs = append(errs, fmt.Errorf("thresholds.%s: %w", field, err))
	}
	return errors.Join(errs...)
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// Bus converts the MQTT section for mqttbus.Connect.
func (m MQTTConfig) Bus() mqttbus.Config {
	return mqttbus.Config{
		Host:       m.Host,
		Port:       m.Port,
		User:       m.User,
		Password:   m.Password,
		ClientID:   m.ClientID,
		QoS:        byte(m.QoS),
		MaxRetries: m.ConnectRetries,

		PersistentSession: true,
	}
}

func (m MQTTConfig) Topics() mqttbus.Topics { return mqttbus.Topics{Prefix: m.TopicPrefix} }

// Persistence converts the store section for persistence.Open.
func (s StoreConfig) Persistence() persistence.Config {
	return persistence.Config{
		Backend: s.Backend,
		Influx: persistence.InfluxConfig{
			URL:    s.Influx.URL,
			Token:  s.Influx.Token,
			Org:    s.Influx.Org,
			Bucket: s.Influx.Bucket,
		},
		PostgresDSN: s.Postgres.DSN,
	}
}

func (s StoreConfig) BreakerSettings() persistence.BreakerConfig {
	return persistence.BreakerConfig{Failures: s.Breaker.Failures, OpenFor: s.Breaker.OpenFor}
}
