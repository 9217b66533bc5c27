// Package mqttbus is the MQTT plumbing shared by the coordinator and the
// device simulator: connection with retry, the topic table, a publisher and
// a multi-topic consumer.
package mqttbus

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
	// QoS applies to every subscription and publish; the devices only speak 0.
	QoS byte
	// MaxRetries bounds the connect attempts at startup.
	MaxRetries int
	// MaxElapsed bounds the total connect time at startup.
	MaxElapsed time.Duration
	// PersistentSession asks the broker to keep the subscriptions across
	// reconnects. Requires a stable ClientID.
	PersistentSession bool
}

func (c Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// Connect dials the broker with exponential backoff. The client is
// disconnected when ctx is cancelled.
func Connect(ctx context.Context, cfg Config, log *zap.SugaredLogger) (mqtt.Client, error) {
	connAddr := cfg.BrokerURL()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(!cfg.PersistentSession)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("mqtt: connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Infof("mqtt: reconnecting to %s", connAddr)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.MaxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 5
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warnf("mqtt: failed to connect to %s: %v", connAddr, token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	log.Infof("mqtt: connected to broker at %s", connAddr)

	go func() {
		<-ctx.Done()
		Close(client, log)
	}()

	return client, nil
}

// Close disconnects the client if it is still connected.
func Close(client mqtt.Client, log *zap.SugaredLogger) {
	if client.IsConnected() {
		client.Disconnect(250)
		log.Infof("mqtt: connection closed")
	}
}
