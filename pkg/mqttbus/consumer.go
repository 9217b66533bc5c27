package mqttbus

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Handler processes one delivered message. A returned error is logged.
type Handler func(topic string, payload []byte) error

// MultiConsumer subscribes one handler to a set of topic filters.
type MultiConsumer struct {
	client  mqtt.Client
	topics  []string
	qos     byte
	handler Handler
	log     *zap.SugaredLogger
}

func NewMultiConsumer(client mqtt.Client, topics []string, qos byte, handler Handler, log *zap.SugaredLogger) *MultiConsumer {
	return &MultiConsumer{
		client:  client,
		topics:  topics,
		qos:     qos,
		handler: handler,
		log:     log,
	}
}

// Subscribe registers every filter and returns the first failure.
func (m *MultiConsumer) Subscribe() error {
	for _, topic := range m.topics {
		token := m.client.Subscribe(topic, m.qos, func(_ mqtt.Client, msg mqtt.Message) {
			if err := m.handler(msg.Topic(), msg.Payload()); err != nil {
				m.log.Warnf("mqtt: handling message on %s: %v", msg.Topic(), err)
			}
		})
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		m.log.Infof("mqtt: subscribed to %s", topic)
	}
	return nil
}

// ConsumeMessage subscribes and blocks until ctx is cancelled, then
// unsubscribes from every filter.
func (m *MultiConsumer) ConsumeMessage(ctx context.Context) error {
	if err := m.Subscribe(); err != nil {
		return err
	}

	<-ctx.Done()

	if m.client.IsConnectionOpen() {
		m.client.Unsubscribe(m.topics...).Wait()
	}
	return nil
}
