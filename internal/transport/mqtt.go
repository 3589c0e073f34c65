package transport

import (
	"context"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient is an interface for MQTT client operations
// This allows us to mock MQTT calls in tests
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// MQTT delivers operations by publishing the envelope to a broker topic at
// QoS 1. The broker side is then responsible for handing operations to the
// backend consumer.
type MQTT struct {
	client MQTTClient
	topic  string
	logger *slog.Logger
}

// NewMQTT creates an MQTT transport connected to broker, publishing to topic.
func NewMQTT(broker, topic string, logger *slog.Logger) (*MQTT, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("helix-sync").
		SetAutoReconnect(true)

	return &MQTT{
		client: mqtt.NewClient(opts),
		topic:  topic,
		logger: logger.With("transport", "mqtt"),
	}, nil
}

// NewMQTTWithClient wires a caller-supplied client, used in tests.
func NewMQTTWithClient(client MQTTClient, topic string, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{
		client: client,
		topic:  topic,
		logger: logger.With("transport", "mqtt"),
	}
}

func (m *MQTT) Deliver(ctx context.Context, payload []byte) error {
	if !m.client.IsConnected() {
		if err := m.wait(ctx, m.client.Connect()); err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
	}

	if err := m.wait(ctx, m.client.Publish(m.topic, 1, false, payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}

	m.logger.Debug("operation published", "topic", m.topic)
	return nil
}

// wait blocks on a paho token without ignoring ctx.
func (m *MQTT) wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tok.Done():
		return tok.Error()
	}
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
