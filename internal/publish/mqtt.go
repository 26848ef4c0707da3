package publish

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MQTT struct {
	client mqtt.Client
	topic  string
}

// NewMQTT connects to broker and publishes every reading to topic at QoS 0.
func NewMQTT(broker, clientID, topic string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", broker, err)
	}
	return &MQTT{client: client, topic: topic}, nil
}

func (m *MQTT) Publish(ctx context.Context, key string, payload []byte) error {
	token := m.client.Publish(m.topic, 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt: publish to %s: %w", m.topic, ctx.Err())
	}
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
