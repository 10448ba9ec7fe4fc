package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"powerguard-service/internal/client"
	"powerguard-service/internal/config"
	"powerguard-service/internal/models"
)

// KafkaChannel publishes channel payloads to a Kafka topic consumed by the
// delivery workers (push gateway, messaging gateway). Delivery guarantees
// past the broker are the consumer's concern.
type KafkaChannel struct {
	producer    *client.KafkaProducer
	name        string
	topic       string
	critical    bool
	minInterval time.Duration
}

func NewPushChannel(cfg *config.Config, producer *client.KafkaProducer) *KafkaChannel {
	return &KafkaChannel{
		producer: producer,
		name:     ChannelPush,
		topic:    cfg.Kafka.PushTopic,
	}
}

func NewMessageChannel(cfg *config.Config, producer *client.KafkaProducer) *KafkaChannel {
	return &KafkaChannel{
		producer:    producer,
		name:        ChannelMessage,
		topic:       cfg.Kafka.MessageTopic,
		critical:    true,
		minInterval: cfg.Security.NotifyMinInterval,
	}
}

func (c *KafkaChannel) Name() string { return c.name }

func (c *KafkaChannel) Critical() bool { return c.critical }

func (c *KafkaChannel) MinInterval() time.Duration { return c.minInterval }

func (c *KafkaChannel) Send(ctx context.Context, recipient models.GuardianContact, payload *Payload) error {
	envelope := struct {
		Recipient models.GuardianContact `json:"recipient"`
		Payload   *Payload               `json:"payload"`
	}{Recipient: recipient, Payload: payload}

	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode channel payload: %w", err)
	}

	headers := map[string]string{
		"channel":    c.name,
		"alert_type": string(payload.AlertType),
	}

	if err := c.producer.ProduceMessage(ctx, c.topic, []byte(payload.DeviceID), value, headers); err != nil {
		return fmt.Errorf("failed to publish to %s channel: %w", c.name, err)
	}
	return nil
}
