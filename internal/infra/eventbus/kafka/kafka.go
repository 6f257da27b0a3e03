// Package kafka provides a Kafka-backed event bus for job lifecycle events.
// Envelopes are serialized as JSON and keyed by the event's routing key so
// all events for one job land on the same partition, in order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"

	"github.com/ocrforge/procdispatch/internal/domain/events"
	"github.com/ocrforge/procdispatch/pkg/common/logger"
)

// Config contains the settings needed to connect to Kafka.
type Config struct {
	// Brokers is the list of bootstrap broker addresses.
	Brokers []string

	// JobLifecycleTopic receives one message per job state transition.
	JobLifecycleTopic string

	// ClientID identifies this producer to the brokers.
	ClientID string
}

// EventBus implements events.EventBus on a Kafka sync producer.
type EventBus struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

// NewEventBus creates a bus over an existing producer. Used directly by
// tests; production code goes through ConnectEventBus.
func NewEventBus(producer sarama.SyncProducer, topic string, log *logger.Logger) *EventBus {
	return &EventBus{
		producer: producer,
		topic:    topic,
		log:      log.With("component", "kafka_event_bus"),
	}
}

// ConnectEventBus connects to the brokers with exponential backoff and
// returns a ready bus. Brokers that are still starting up alongside the
// service are retried for up to two minutes.
func ConnectEventBus(ctx context.Context, cfg Config, log *logger.Logger) (*EventBus, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Version = sarama.V3_6_0_0
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	var producer sarama.SyncProducer

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 15 * time.Second
	policy.MaxElapsedTime = 2 * time.Minute

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		p, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
		if err != nil {
			log.Warn(ctx, "kafka not ready, retrying", "brokers", cfg.Brokers, "err", err)
			return err
		}
		producer = p
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("connecting to kafka %v: %w", cfg.Brokers, err)
	}

	log.Info(ctx, "connected to kafka", "brokers", cfg.Brokers, "topic", cfg.JobLifecycleTopic)

	return NewEventBus(producer, cfg.JobLifecycleTopic, log), nil
}

// wireEnvelope is the JSON shape of an envelope on the topic.
type wireEnvelope struct {
	ID        string            `json:"id"`
	Type      events.EventType  `json:"type"`
	Key       string            `json:"key"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload"`
}

// Publish sends the envelope to the lifecycle topic keyed by the envelope key.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}

	key := event.Key
	if params.Key != "" {
		key = params.Key
	}

	value, err := json.Marshal(wireEnvelope{
		ID:        event.ID.String(),
		Type:      event.Type,
		Key:       key,
		Headers:   event.Headers,
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshaling %s envelope: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	for k, v := range params.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}

	partition, offset, err := b.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("sending %s envelope: %w", event.Type, err)
	}

	b.log.Debug(ctx, "published event", "type", event.Type, "key", key, "partition", partition, "offset", offset)

	return nil
}

// Close shuts the producer down.
func (b *EventBus) Close() error {
	return b.producer.Close()
}
