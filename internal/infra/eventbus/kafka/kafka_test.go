package kafka

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocrforge/procdispatch/internal/domain/events"
	"github.com/ocrforge/procdispatch/pkg/common/logger"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

func testEnvelope() events.EventEnvelope {
	return events.EventEnvelope{
		ID:        uuid.New(),
		Type:      "JobCompleted",
		Key:       "wf-1",
		Timestamp: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		Payload:   map[string]any{"jobId": 7, "state": "completed"},
	}
}

func TestPublish_SerializesEnvelope(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "wf-1", string(key))
		assert.Equal(t, "job-lifecycle", msg.Topic)

		value, err := msg.Value.Encode()
		require.NoError(t, err)

		var wire wireEnvelope
		require.NoError(t, json.Unmarshal(value, &wire))
		assert.Equal(t, events.EventType("JobCompleted"), wire.Type)
		assert.Equal(t, "wf-1", wire.Key)
		assert.NotEmpty(t, wire.ID)
		return nil
	})

	bus := NewEventBus(producer, "job-lifecycle", testLogger())
	defer bus.Close()

	err := bus.Publish(context.Background(), testEnvelope())
	require.NoError(t, err)
}

func TestPublish_KeyOptionOverridesEnvelopeKey(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "override", string(key))
		return nil
	})

	bus := NewEventBus(producer, "job-lifecycle", testLogger())
	defer bus.Close()

	err := bus.Publish(context.Background(), testEnvelope(), events.WithKey("override"))
	require.NoError(t, err)
}

func TestPublish_HeadersBecomeRecordHeaders(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		require.Len(t, msg.Headers, 1)
		assert.Equal(t, "trace_id", string(msg.Headers[0].Key))
		assert.Equal(t, "abc123", string(msg.Headers[0].Value))
		return nil
	})

	bus := NewEventBus(producer, "job-lifecycle", testLogger())
	defer bus.Close()

	err := bus.Publish(context.Background(), testEnvelope(), events.WithHeaders(map[string]string{"trace_id": "abc123"}))
	require.NoError(t, err)
}

func TestPublish_ProducerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	bus := NewEventBus(producer, "job-lifecycle", testLogger())
	defer bus.Close()

	err := bus.Publish(context.Background(), testEnvelope())
	assert.Error(t, err)
}
