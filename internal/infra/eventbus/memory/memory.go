// Package memory provides an in-process event bus for tests and
// single-binary deployments without Kafka.
package memory

import (
	"context"
	"sync"

	"github.com/ocrforge/procdispatch/internal/domain/events"
)

// Handler receives published envelopes.
type Handler func(ctx context.Context, event events.EventEnvelope) error

// EventBus implements events.EventBus by invoking subscribed handlers
// synchronously in subscription order.
type EventBus struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a handler for all subsequent publishes.
func (b *EventBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish invokes every handler with the envelope. The handler slice is
// snapshotted first so handlers may subscribe without deadlocking. The first
// handler error aborts the fan-out.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return err
		}
	}

	return nil
}

// Close drops all handlers; later publishes are silently discarded.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}
