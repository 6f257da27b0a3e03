// Package eventbus adapts domain event publishing onto a transport-level
// event bus.
package eventbus

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ocrforge/procdispatch/internal/domain/events"
)

// DomainEventPublisher wraps an EventBus and translates domain events into
// transport envelopes.
type DomainEventPublisher struct {
	bus events.EventBus
}

// NewDomainEventPublisher creates a publisher over the given bus.
func NewDomainEventPublisher(bus events.EventBus) *DomainEventPublisher {
	return &DomainEventPublisher{bus: bus}
}

// PublishDomainEvent wraps the event in an envelope and hands it to the bus.
func (p *DomainEventPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}

	envelope := events.EventEnvelope{
		ID:        uuid.New(),
		Type:      event.EventType(),
		Key:       params.Key,
		Headers:   params.Headers,
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}

	if err := p.bus.Publish(ctx, envelope, opts...); err != nil {
		return fmt.Errorf("publishing %s event: %w", event.EventType(), err)
	}

	return nil
}
