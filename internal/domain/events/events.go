// Package events provides domain event handling capabilities for communicating
// state changes across system boundaries in a decoupled way.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType represents a domain event category, enabling type-safe event
// routing and handling.
type EventType string

// DomainEvent is implemented by every domain-level event payload.
type DomainEvent interface {
	// EventType identifies the category of this event for routing and handling.
	EventType() EventType

	// OccurredAt records when this event was created.
	OccurredAt() time.Time
}

// EventEnvelope is the transport-level representation of a domain event.
type EventEnvelope struct {
	// ID uniquely identifies this envelope for de-duplication downstream.
	ID uuid.UUID

	// Type identifies the category of this event.
	Type EventType

	// Key enables consistent event routing, typically a business identifier
	// the events can be grouped or partitioned by.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when the wrapped event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on
	// the EventType.
	Payload any
}

// DomainEventPublisher publishes domain events to notify other parts of the
// system about important domain changes. It provides a technology-agnostic
// interface to decouple event producers from the underlying messaging
// infrastructure.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers.
	// Delivery is best effort; the core never depends on an acknowledgment.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// EventBus broadcasts event envelopes across system boundaries. It abstracts
// messaging infrastructure details (like Kafka) to keep domain logic focused
// on business concerns rather than transport mechanisms.
type EventBus interface {
	// Publish broadcasts an event envelope to all interested subscribers.
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error

	// Close gracefully shuts down the event bus and releases associated
	// resources.
	Close() error
}

// PublishOption is a function type that modifies PublishParams, enabling
// flexible configuration of event publishing behavior.
type PublishOption func(*PublishParams)

// PublishParams contains configuration options for publishing domain events.
type PublishParams struct {
	// Key is used as a partition key to control event routing and ordering.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string
}

// WithKey returns a PublishOption that sets the partition key for event
// routing. The key ensures related events are processed in order by the same
// consumer.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeaders returns a PublishOption that attaches metadata headers to an
// event.
func WithHeaders(headers map[string]string) PublishOption {
	return func(p *PublishParams) { p.Headers = headers }
}
