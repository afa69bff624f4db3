// Package eventbus carries execution requests, lifecycle events and results
// between the API, workers and observers.
package eventbus

import (
	"context"
	"errors"

	"github.com/dukex/stepflow/pkg/events"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrNoHandlers       = errors.New("no handlers registered")
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	// Publish sends event on the topic for its type. key orders messages
	// sharing it on partitioned transports.
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	// Subscribe starts delivering messages for every handled event type. It
	// returns once the subscriptions are established.
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event struct. A non-nil
// error nacks the message.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
