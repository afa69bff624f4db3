package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/stepflow/pkg/events"
)

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        logger.With("module", "eventbus"),
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	topic := events.TopicFor(event.GetType())
	if topic == "" {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, event.GetType())
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(topic, msg)
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	if events.TopicFor(eventType) == "" {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	eb.mu.RLock()
	types := slices.Sorted(maps.Keys(eb.subscriptions))
	eb.mu.RUnlock()

	if len(types) == 0 {
		return ErrNoHandlers
	}

	topics := make([]string, 0, len(types))
	for _, eventType := range types {
		if topic := events.TopicFor(eventType); !slices.Contains(topics, topic) {
			topics = append(topics, topic)
		}
	}

	for _, topic := range topics {
		messages, err := eb.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}

		go eb.consume(ctx, topic, messages)
	}

	return nil
}

func (eb *WatermillEventBus) consume(ctx context.Context, topic string, messages <-chan *message.Message) {
	for msg := range messages {
		eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

		eb.mu.RLock()
		handler, exists := eb.subscriptions[eventType]
		eb.mu.RUnlock()

		if !exists {
			msg.Ack()

			continue
		}

		event, err := decode(eventType, msg.Payload)
		if err != nil {
			eb.logger.ErrorContext(ctx, "Dropping undecodable message",
				"topic", topic, "event_type", eventType, "message_id", msg.UUID, "error", err)
			// Redelivery cannot fix a bad payload.
			msg.Ack()

			continue
		}

		if err := handler(ctx, event); err != nil {
			eb.logger.WarnContext(ctx, "Event handler failed",
				"topic", topic, "event_type", eventType, "message_id", msg.UUID, "error", err)
			msg.Nack()

			continue
		}

		msg.Ack()
	}
}

func decode(eventType events.EventType, payload []byte) (any, error) {
	var event any

	switch eventType {
	case events.ExecutionRequestedEvent:
		event = &events.ExecutionRequested{}
	case events.ExecutionLifecycleEvent:
		event = &events.ExecutionLifecycle{}
	case events.ExecutionFinishedEvent:
		event = &events.ExecutionFinished{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	if err := json.Unmarshal(payload, event); err != nil {
		return nil, err
	}

	return event, nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
