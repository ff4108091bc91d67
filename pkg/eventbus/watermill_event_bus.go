package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/pulse/pkg/events"
)

// ErrUnknownEventType is returned when publishing an event that belongs to
// neither lifecycle.
var ErrUnknownEventType = errors.New("unknown lifecycle event type")

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber

	mu       sync.RWMutex
	handlers map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		handlers:   make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish sends event on the topic of its entity kind. key is the entity ID
// and doubles as the Kafka partition key, so one entity's events stay ordered.
func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	eventType := event.GetType()

	topic := eventType.Topic()
	if topic == "" {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	msg := message.NewMessage(eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(eventType))

	err = eb.publisher.Publish(topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s event for %s: %w", eventType, key, err)
	}

	return nil
}

// Subscribe starts consuming both lifecycle topics. Events without a
// registered handler are acknowledged and dropped.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	tasks, err := eb.subscriber.Subscribe(ctx, events.TaskTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", events.TaskTopic, err)
	}

	workflows, err := eb.subscriber.Subscribe(ctx, events.WorkflowTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", events.WorkflowTopic, err)
	}

	go eb.consume(ctx, tasks, func() any { return &events.TaskLifecycle{} })
	go eb.consume(ctx, workflows, func() any { return &events.WorkflowLifecycle{} })

	return nil
}

func (eb *WatermillEventBus) consume(ctx context.Context, messages <-chan *message.Message, newEvent func() any) {
	for msg := range messages {
		eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

		eb.mu.RLock()
		handler, ok := eb.handlers[eventType]
		eb.mu.RUnlock()

		if !ok {
			msg.Ack()

			continue
		}

		event := newEvent()

		// A payload that does not decode never will; redelivery cannot help.
		if err := json.Unmarshal(msg.Payload, event); err != nil {
			msg.Ack()

			continue
		}

		if err := handler(ctx, event); err != nil {
			msg.Nack()

			continue
		}

		msg.Ack()
	}
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	if eventType.Topic() == "" {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	return errors.Join(eb.publisher.Close(), eb.subscriber.Close())
}
