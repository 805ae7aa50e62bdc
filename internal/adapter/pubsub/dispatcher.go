package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-notification-service/internal/domain/event"
)

// EventDispatcher defines the high-level contract for outgoing push events.
// This allows the service layer to stay agnostic of the transport implementation.
type EventDispatcher interface {
	Publish(ctx context.Context, ev event.Eventer) error
	Publisher() message.Publisher
}

type eventDispatcher struct {
	publisher message.Publisher
}

func NewEventDispatcher(pub message.Publisher) EventDispatcher {
	return &eventDispatcher{publisher: pub}
}

// Publish sends an exportable event to the push exchange under its routing key.
func (d *eventDispatcher) Publish(ctx context.Context, ev event.Eventer) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}
	exp, ok := ev.(event.Exportable)
	if !ok {
		return fmt.Errorf("event dispatcher: %s is not exportable", ev.GetKind())
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("user_id", ev.GetUserID())
	msg.Metadata.Set("event", ev.GetKind().String())
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		msg.Metadata.Set("trace_id", traceID)
	}
	msg.SetContext(ctx)

	topic := exp.GetRoutingKey()
	if err := d.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
