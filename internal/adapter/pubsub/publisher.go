package pubsub

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	infrapubsub "github.com/webitel/im-notification-service/infra/pubsub"
)

type contextKey string

// TraceIDKey carries the ingress trace id through handler contexts.
const TraceIDKey contextKey = "trace_id"

const (
	// PushRoutingKey binds an instance queue to every push event.
	PushRoutingKey = "notification.push.#"
	// PushQueuePrefix names the exclusive per-instance push queue.
	PushQueuePrefix = "im-notification.push.v1"
)

type PublisherProvider struct {
	factory *infrapubsub.Factory
}

func NewPublisherProvider(f *infrapubsub.Factory) *PublisherProvider {
	return &PublisherProvider{factory: f}
}

func (pp *PublisherProvider) Build(exchange string) (message.Publisher, error) {
	return pp.factory.BuildPublisher(exchange)
}

// Poison returns the publisher dead-lettered messages go to.
func (pp *PublisherProvider) Poison() (message.Publisher, error) {
	return pp.factory.BuildQueuePublisher()
}

type SubscriberProvider struct {
	factory  *infrapubsub.Factory
	prefetch int
}

func NewSubscriberProvider(f *infrapubsub.Factory, prefetch int) *SubscriberProvider {
	return &SubscriberProvider{factory: f, prefetch: prefetch}
}

// Build returns a durable competing-consumer subscriber.
func (sp *SubscriberProvider) Build(queue, exchange, routingKey string) (message.Subscriber, error) {
	return sp.factory.BuildSubscriber(infrapubsub.SubscriberConfig{
		Queue:      queue,
		Exchange:   exchange,
		RoutingKey: routingKey,
		Prefetch:   sp.prefetch,
		Durable:    true,
	})
}

// BuildExclusive returns a subscriber that receives every push event for this instance only.
func (sp *SubscriberProvider) BuildExclusive(instanceID, exchange string) (message.Subscriber, error) {
	return sp.factory.BuildSubscriber(infrapubsub.SubscriberConfig{
		Queue:      fmt.Sprintf("%s.%s", PushQueuePrefix, instanceID),
		Exchange:   exchange,
		RoutingKey: PushRoutingKey,
		Prefetch:   sp.prefetch,
	})
}
