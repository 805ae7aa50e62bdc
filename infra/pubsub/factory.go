// Package pubsub builds the watermill AMQP publishers and subscribers used by ingress and
// cluster push. Every builder declares topic exchanges; the watermill topic is the routing key.
package pubsub

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-notification-service/config"
)

const ExchangeTopic = "topic"

// SubscriberConfig describes one consumer queue and its binding.
type SubscriberConfig struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Prefetch   int
	// Durable queues survive broker restarts and are shared by competing consumers.
	// Non-durable queues are exclusive to this process and vanish with it.
	Durable bool
}

// Factory is the single place that knows the broker url.
type Factory struct {
	url    string
	logger watermill.LoggerAdapter
}

func NewFactory(cfg *config.Config, logger watermill.LoggerAdapter) *Factory {
	return &Factory{url: cfg.Broker.AMQP.URL, logger: logger}
}

// BuildPublisher returns a publisher into a durable topic exchange.
func (f *Factory) BuildPublisher(exchange string) (message.Publisher, error) {
	c := amqp.NewDurablePubSubConfig(f.url, nil)
	c.Exchange.GenerateName = func(string) string { return exchange }
	c.Exchange.Type = ExchangeTopic
	c.Publish.GenerateRoutingKey = func(topic string) string { return topic }

	pub, err := amqp.NewPublisher(c, f.logger)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher %s: %w", exchange, err)
	}
	return pub, nil
}

// BuildQueuePublisher publishes straight to a durable queue named after the topic through
// the default exchange. Used for poison messages, which must outlive every consumer.
func (f *Factory) BuildQueuePublisher() (message.Publisher, error) {
	pub, err := amqp.NewPublisher(amqp.NewDurableQueueConfig(f.url), f.logger)
	if err != nil {
		return nil, fmt.Errorf("amqp queue publisher: %w", err)
	}
	return pub, nil
}

// BuildSubscriber declares the exchange, the queue and the binding on first Subscribe.
func (f *Factory) BuildSubscriber(sc SubscriberConfig) (message.Subscriber, error) {
	var c amqp.Config
	if sc.Durable {
		c = amqp.NewDurablePubSubConfig(f.url, amqp.GenerateQueueNameConstant(sc.Queue))
	} else {
		c = amqp.NewNonDurablePubSubConfig(f.url, amqp.GenerateQueueNameConstant(sc.Queue))
		c.Queue.Exclusive = true
	}
	c.Exchange.GenerateName = func(string) string { return sc.Exchange }
	c.Exchange.Type = ExchangeTopic
	c.QueueBind.GenerateRoutingKey = func(string) string { return sc.RoutingKey }
	if sc.Prefetch > 0 {
		c.Consume.Qos.PrefetchCount = sc.Prefetch
	}

	sub, err := amqp.NewSubscriber(c, f.logger)
	if err != nil {
		return nil, fmt.Errorf("amqp subscriber %s: %w", sc.Queue, err)
	}
	return sub, nil
}
