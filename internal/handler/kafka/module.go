package kafka

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"github.com/webitel/im-notification-service/config"
	"github.com/webitel/im-notification-service/internal/handler/ingress"
	"go.uber.org/fx"
	"go.uber.org/multierr"
)

const DriverKafka = "kafka"

var Module = fx.Module("kafka-handler",
	fx.Invoke(Start),
)

// Start runs the consumer for the lifetime of the app when Kafka is the ingress broker.
func Start(lc fx.Lifecycle, cfg *config.Config, d *ingress.Dispatcher, logger *slog.Logger) {
	if cfg.Broker.Driver != DriverKafka {
		return
	}
	kc := cfg.Broker.Kafka

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kc.Brokers,
		GroupID:  kc.GroupID,
		Topic:    kc.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	poison := &kafka.Writer{
		Addr:         kafka.TCP(kc.Brokers...),
		Topic:        kc.PoisonTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	consumer := NewConsumer(reader, poison, d, logger, cfg.Broker.HandlerTimeout, cfg.Broker.MaxRetries, cfg.Broker.RetryInterval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := consumer.Run(ctx); err != nil {
					logger.Error("KAFKA_CONSUMER_STOPPED", "err", err)
				}
			}()
			logger.Info("KAFKA_PIPELINE_READY", "topic", kc.Topic, "group", kc.GroupID)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return multierr.Combine(reader.Close(), poison.Close())
		},
	})
}
