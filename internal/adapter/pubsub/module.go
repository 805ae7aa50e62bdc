package pubsub

import (
	"context"
	"log/slog"

	"github.com/webitel/im-notification-service/config"
	infrapubsub "github.com/webitel/im-notification-service/infra/pubsub"
	"github.com/webitel/im-notification-service/internal/domain/registry"
	"github.com/webitel/im-notification-service/internal/service"
	"go.uber.org/fx"
)

const (
	ModeLocal   = "local"
	ModeCluster = "cluster"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		infrapubsub.NewFactory,
		NewPublisherProvider,
		func(f *infrapubsub.Factory, cfg *config.Config) *SubscriberProvider {
			return NewSubscriberProvider(f, cfg.Broker.AMQP.Prefetch)
		},
		ProvidePusher,
	),
)

// ProvidePusher picks where engine pushes go: the local hub, or the push exchange when
// several instances share the recipients.
func ProvidePusher(lc fx.Lifecycle, cfg *config.Config, pp *PublisherProvider, hub registry.Hubber, logger *slog.Logger) (service.Pusher, error) {
	if cfg.Delivery.Mode != ModeCluster {
		return hub, nil
	}

	pub, err := pp.Build(cfg.Broker.AMQP.PushExchange)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pub.Close()
		},
	})

	logger.Info("PUSH_MODE_CLUSTER", "exchange", cfg.Broker.AMQP.PushExchange)
	return NewClusterPusher(NewEventDispatcher(pub), hub, logger), nil
}
