package servicedi

import (
	"context"
	"log/slog"

	"github.com/webitel/im-notification-service/config"
	"github.com/webitel/im-notification-service/infra/client/directory"
	"github.com/webitel/im-notification-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// [ADAPTER] The HTTP directory client backs the engines' Directory port
		fx.Annotate(
			func(c *directory.Client) *directory.Client { return c },
			fx.As(new(service.Directory)),
		),
		fx.Annotate(
			service.NewDirectoryEnricher,
			fx.As(new(service.Enricher)),
		),
		service.NewNotifier,
		service.NewCascade,
		service.NewInbox,
		fx.Annotate(
			service.NewDeliveryService,
			fx.As(new(service.Deliverer)),
		),
		func(inbox *service.Inbox, cfg *config.Config, logger *slog.Logger) *service.Janitor {
			return service.NewJanitor(inbox, cfg.Store.Retention, cfg.Store.PurgeInterval, logger)
		},
	),

	// [DECORATION_LAYER] Intercept Enricher to add cross-cutting concerns
	fx.Decorate(service.NewEnricherMiddleware),

	fx.Invoke(runJanitor),
)

func runJanitor(lc fx.Lifecycle, j *service.Janitor) {
	if !j.Enabled() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				j.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
