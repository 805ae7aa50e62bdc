package registry

import (
	"context"
	"log/slog"

	"github.com/webitel/im-notification-service/config"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(cfg *config.Config, logger *slog.Logger) *Hub {
			return NewHub(
				WithEvictionInterval(cfg.Delivery.EvictionInterval),
				WithIdleTimeout(cfg.Delivery.IdleTimeout),
				WithMailboxSize(cfg.Delivery.MailboxSize),
				WithSendTimeout(cfg.Delivery.SendTimeout),
				WithLogger(logger),
			)
		},
		func(h *Hub) Hubber { return h },
	),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown() // [GRACEFUL_SHUTDOWN] Stop all Actor goroutines
				return nil
			},
		})
	}),
)
