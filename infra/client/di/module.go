package clientdi

import (
	"context"

	"github.com/webitel/im-notification-service/infra/client/directory"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"clients",

	// [CONSTRUCTOR] Provides the resilient directory client
	fx.Provide(directory.New),

	// [LIFECYCLE] Release pooled connections on app shutdown
	fx.Invoke(func(lc fx.Lifecycle, client *directory.Client) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
	}),
)
