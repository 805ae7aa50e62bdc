package storedi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/webitel/im-notification-service/config"
	"github.com/webitel/im-notification-service/infra/db/mongodb"
	"github.com/webitel/im-notification-service/internal/store"
	"github.com/webitel/im-notification-service/internal/store/mongostore"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"store",

	// [DRIVER_SELECTION] memory for local runs, mongo otherwise
	fx.Provide(func(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (store.Repository, error) {
		switch cfg.Store.Driver {
		case "memory":
			logger.Warn("STORE_IN_MEMORY", "hint", "records are lost on restart")
			return store.NewMemory(), nil
		case "mongo":
			return provideMongo(lc, cfg, logger)
		}
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}),
)

func provideMongo(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (store.Repository, error) {
	client, err := mongodb.Connect(context.Background(), cfg.Store.Mongo, logger)
	if err != nil {
		return nil, err
	}
	repo := mongostore.New(client.Database(cfg.Store.Mongo.Database), cfg.Store.Mongo.Collection)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return repo.EnsureIndexes(ctx)
		},
		// [LIFECYCLE] Close the pool after every consumer has stopped
		OnStop: func(ctx context.Context) error {
			return mongodb.Disconnect(client)
		},
	})
	return repo, nil
}
