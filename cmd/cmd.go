package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/webitel/im-notification-service/config"
	"github.com/webitel/im-notification-service/infra/db/mongodb"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/store/mongostore"
)

const (
	ServiceName      = "im-notification-service"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	model.ServerVersion = version

	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Notification fan-out and live delivery for the social platform",
		Version: fmt.Sprintf("%s (%s, %s, built %s at %s)", version, branch, commit, buildTimestamp, commitDate),
		Commands: []*cli.Command{
			serverCmd(),
			migrateCmd(),
			purgeCmd(),
			monitorCmd(),
		},
	}

	return app.Run(os.Args)
}

// Every command hands its arguments to config.Load, which owns the flag set.
func configured(action func(c *cli.Context, cfg *config.Config) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.Args().First() == "-h" || c.Args().First() == "--help" {
			config.Flags(c.Command.Name).PrintDefaults()
			return nil
		}
		cfg, err := config.Load(c.Args().Slice())
		if err != nil {
			return err
		}
		return action(c, cfg)
	}
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:            "server",
		Aliases:         []string{"s"},
		Usage:           "Run the notification service",
		SkipFlagParsing: true,
		Action: configured(func(c *cli.Context, cfg *config.Config) error {
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
			defer cancel()
			return app.Stop(ctx)
		}),
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:            "migrate",
		Usage:           "Rewrite legacy records into the current shape and create indexes",
		SkipFlagParsing: true,
		Action: configured(func(c *cli.Context, cfg *config.Config) error {
			return withMongo(c.Context, cfg, func(ctx context.Context, repo *mongostore.Repository, logger *slog.Logger) error {
				report, err := repo.Backfill(ctx, logger)
				if err != nil {
					return err
				}
				if err := repo.EnsureIndexes(ctx); err != nil {
					return err
				}
				return json.NewEncoder(os.Stdout).Encode(report)
			})
		}),
	}
}

func purgeCmd() *cli.Command {
	return &cli.Command{
		Name:            "purge",
		Usage:           "Delete records older than store.retention",
		SkipFlagParsing: true,
		Action: configured(func(c *cli.Context, cfg *config.Config) error {
			if cfg.Store.Retention <= 0 {
				return fmt.Errorf("store.retention must be positive")
			}
			return withMongo(c.Context, cfg, func(ctx context.Context, repo *mongostore.Repository, logger *slog.Logger) error {
				before := time.Now().Add(-cfg.Store.Retention)
				n, err := repo.DeleteOlderThan(ctx, before)
				if err != nil {
					return err
				}
				logger.Info("RETENTION_PURGED", "before", before, "count", n)
				return nil
			})
		}),
	}
}

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:            "monitor",
		Usage:           "Live terminal dashboard of a running instance (http.addr)",
		SkipFlagParsing: true,
		Action: configured(func(c *cli.Context, cfg *config.Config) error {
			return runMonitor(c.Context, statsURL(cfg.HTTP.Addr), time.Second)
		}),
	}
}

func withMongo(ctx context.Context, cfg *config.Config, fn func(context.Context, *mongostore.Repository, *slog.Logger) error) error {
	if cfg.Store.Driver != "mongo" {
		return fmt.Errorf("command needs store.driver=mongo, got %q", cfg.Store.Driver)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))

	client, err := mongodb.Connect(ctx, cfg.Store.Mongo, logger)
	if err != nil {
		return err
	}
	defer func() { _ = mongodb.Disconnect(client) }()

	repo := mongostore.New(client.Database(cfg.Store.Mongo.Database), cfg.Store.Mongo.Collection)
	return fn(ctx, repo, logger)
}
