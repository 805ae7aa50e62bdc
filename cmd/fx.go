package cmd

import (
	"log/slog"

	"github.com/webitel/im-notification-service/config"
	clientdi "github.com/webitel/im-notification-service/infra/client/di"
	grpcsrv "github.com/webitel/im-notification-service/infra/server/grpc"
	httpsrv "github.com/webitel/im-notification-service/infra/server/http"
	"github.com/webitel/im-notification-service/internal/adapter/pubsub"
	"github.com/webitel/im-notification-service/internal/domain/registry"
	amqpdi "github.com/webitel/im-notification-service/internal/handler/amqp"
	"github.com/webitel/im-notification-service/internal/handler/ingress"
	kafkadi "github.com/webitel/im-notification-service/internal/handler/kafka"
	"github.com/webitel/im-notification-service/internal/handler/rest"
	servicedi "github.com/webitel/im-notification-service/internal/service/di"
	storedi "github.com/webitel/im-notification-service/internal/store/di"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideTracerProvider,
		),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			fl := &fxevent.SlogLogger{Logger: l.With("component", "fx")}
			fl.UseLogLevel(slog.LevelDebug)
			return fl
		}),
		// Spans need the provider registered before the first message is consumed.
		fx.Invoke(func(*sdktrace.TracerProvider) {}),

		storedi.Module,
		clientdi.Module,
		registry.Module,
		pubsub.Module,
		servicedi.Module,
		ingress.Module,
		amqpdi.Module,
		kafkadi.Module,
		httpsrv.Module,
		rest.Module,
		grpcsrv.Module,
	)
}
