package cmd

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/im-notification-service/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// ProvideLogger builds the process logger. The level follows log.level on config reload.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Log.Level))

	var h slog.Handler
	switch {
	case cfg.Log.OTel:
		// [BRIDGE] Records go to the global OpenTelemetry LoggerProvider.
		h = otelslog.NewHandler(cfg.Service.Name)
	case cfg.Log.Format == "text":
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(&traceHandler{Handler: h}).With("service", cfg.Service.Name, "instance", cfg.Service.ID)
	slog.SetDefault(logger)

	cfg.OnChange(func(next *config.Config) {
		if l := parseLevel(next.Log.Level); l != level.Level() {
			level.Set(l)
			logger.Info("LOG_LEVEL_CHANGED", "level", l.String())
		}
	})
	return logger
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// traceHandler stamps records logged under an active span with its trace id.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// ProvideWatermillLogger routes watermill's logs through the process logger.
func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

// ProvideTracerProvider registers the global tracer provider used by ingress spans and the
// gRPC stats handler.
func ProvideTracerProvider(lc fx.Lifecycle, cfg *config.Config) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.Service.Name),
			attribute.String("service.namespace", ServiceNamespace),
			attribute.String("service.instance.id", cfg.Service.ID),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	lc.Append(fx.Hook{
		OnStop: tp.Shutdown,
	})
	return tp
}
