package amqp

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	"github.com/webitel/im-notification-service/config"
	"github.com/webitel/im-notification-service/internal/adapter/pubsub"
)

// [TRACE_ID_MIDDLEWARE]
// Ensures TraceID persistence through the call chain.
func TraceIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		traceID := msg.Metadata.Get("trace_id")
		if traceID == "" {
			traceID = uuid.NewString()
			msg.Metadata.Set("trace_id", traceID)
		}

		ctx := context.WithValue(msg.Context(), pubsub.TraceIDKey, traceID)
		msg.SetContext(ctx)

		return h(msg)
	}
}

// [LOGGING_MIDDLEWARE]
// Structured logging with latency and TraceID.
func LoggingMiddleware(logger *slog.Logger, route string) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			logger.Debug("MESSAGE_HANDLED",
				"route", route,
				"msg_id", msg.UUID,
				"trace_id", msg.Metadata.Get("trace_id"),
				"duration_ms", time.Since(start).Milliseconds(),
				"success", err == nil,
			)
			return msgs, err
		}
	}
}

// [RETRY_MIDDLEWARE]
func NewRetryMiddleware(cfg *config.Config, logger watermill.LoggerAdapter) middleware.Retry {
	return middleware.Retry{
		MaxRetries:      cfg.Broker.MaxRetries,
		InitialInterval: cfg.Broker.RetryInterval,
		MaxInterval:     cfg.Broker.RetryInterval * 16,
		Multiplier:      2.0,
		Logger:          logger,
	}
}

// [ATTEMPT_TIMEOUT]
// RetryWithTimeout runs every attempt of retry under its own deadline derived from the
// message context as it was before the first attempt. The message context is restored
// between attempts, so the retry backoff never waits on an expired deadline.
func RetryWithTimeout(retry middleware.Retry, timeout time.Duration) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			base := msg.Context()
			attempt := func(msg *message.Message) ([]*message.Message, error) {
				if timeout <= 0 {
					return h(msg)
				}
				ctx, cancel := context.WithTimeout(base, timeout)
				defer func() {
					cancel()
					msg.SetContext(base)
				}()
				msg.SetContext(ctx)
				return h(msg)
			}
			return retry.Middleware(attempt)(msg)
		}
	}
}
