package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/webitel/im-notification-service/config"
	"github.com/webitel/im-notification-service/internal/adapter/pubsub"
	"github.com/webitel/im-notification-service/internal/domain/registry"
	"github.com/webitel/im-notification-service/internal/handler/ingress"
	"go.uber.org/fx"
)

const (
	// ------------------- QUEUES (CONSUMERS) --------------------
	IngressQueuePrefix = "im-notification.ingress.v1"
	IngressPoisonQueue = "im-notification.ingress.v1.poison"

	DriverAMQP = "amqp"
)

type MessageHandler struct {
	cfg        *config.Config
	hub        registry.Hubber
	logger     *slog.Logger
	wlogger    watermill.LoggerAdapter
	dispatcher *ingress.Dispatcher
	handlers   int
}

func NewMessageHandler(cfg *config.Config, hub registry.Hubber, logger *slog.Logger, wlogger watermill.LoggerAdapter, dispatcher *ingress.Dispatcher) *MessageHandler {
	return &MessageHandler{cfg: cfg, hub: hub, logger: logger, wlogger: wlogger, dispatcher: dispatcher}
}

func NewWatermillRouter(wlogger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{CloseTimeout: 15 * time.Second}, wlogger)
}

// [REGISTRATION_PIPELINE]
// One durable queue per route, bound to the events exchange with the route's key. Every
// instance consumes the same queues, so each event is handled once per cluster.
func (h *MessageHandler) RegisterHandlers(router *message.Router, pp *pubsub.PublisherProvider, sp *pubsub.SubscriberProvider) error {
	poisonPub, err := pp.Poison()
	if err != nil {
		return err
	}
	poison, err := middleware.PoisonQueue(poisonPub, IngressPoisonQueue)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	broker := h.cfg.Broker
	for _, r := range h.dispatcher.Routes() {
		queue := fmt.Sprintf("%s.%s", IngressQueuePrefix, r.Key)
		sub, err := sp.Build(queue, broker.AMQP.Exchange, r.Key)
		if err != nil {
			return err
		}

		router.AddConsumerHandler(queue, r.Key, sub, Bind(h, r.Key)).AddMiddleware(h.Chain(r.Key, poison)...)
		h.handlers++
	}

	h.logger.Info("AMQP_PIPELINE_READY", "exchange", broker.AMQP.Exchange, "routes", h.handlers)
	return nil
}

// [CHAIN]
// Chain is the middleware stack of one ingress route, outermost first. Poison sees a
// message only after retries are exhausted; each attempt gets a fresh handler deadline.
func (h *MessageHandler) Chain(route string, poison message.HandlerMiddleware) []message.HandlerMiddleware {
	broker := h.cfg.Broker
	chain := []message.HandlerMiddleware{
		TraceIDMiddleware,
		LoggingMiddleware(h.logger, route),
		poison,
	}
	if broker.ThrottlePerSecond > 0 {
		chain = append(chain, middleware.NewThrottle(broker.ThrottlePerSecond, time.Second).Middleware)
	}
	return append(chain, RetryWithTimeout(NewRetryMiddleware(h.cfg, h.wlogger), broker.HandlerTimeout))
}

// RegisterHandlers wires the consumers this instance needs and runs the router when there
// is at least one.
func RegisterHandlers(lc fx.Lifecycle, cfg *config.Config, h *MessageHandler, router *message.Router, pp *pubsub.PublisherProvider, sp *pubsub.SubscriberProvider) error {
	if cfg.Broker.Driver == DriverAMQP {
		if err := h.RegisterHandlers(router, pp, sp); err != nil {
			return err
		}
	}
	if cfg.Delivery.Mode == pubsub.ModeCluster {
		if err := h.RegisterPushListener(router, sp); err != nil {
			return err
		}
	}
	if h.handlers == 0 {
		return nil
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					h.logger.Error("ROUTER_STOPPED", "err", err)
				}
			}()
			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(ctx context.Context) error {
			return router.Close()
		},
	})
	return nil
}
