package ingress

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/webitel/im-notification-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ingress",
	fx.Provide(
		func() *validator.Validate { return validator.New(validator.WithRequiredStructEnabled()) },
		func(logger *slog.Logger, v *validator.Validate, n *service.Notifier, c *service.Cascade) (*Dispatcher, error) {
			return NewDispatcher(logger, Routes(v, n, c)...)
		},
	),
)
