package ingress

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/webitel/im-notification-service/internal/domain/errs"
)

// Canonical payloads fold legacy field shapes into their canonical fields after decoding.
type Canonical[T any] interface {
	*T
	Canonicalize()
}

// DomainHandler defines the functional signature for business logic.
type DomainHandler[T any] func(ctx context.Context, payload *T) error

// [INFRASTRUCTURE_BRIDGE]
// Bind decodes a payload into T, checks the route's required fields and calls fn.
// Required names are struct field paths ("ToUserID", "Data.PostID").
func Bind[T any, P Canonical[T]](v *validator.Validate, fn DomainHandler[T], required ...string) HandlerFunc {
	return func(ctx context.Context, raw []byte) error {
		payload := new(T)
		if err := json.Unmarshal(raw, payload); err != nil {
			return errs.Malformed("decode: %v", err)
		}
		P(payload).Canonicalize()

		if len(required) > 0 {
			if err := v.StructPartialCtx(ctx, payload, required...); err != nil {
				return errs.Malformed("validate: %v", err)
			}
		}
		return fn(ctx, payload)
	}
}
