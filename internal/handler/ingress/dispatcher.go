// Package ingress maps routing keys to engine handlers and turns every handler result into an
// explicit acknowledgement decision, independent of the broker that delivered the event.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/webitel/im-notification-service/internal/domain/errs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is the acknowledgement decision for one delivered event.
type Outcome int

const (
	// Ack removes the event: success or benign no-op.
	Ack Outcome = iota
	// Drop removes the event without processing it again: malformed or non-retryable failure.
	Drop
	// Retry hands the event back to the transport for redelivery.
	Retry
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Drop:
		return "drop"
	case Retry:
		return "retry"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// HandlerFunc processes one raw payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Route is one declared entry of the routing table.
type Route struct {
	Key string
	// Retryable routes get Retry on transient failures. Everything else is dropped.
	Retryable bool
	Handle    HandlerFunc
}

type Dispatcher struct {
	routes   map[string]Route
	logger   *slog.Logger
	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

func NewDispatcher(logger *slog.Logger, routes ...Route) (*Dispatcher, error) {
	d := &Dispatcher{
		routes: make(map[string]Route, len(routes)),
		logger: logger,
		tracer: otel.Tracer("github.com/webitel/im-notification-service/ingress"),
	}
	for _, r := range routes {
		if r.Key == "" || r.Handle == nil {
			return nil, fmt.Errorf("ingress: incomplete route %q", r.Key)
		}
		if _, dup := d.routes[r.Key]; dup {
			return nil, fmt.Errorf("ingress: duplicate route %q", r.Key)
		}
		d.routes[r.Key] = r
	}

	c, err := otel.Meter("github.com/webitel/im-notification-service/ingress").Int64Counter(
		"ingress.events",
		metric.WithDescription("Inbound events by route and acknowledgement outcome"),
	)
	if err == nil {
		d.outcomes = c
	}
	return d, nil
}

// Routes returns the table sorted by key.
func (d *Dispatcher) Routes() []Route {
	out := make([]Route, 0, len(d.routes))
	for _, r := range d.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Dispatch runs the handler of key and classifies its result. The returned error is the
// handler failure, if any, for the transport to log or dead-letter with.
func (d *Dispatcher) Dispatch(ctx context.Context, key string, payload []byte) (Outcome, error) {
	route, ok := d.routes[key]
	if !ok {
		d.logger.WarnContext(ctx, "UNROUTED_EVENT", "route", key, "size", len(payload))
		d.count(ctx, key, Drop)
		return Drop, fmt.Errorf("ingress: no route for %q", key)
	}

	ctx, span := d.tracer.Start(ctx, "ingress "+key, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	err := d.run(ctx, route, payload)
	out := classify(route, err)

	switch out {
	case Ack:
		if err != nil {
			d.logger.DebugContext(ctx, "EVENT_NOOP", "route", key, "reason", err)
		}
	case Drop:
		span.SetStatus(codes.Error, err.Error())
		d.logger.WarnContext(ctx, "EVENT_DROPPED", "route", key, "err", err)
	case Retry:
		span.SetStatus(codes.Error, err.Error())
		d.logger.WarnContext(ctx, "EVENT_RETRY", "route", key, "err", err)
	}
	d.count(ctx, key, out)
	return out, err
}

func (d *Dispatcher) run(ctx context.Context, route Route, payload []byte) (err error) {
	// [PANIC_RECOVERY] A broken handler must not take the consumer down.
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "PANIC_RECOVERED",
				"route", route.Key,
				"err", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%w: panic: %v", errs.ErrMalformed, r)
		}
	}()
	return route.Handle(ctx, payload)
}

func classify(route Route, err error) Outcome {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrStale):
		return Ack
	case errors.Is(err, errs.ErrMalformed):
		return Drop
	case errs.IsTransient(err) && route.Retryable:
		return Retry
	}
	return Drop
}

func (d *Dispatcher) count(ctx context.Context, key string, out Outcome) {
	if d.outcomes == nil {
		return
	}
	d.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", key),
		attribute.String("outcome", out.String()),
	))
}
