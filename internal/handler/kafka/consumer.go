// Package kafka feeds the ingress dispatcher from a single Kafka topic. The routing key
// travels in the "event" header, falling back to the message key.
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/webitel/im-notification-service/internal/handler/ingress"
)

const (
	HeaderEvent        = "event"
	HeaderPoisonReason = "x-poison-reason"
	HeaderPoisonRoute  = "x-poison-route"
)

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is the part of *kafka.Writer the consumer uses for poison messages.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader        Reader
	poison        Writer
	dispatcher    *ingress.Dispatcher
	logger        *slog.Logger
	timeout       time.Duration
	maxRetries    int
	retryInterval time.Duration
}

func NewConsumer(r Reader, poison Writer, d *ingress.Dispatcher, logger *slog.Logger, timeout time.Duration, maxRetries int, retryInterval time.Duration) *Consumer {
	return &Consumer{
		reader:        r,
		poison:        poison,
		dispatcher:    d,
		logger:        logger,
		timeout:       timeout,
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
	}
}

// Run consumes until ctx is cancelled. Messages are handled one at a time, in partition order.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("KAFKA_FETCH_FAILED", "err", err)
			return err
		}

		if !c.handle(ctx, msg) {
			// Shutdown mid-message. Offsets are cumulative, so nothing after msg is committed
			// either; it is redelivered after restart or rebalance.
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("KAFKA_COMMIT_FAILED", "err", err, "offset", msg.Offset, "partition", msg.Partition)
		}
	}
}

// handle reports whether msg may be committed. It only gives up when ctx ends.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	route := RouteOf(msg)

	var last error
	op := func() error {
		hctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		out, err := c.dispatcher.Dispatch(hctx, route, msg.Value)
		if out == ingress.Retry {
			last = err
			return err
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.maxRetries)), ctx)

	if err := backoff.Retry(op, policy); err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	return c.deadLetter(ctx, msg, route, last)
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, route string, reason error) bool {
	dl := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header{}, msg.Headers...),
			kafka.Header{Key: HeaderPoisonRoute, Value: []byte(route)},
			kafka.Header{Key: HeaderPoisonReason, Value: []byte(errString(reason))},
		),
		Time: time.Now(),
	}
	// The partition does not move past msg until it is dead-lettered.
	write := func() error { return c.poison.WriteMessages(ctx, dl) }
	notify := func(err error, wait time.Duration) {
		c.logger.Error("POISON_WRITE_FAILED", "err", err, "route", route, "offset", msg.Offset, "retry_in", wait)
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval
	eb.MaxElapsedTime = 0
	if err := backoff.RetryNotify(write, backoff.WithContext(eb, ctx), notify); err != nil {
		return false
	}
	c.logger.Warn("MESSAGE_POISONED", "route", route, "offset", msg.Offset, "reason", reason)
	return true
}

// RouteOf returns the routing key of msg.
func RouteOf(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == HeaderEvent {
			return string(h.Value)
		}
	}
	return string(msg.Key)
}

func errString(err error) string {
	if err == nil {
		return "retries exhausted"
	}
	return err.Error()
}
