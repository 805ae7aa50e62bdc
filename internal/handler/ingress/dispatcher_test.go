package ingress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/webitel/im-notification-service/internal/domain/errs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchOutcomes(t *testing.T) {
	fail := func(err error) HandlerFunc {
		return func(context.Context, []byte) error { return err }
	}
	transient := errs.Transient(errors.New("store timeout"))

	d, err := NewDispatcher(discardLogger(),
		Route{Key: "ok", Retryable: true, Handle: fail(nil)},
		Route{Key: "missing", Retryable: true, Handle: fail(errs.ErrNotFound)},
		Route{Key: "stale", Retryable: true, Handle: fail(errs.ErrStale)},
		Route{Key: "malformed", Retryable: true, Handle: fail(errs.Malformed("no toUserId"))},
		Route{Key: "transient", Retryable: true, Handle: fail(transient)},
		Route{Key: "transient.once", Retryable: false, Handle: fail(transient)},
		Route{Key: "unknown.failure", Retryable: true, Handle: fail(errors.New("boom"))},
		Route{Key: "panic", Retryable: true, Handle: func(context.Context, []byte) error { panic("nil map") }},
	)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key  string
		want Outcome
	}{
		{"ok", Ack},
		{"missing", Ack},
		{"stale", Ack},
		{"malformed", Drop},
		{"transient", Retry},
		{"transient.once", Drop},
		{"unknown.failure", Drop},
		{"panic", Drop},
		{"no.such.route", Drop},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, _ := d.Dispatch(context.Background(), tt.key, []byte(`{}`))
			if got != tt.want {
				t.Fatalf("Dispatch(%q) = %s, want %s", tt.key, got, tt.want)
			}
		})
	}
}

func TestNewDispatcherRejectsBadTable(t *testing.T) {
	h := func(context.Context, []byte) error { return nil }
	if _, err := NewDispatcher(discardLogger(), Route{Key: "a", Handle: h}, Route{Key: "a", Handle: h}); err == nil {
		t.Fatal("duplicate key accepted")
	}
	if _, err := NewDispatcher(discardLogger(), Route{Key: "a"}); err == nil {
		t.Fatal("route without handler accepted")
	}
}
