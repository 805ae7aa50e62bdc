package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/handler/ingress"
)

// fakeReader serves a fixed batch and then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) offsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

// fakeWriter fails its first failures writes, or every write when err is set.
type fakeWriter struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	err      error
	failures int
	calls    int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return w.err
	}
	if w.failures > 0 {
		w.failures--
		return errors.New("broker gone")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouteOf(t *testing.T) {
	tests := []struct {
		name string
		msg  kafka.Message
		want string
	}{
		{"header wins", kafka.Message{Key: []byte("user-1"), Headers: []kafka.Header{{Key: HeaderEvent, Value: []byte("post.created")}}}, "post.created"},
		{"key fallback", kafka.Message{Key: []byte("comment.added")}, "comment.added"},
		{"empty", kafka.Message{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RouteOf(tt.msg); got != tt.want {
				t.Fatalf("RouteOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConsumerCommitsAndPoisons(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	d, err := ingress.NewDispatcher(discardLogger(),
		ingress.Route{Key: "ok", Retryable: true, Handle: func(context.Context, []byte) error { return nil }},
		ingress.Route{Key: "bad", Retryable: true, Handle: func(context.Context, []byte) error { return errs.Malformed("broken") }},
		ingress.Route{Key: "flaky", Retryable: true, Handle: func(context.Context, []byte) error {
			mu.Lock()
			attempts++
			mu.Unlock()
			return errs.Transient(errors.New("store down"))
		}},
	)
	if err != nil {
		t.Fatal(err)
	}

	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Key: []byte("ok"), Value: []byte(`{}`)},
		{Offset: 2, Key: []byte("bad"), Value: []byte(`{}`)},
		{Offset: 3, Key: []byte("unknown"), Value: []byte(`{}`)},
		{Offset: 4, Headers: []kafka.Header{{Key: HeaderEvent, Value: []byte("flaky")}}, Value: []byte(`{"id":1}`)},
	}}
	poison := &fakeWriter{}
	c := NewConsumer(reader, poison, d, discardLogger(), time.Second, 2, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(reader.offsets()) < 4 {
		select {
		case <-deadline:
			t.Fatalf("committed %v, want 4 offsets", reader.offsets())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if got := reader.offsets(); got[0] != 1 || got[3] != 4 {
		t.Fatalf("commit order = %v", got)
	}
	if attempts != 3 {
		t.Fatalf("flaky attempts = %d, want 3", attempts)
	}
	if len(poison.msgs) != 1 {
		t.Fatalf("poisoned %d messages, want 1", len(poison.msgs))
	}
	dl := poison.msgs[0]
	if header(dl, HeaderPoisonRoute) != "flaky" || header(dl, HeaderPoisonReason) == "" {
		t.Fatalf("poison headers = %+v", dl.Headers)
	}
	if string(dl.Value) != `{"id":1}` {
		t.Fatalf("poison payload = %s", dl.Value)
	}
}

func flakyThenOK(t *testing.T) *ingress.Dispatcher {
	t.Helper()
	d, err := ingress.NewDispatcher(discardLogger(),
		ingress.Route{Key: "flaky", Retryable: true, Handle: func(context.Context, []byte) error {
			return errs.Transient(errors.New("store down"))
		}},
		ingress.Route{Key: "ok", Retryable: true, Handle: func(context.Context, []byte) error { return nil }},
	)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestConsumerRetriesPoisonWriteBeforeMovingOn(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 5, Key: []byte("flaky"), Value: []byte(`{}`)},
		{Offset: 6, Key: []byte("ok"), Value: []byte(`{}`)},
	}}
	poison := &fakeWriter{failures: 2}
	c := NewConsumer(reader, poison, flakyThenOK(t), discardLogger(), time.Second, 0, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(reader.offsets()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("committed %v, want 2 offsets", reader.offsets())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if got := reader.offsets(); got[0] != 5 || got[1] != 6 {
		t.Fatalf("commit order = %v", got)
	}
	poison.mu.Lock()
	defer poison.mu.Unlock()
	if poison.calls != 3 || len(poison.msgs) != 1 {
		t.Fatalf("poison writes = %d, stored %d; want 3 writes, 1 stored", poison.calls, len(poison.msgs))
	}
}

func TestConsumerStopsWhilePoisonWriteFails(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 5, Key: []byte("flaky"), Value: []byte(`{}`)},
		{Offset: 6, Key: []byte("ok"), Value: []byte(`{}`)},
	}}
	poison := &fakeWriter{err: errors.New("broker gone")}
	c := NewConsumer(reader, poison, flakyThenOK(t), discardLogger(), time.Second, 0, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if got := reader.offsets(); len(got) != 0 {
		t.Fatalf("committed %v past a message that was never dead-lettered", got)
	}
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if len(reader.queue) != 1 {
		t.Fatalf("consumer fetched past the stuck message: %d left", len(reader.queue))
	}
}
