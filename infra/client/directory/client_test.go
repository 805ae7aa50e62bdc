package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/webitel/im-notification-service/config"
	"github.com/webitel/im-notification-service/internal/domain/errs"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Directory.UsersURL = srv.URL
	cfg.Directory.PostsURL = srv.URL
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFollowersNormalizesIDs(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/u1/followers" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"followers":["64b7f0c2a1b2c3d4e5f60718",{"_id":"u3"},{"$oid":"64b7f0c2a1b2c3d4e5f60719"},""]}`)
	}))

	got, err := c.Followers(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Followers: %v", err)
	}
	want := []string{"64b7f0c2a1b2c3d4e5f60718", "u3", "64b7f0c2a1b2c3d4e5f60719"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestUsersByName(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("usernames") != "alice,bob" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"users":[{"_id":"u1","username":"alice"},{"id":"u2","username":"bob"}]}`)
	}))

	got, err := c.UsersByName(context.Background(), []string{"alice", "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "u1" || got[1].ID != "u2" {
		t.Fatalf("users = %+v", got)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		notFound  bool
		transient bool
	}{
		{"not found", http.StatusNotFound, true, false},
		{"server error", http.StatusBadGateway, false, true},
		{"rate limited", http.StatusTooManyRequests, false, true},
		{"bad request", http.StatusBadRequest, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			_, err := c.Post(context.Background(), "p1")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, errs.ErrNotFound); got != tt.notFound {
				t.Fatalf("not found = %v, err %v", got, err)
			}
			if got := errs.IsTransient(err); got != tt.transient {
				t.Fatalf("transient = %v, err %v", got, err)
			}
		})
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	for i := 0; i < 8; i++ {
		_, err := c.Comment(context.Background(), "c1")
		if !errs.IsTransient(err) {
			t.Fatalf("call %d: err %v is not transient", i, err)
		}
	}
	if calls != 5 {
		t.Fatalf("server saw %d calls, want 5 before the breaker opened", calls)
	}
}
