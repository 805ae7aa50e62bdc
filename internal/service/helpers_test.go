package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/webitel/im-notification-service/config"
	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/identity"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/service/dto"
	"github.com/webitel/im-notification-service/internal/store"
)

type fakeDirectory struct {
	followers map[string][]string
	users     []model.UserSummary
	err       error
}

func (d *fakeDirectory) Followers(_ context.Context, userID string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.followers[userID], nil
}

func (d *fakeDirectory) Users(_ context.Context, ids []string) ([]model.UserSummary, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []model.UserSummary
	for _, u := range d.users {
		for _, id := range ids {
			if u.ID == id {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (d *fakeDirectory) UsersByName(_ context.Context, names []string) ([]model.UserSummary, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []model.UserSummary
	for _, u := range d.users {
		for _, n := range names {
			if u.Username == n {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (d *fakeDirectory) Post(context.Context, string) (*model.PostSnapshot, error) {
	return nil, errs.ErrNotFound
}

func (d *fakeDirectory) Comment(context.Context, string) (*model.CommentSnapshot, error) {
	return nil, errs.ErrNotFound
}

type recordingPusher struct {
	mu     sync.Mutex
	events []event.Eventer
}

func (p *recordingPusher) Push(_ context.Context, ev event.Eventer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPusher) kinds(k event.EventKind) []event.Eventer {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.Eventer
	for _, ev := range p.events {
		if ev.GetKind() == k {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	repo     *store.Memory
	dir      *fakeDirectory
	pusher   *recordingPusher
	notifier *Notifier
	cascade  *Cascade
	inbox    *Inbox
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: store.NewMemory(),
		dir: &fakeDirectory{
			followers: map[string][]string{},
			users: []model.UserSummary{
				{ID: "A", Username: "alice"},
				{ID: "B", Username: "bob"},
				{ID: "C", Username: "carol"},
				{ID: "D", Username: "dave"},
			},
		},
		pusher: &recordingPusher{},
	}
	enricher := NewDirectoryEnricher(f.dir, &config.Config{})
	logger := discardLogger()
	f.notifier = NewNotifier(f.repo, f.dir, enricher, f.pusher, logger)
	f.cascade = NewCascade(f.repo, f.dir, f.pusher, logger)
	f.inbox = NewInbox(f.repo, enricher, f.pusher, logger)
	return f
}

// all returns every stored record matching the filter, newest first.
func (f *fixture) all(t *testing.T, flt store.Filter) []*model.Notification {
	t.Helper()
	if flt.IsZero() {
		flt = store.Filter{Types: allTypes()}
	}
	ns, err := f.repo.Find(context.Background(), flt, store.Page{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	return ns
}

func (f *fixture) seed(t *testing.T, ns ...*model.Notification) {
	t.Helper()
	for _, n := range ns {
		if err := f.repo.Create(context.Background(), n); err != nil {
			t.Fatalf("seed %s: %v", n.Type, err)
		}
	}
}

func allTypes() []model.NotificationType {
	return []model.NotificationType{
		model.TypePostCreated, model.TypePostReaction, model.TypeCommentAdded, model.TypeCommentReaction,
		model.TypeFollowedUser, model.TypeMessageReceived, model.TypeLogin, model.TypeUserMentioned,
		model.TypeGeneral, model.TypeSessionPaid,
	}
}

func at(sec int) dto.Timestamp {
	return dto.Timestamp{Time: time.Date(2026, 1, 1, 12, 0, sec, 0, time.UTC)}
}

func dtoID(n *model.Notification) identity.ID {
	return identity.ID(n.ID.Hex())
}
