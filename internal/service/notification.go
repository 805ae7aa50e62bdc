package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListQuery selects one page of a recipient's inbox.
type ListQuery struct {
	Page   int64
	Limit  int64
	IsRead *bool
	Type   model.NotificationType
}

func (q ListQuery) page() store.Page {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	return store.Page{Limit: limit, Offset: (page - 1) * limit}
}

// Inbox serves the read and administration surface over the store.
type Inbox struct {
	repo     store.Repository
	enricher Enricher
	pusher   Pusher
	logger   *slog.Logger
	now      func() time.Time
}

func NewInbox(repo store.Repository, enricher Enricher, pusher Pusher, logger *slog.Logger) *Inbox {
	return &Inbox{repo: repo, enricher: enricher, pusher: pusher, logger: logger, now: time.Now}
}

// List returns the recipient's records newest first, enriched.
func (s *Inbox) List(ctx context.Context, userID string, q ListQuery) ([]*model.NotificationView, error) {
	f := store.Filter{All: []store.Match{store.Eq(store.FieldToUser, userID)}, IsRead: q.IsRead}
	if q.Type != "" {
		if !q.Type.IsValid() {
			return nil, errs.Malformed("unknown type %q", q.Type)
		}
		f.Types = []model.NotificationType{q.Type}
	}

	ns, err := s.repo.Find(ctx, f, q.page())
	if err != nil {
		return nil, err
	}
	views, _ := s.enricher.Enrich(ctx, ns)
	return views, nil
}

// MarkRead flips one record to read. userID scopes the lookup when non-empty.
func (s *Inbox) MarkRead(ctx context.Context, id, userID string) (*model.NotificationView, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errs.Malformed("notification id %q", id)
	}
	n, err := s.repo.MarkRead(ctx, oid, userID)
	if err != nil {
		return nil, err
	}

	views, _ := s.enricher.Enrich(ctx, []*model.Notification{n})
	view := views[0]
	s.pusher.Push(ctx, event.NewUpdated(view))
	return view, nil
}

func (s *Inbox) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

func (s *Inbox) MarkAllUnread(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllUnread(ctx, userID)
}

func (s *Inbox) CountUnread(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

func (s *Inbox) CountByType(ctx context.Context, userID string, t model.NotificationType) (int64, error) {
	if !t.IsValid() {
		return 0, errs.Malformed("unknown type %q", t)
	}
	return s.repo.CountByType(ctx, userID, t)
}

// DeleteByUser removes every record the user received or caused (account deletion).
func (s *Inbox) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, errs.Malformed("empty user id")
	}
	n, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "USER_NOTIFICATIONS_DELETED", "user_id", userID, "count", n)
	return n, nil
}

// Purge deletes records older than retention. Zero retention keeps everything.
func (s *Inbox) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	before := s.now().Add(-retention)
	n, err := s.repo.DeleteOlderThan(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	s.logger.InfoContext(ctx, "RETENTION_PURGED", "before", before, "count", n)
	return n, nil
}

// IsNotFound reports a referential miss.
func IsNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
