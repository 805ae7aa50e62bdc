package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/webitel/im-notification-service/config"
	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// UnknownActor names an actor the directory could not resolve.
const UnknownActor = "Someone"

// Enricher resolves the entities a record references into a read-time view.
type Enricher interface {
	// Enrich never drops records: entities that cannot be resolved stay nil in the view.
	Enrich(ctx context.Context, ns []*model.Notification) ([]*model.NotificationView, error)
	// Username returns the display handle of userID, UnknownActor when unresolvable.
	Username(ctx context.Context, userID string) string
}

type DirectoryEnricher struct {
	dir      Directory
	users    *expirable.LRU[string, model.UserSummary]
	posts    *expirable.LRU[string, *model.PostSnapshot]
	comments *expirable.LRU[string, *model.CommentSnapshot]
}

// NewDirectoryEnricher provides a thread-safe enricher with TTL-bound LRU caches.
func NewDirectoryEnricher(dir Directory, cfg *config.Config) *DirectoryEnricher {
	size := cfg.Directory.CacheSize
	if size <= 0 {
		size = 4096
	}
	ttl := cfg.Directory.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	// [MEMORY_MANAGEMENT] Bounded caches keep "hot" identities without pinning stale ones.
	return &DirectoryEnricher{
		dir:      dir,
		users:    expirable.NewLRU[string, model.UserSummary](size, nil, ttl),
		posts:    expirable.NewLRU[string, *model.PostSnapshot](size, nil, ttl),
		comments: expirable.NewLRU[string, *model.CommentSnapshot](size, nil, ttl),
	}
}

func (e *DirectoryEnricher) Username(ctx context.Context, userID string) string {
	if userID == "" {
		return UnknownActor
	}
	if err := e.loadUsers(ctx, []string{userID}); err != nil {
		return UnknownActor
	}
	if u, ok := e.users.Get(userID); ok && u.Username != "" {
		return u.Username
	}
	return UnknownActor
}

// Enrich resolves users, posts and comments concurrently.
// [CONCURRENCY_OPTIMIZATION] One batched user lookup plus bounded per-entity lookups.
func (e *DirectoryEnricher) Enrich(ctx context.Context, ns []*model.Notification) ([]*model.NotificationView, error) {
	var userIDs, postIDs, commentIDs []string
	seen := make(map[string]struct{})
	collect := func(dst *[]string, prefix, id string) {
		if id == "" {
			return
		}
		if _, ok := seen[prefix+id]; ok {
			return
		}
		seen[prefix+id] = struct{}{}
		*dst = append(*dst, id)
	}
	for _, n := range ns {
		collect(&userIDs, "u:", n.ToUserID)
		collect(&userIDs, "u:", n.FromUserID)
		collect(&postIDs, "p:", n.Data.PostID)
		collect(&commentIDs, "c:", n.Data.CommentID)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	var lookupErr error
	g.Go(func() error {
		lookupErr = e.loadUsers(gCtx, userIDs)
		return nil
	})
	for _, id := range postIDs {
		g.Go(func() error {
			e.loadPost(gCtx, id)
			return nil
		})
	}
	for _, id := range commentIDs {
		g.Go(func() error {
			e.loadComment(gCtx, id)
			return nil
		})
	}
	_ = g.Wait()

	views := make([]*model.NotificationView, 0, len(ns))
	for _, n := range ns {
		v := &model.NotificationView{Notification: n}
		if u, ok := e.users.Get(n.FromUserID); ok {
			v.FromUser = &u
		}
		if u, ok := e.users.Get(n.ToUserID); ok {
			v.ToUser = &u
		}
		if p, ok := e.posts.Get(n.Data.PostID); ok && p != nil {
			v.Post = p
		}
		if c, ok := e.comments.Get(n.Data.CommentID); ok && c != nil {
			v.Comment = c
		}
		views = append(views, v)
	}

	if lookupErr != nil {
		return views, fmt.Errorf("enrich users: %w", lookupErr)
	}
	return views, nil
}

// loadUsers is cache-aside: only ids missing from the cache hit the directory.
func (e *DirectoryEnricher) loadUsers(ctx context.Context, ids []string) error {
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if !e.users.Contains(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	users, err := e.dir.Users(ctx, missing)
	if err != nil {
		return err
	}
	for _, u := range users {
		e.users.Add(u.ID, u)
	}
	return nil
}

func (e *DirectoryEnricher) loadPost(ctx context.Context, id string) {
	if e.posts.Contains(id) {
		return
	}
	p, err := e.dir.Post(ctx, id)
	switch {
	case err == nil:
		e.posts.Add(id, p)
	case errors.Is(err, errs.ErrNotFound):
		// [NEGATIVE_CACHE] Deleted posts are common right before their cascade arrives.
		e.posts.Add(id, nil)
	}
}

func (e *DirectoryEnricher) loadComment(ctx context.Context, id string) {
	if e.comments.Contains(id) {
		return
	}
	c, err := e.dir.Comment(ctx, id)
	switch {
	case err == nil:
		e.comments.Add(id, c)
	case errors.Is(err, errs.ErrNotFound):
		e.comments.Add(id, nil)
	}
}
