package service

import (
	"context"

	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/model"
)

// Directory is the user directory and post store the engines consult.
type Directory interface {
	Followers(ctx context.Context, userID string) ([]string, error)
	Users(ctx context.Context, ids []string) ([]model.UserSummary, error)
	UsersByName(ctx context.Context, usernames []string) ([]model.UserSummary, error)
	Post(ctx context.Context, id string) (*model.PostSnapshot, error)
	Comment(ctx context.Context, id string) (*model.CommentSnapshot, error)
}

// Pusher hands a live event to the delivery layer. Delivery is best-effort: Push never fails.
type Pusher interface {
	Push(ctx context.Context, ev event.Eventer)
}
