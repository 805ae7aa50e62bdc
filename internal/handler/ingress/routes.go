package ingress

import (
	"github.com/go-playground/validator/v10"
	"github.com/webitel/im-notification-service/internal/service"
	"github.com/webitel/im-notification-service/internal/service/dto"
)

// Routing keys accepted on the events exchange.
const (
	KeyPostCreated         = "post.created"
	KeyPostReaction        = "post.reaction"
	KeyCommentAdded        = "comment.added"
	KeyCommentReaction     = "comment.reaction"
	KeyUserFollowed        = "user.followed"
	KeyMessageReceived     = "message.received"
	KeyUserLogin           = "user.login"
	KeyMentioned           = "notification.mentioned"
	KeyNotificationUpdate  = "notification.update"
	KeyNotificationCreated = "notification.created"
	KeySourceDeleted       = "notification.source.deleted"
)

// Routes declares the table: key, retry policy, payload type and required fields.
// Every route that writes on a user's behalf is retryable; a lost login notice is not worth
// a redelivery.
func Routes(v *validator.Validate, n *service.Notifier, c *service.Cascade) []Route {
	return []Route{
		{KeyUserLogin, false, Bind[dto.Event](v, n.Login, "ToUserID", "Content")},
		{KeyPostCreated, true, Bind[dto.Event](v, n.PostCreated, "ToUserID", "Data.PostID")},
		{KeyPostReaction, true, Bind[dto.Event](v, n.PostReaction, "ToUserID", "FromUserID", "Data.PostID")},
		{KeyCommentAdded, true, Bind[dto.Event](v, n.CommentAdded, "ToUserID", "FromUserID", "Data.CommentID")},
		{KeyCommentReaction, true, Bind[dto.Event](v, n.CommentReaction, "ToUserID", "FromUserID", "Data.CommentID")},
		{KeyUserFollowed, true, Bind[dto.Event](v, n.FollowedUser, "ToUserID", "FromUserID")},
		{KeyMessageReceived, true, Bind[dto.Event](v, n.MessageReceived, "ToUserID", "FromUserID")},
		{KeyMentioned, true, Bind[dto.Event](v, n.Mentioned, "ToUserID", "FromUserID")},
		{KeyNotificationUpdate, true, Bind[dto.Event](v, n.Update, "ID")},
		{KeyNotificationCreated, true, Bind[dto.Event](v, n.SystemCreated, "ToUserID", "Type", "Content")},
		{KeySourceDeleted, true, Bind[dto.SourceDeleted](v, c.SourceDeleted, "Type")},
	}
}
