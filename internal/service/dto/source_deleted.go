package dto

import "github.com/webitel/im-notification-service/internal/domain/identity"

// Source types of notification.source.deleted.
const (
	SourceNotification    = "notification"
	SourcePost            = "post"
	SourceComment         = "comment"
	SourceReply           = "reply"
	SourceMention         = "mention"
	SourcePostReaction    = "post_reaction"
	SourceCommentReaction = "comment_reaction"
	SourceFollow          = "follow"
	SourceMessage         = "message"
)

// SourceDeleted describes a deleted domain entity, or a single record by notificationId.
type SourceDeleted struct {
	Type            string        `json:"type" validate:"required"`
	NotificationID  identity.ID   `json:"notificationId"`
	PostID          identity.ID   `json:"postId"`
	CommentID       identity.ID   `json:"commentId"`
	ParentCommentID identity.ID   `json:"parentCommentId"`
	MessageID       identity.ID   `json:"messageId"`
	ToUserID        identity.ID   `json:"toUserId"`
	FromUserID      identity.ID   `json:"fromUserId"`
	FollowerID      identity.ID   `json:"followerId"`
	CommentIDs      []identity.ID `json:"commentIds"`
	Text            string        `json:"text"`
	IsReply         bool          `json:"isReply"`
	// Some producers nest the references under data.
	Data Data `json:"data"`
}

func (s *SourceDeleted) Canonicalize() {
	s.Data.Canonicalize()
	fill := func(dst *identity.ID, src identity.ID) {
		if dst.IsZero() {
			*dst = src
		}
	}
	fill(&s.PostID, s.Data.PostID)
	fill(&s.CommentID, s.Data.CommentID)
	fill(&s.ParentCommentID, s.Data.ParentCommentID)
	fill(&s.MessageID, s.Data.MessageID)
	fill(&s.FollowerID, s.Data.FollowerID)
	if s.Text == "" {
		s.Text = s.Data.Text
	}
	if s.Type == SourceReply {
		s.IsReply = true
	}
}
