package service

import (
	"fmt"
	"strings"

	"github.com/webitel/im-notification-service/internal/domain/model"
)

// resolveCommentKind returns the payload's sub-classification, else infers reply-vs-top-level
// from the parent reference.
func resolveCommentKind(d model.Data) model.CommentKind {
	if d.CommentKind.IsValid() {
		return d.CommentKind
	}
	if d.ParentCommentID != "" {
		return model.CommentReplyToComment
	}
	return model.CommentOnPost
}

// contentFor renders the default text of a record whose event carried none.
func contentFor(t model.NotificationType, actor string, d model.Data) string {
	switch t {
	case model.TypeLogin:
		return "New login to your account"
	case model.TypePostCreated:
		return fmt.Sprintf("%s shared a new post", actor)
	case model.TypePostReaction:
		return fmt.Sprintf("%s reacted to your post", actor)
	case model.TypeCommentAdded:
		switch d.CommentKind {
		case model.CommentReplyToComment:
			return fmt.Sprintf("%s replied to your comment", actor)
		case model.CommentReplyToPostOwner:
			return fmt.Sprintf("%s replied to a comment on your post", actor)
		}
		return fmt.Sprintf("%s commented on your post", actor)
	case model.TypeCommentReaction:
		if d.IsReply {
			return fmt.Sprintf("%s reacted to your reply", actor)
		}
		return fmt.Sprintf("%s reacted to your comment", actor)
	case model.TypeFollowedUser:
		return fmt.Sprintf("%s started following you", actor)
	case model.TypeMessageReceived:
		return fmt.Sprintf("%s sent you a message", actor)
	case model.TypeUserMentioned:
		return fmt.Sprintf("%s mentioned you", actor)
	case model.TypeGeneral:
		return "You have a new notification"
	}
	return humanize(t)
}

// fanoutContent is the text followers of a post owner get for a reaction on that post.
func fanoutContent(actor, owner string) string {
	return fmt.Sprintf("%s reacted to a post by %s", actor, owner)
}

// humanize turns SESSION_PAYMENT_RECEIVED into "Session payment received".
func humanize(t model.NotificationType) string {
	s := strings.ToLower(strings.ReplaceAll(string(t), "_", " "))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
