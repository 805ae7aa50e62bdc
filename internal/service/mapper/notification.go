package mapper

import (
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/service/dto"
)

// ToData converts the inbound data union into the stored fixed shape.
func ToData(d dto.Data) model.Data {
	return model.Data{
		PostID:          d.PostID.String(),
		CommentID:       d.CommentID.String(),
		ParentCommentID: d.ParentCommentID.String(),
		MessageID:       d.MessageID.String(),
		FollowerID:      d.FollowerID.String(),
		OwnerID:         d.OwnerID.String(),
		RoomID:          d.RoomID.String(),
		SessionID:       d.SessionID.String(),
		Reaction:        d.Reaction,
		CommentKind:     model.CommentKind(d.NotificationType),
		IsReply:         d.IsReply,
		Amount:          d.Amount,
		Currency:        d.Currency,
		Reason:          d.Reason,
		Text:            d.Text,
	}
}

// ToNotification builds the record an event describes. Content and timestamps are filled
// by the engine.
func ToNotification(t model.NotificationType, ev *dto.Event) *model.Notification {
	return &model.Notification{
		ToUserID:   ev.ToUserID.String(),
		FromUserID: ev.FromUserID.String(),
		Type:       t,
		Content:    ev.Content,
		Data:       ToData(ev.Data),
	}
}
