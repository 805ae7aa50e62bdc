// Package dto holds the inbound event payloads as producers publish them. Every id field is
// an identity.ID, so normalization happens once, while decoding.
package dto

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/webitel/im-notification-service/internal/domain/identity"
)

// Timestamp accepts RFC 3339 strings and unix milliseconds. Anything else decodes as zero.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time)
}

// Data is the union of every data field producers send, including legacy embedded objects.
type Data struct {
	PostID          identity.ID `json:"postId" validate:"required"`
	CommentID       identity.ID `json:"commentId" validate:"required"`
	ParentCommentID identity.ID `json:"parentCommentId"`
	MessageID       identity.ID `json:"messageId"`
	FollowerID      identity.ID `json:"followerId"`
	OwnerID         identity.ID `json:"ownerId"`
	RoomID          identity.ID `json:"roomId"`
	SessionID       identity.ID `json:"sessionId"`

	// Legacy shapes: populated documents in place of references.
	Post          identity.ID `json:"post"`
	Comment       identity.ID `json:"comment"`
	ParentComment identity.ID `json:"parentComment"`

	Reaction         string  `json:"reaction"`
	NotificationType string  `json:"notificationType"`
	IsReply          bool    `json:"isReply"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	Reason           string  `json:"reason"`
	Text             string  `json:"text"`
}

// Canonicalize folds legacy aliases into the canonical reference fields.
func (d *Data) Canonicalize() {
	if d.PostID.IsZero() {
		d.PostID = d.Post
	}
	if d.CommentID.IsZero() {
		d.CommentID = d.Comment
	}
	if d.ParentCommentID.IsZero() {
		d.ParentCommentID = d.ParentComment
	}
	d.Post, d.Comment, d.ParentComment = "", "", ""
}

func (d Data) IsZero() bool {
	return d == Data{}
}

// Event is the payload of every create/refresh/update route. Which fields are required
// depends on the route, so validation is partial (see the ingress route table).
type Event struct {
	ID             identity.ID `json:"_id" validate:"required"`
	NotificationID identity.ID `json:"notificationId"`
	ToUserID       identity.ID `json:"toUserId" validate:"required"`
	FromUserID     identity.ID `json:"fromUserId" validate:"required"`
	Type           string      `json:"type" validate:"required"`
	Content        string      `json:"content" validate:"required"`
	IsRead         *bool       `json:"isRead"`
	Data           Data        `json:"data"`
	OccurredAt     Timestamp   `json:"occurredAt"`
	CreatedAt      Timestamp   `json:"createdAt"`
}

func (e *Event) Canonicalize() {
	if e.ID.IsZero() {
		e.ID = e.NotificationID
	}
	e.Data.Canonicalize()
}

// At is the event's logical time: occurredAt, else createdAt, else now.
func (e *Event) At(now time.Time) time.Time {
	switch {
	case !e.OccurredAt.IsZero():
		return e.OccurredAt.Time
	case !e.CreatedAt.IsZero():
		return e.CreatedAt.Time
	}
	return now
}
