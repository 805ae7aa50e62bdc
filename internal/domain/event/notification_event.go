package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-notification-service/internal/domain/model"
)

var (
	_ Eventer    = (*NotificationEvent)(nil)
	_ Exportable = (*NotificationEvent)(nil)
)

// NotificationEvent carries a created/updated/deleted/list notification to one recipient.
//
// UserID is the physical recipient: the Hub routes on it, whatever the payload says.
type NotificationEvent struct {
	ID         string        `json:"id"`
	Kind       EventKind     `json:"kind"`
	UserID     string        `json:"user_id"`
	Priority   EventPriority `json:"priority"`
	OccurredAt int64         `json:"occurred_at"`
	Payload    any           `json:"payload"`
	Cached     any           `json:"-"` // [INTERNAL] wire bytes, marshaled once per recipient group
}

func newNotificationEvent(kind EventKind, userID string, priority EventPriority, payload any) *NotificationEvent {
	return &NotificationEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		UserID:     userID,
		Priority:   priority,
		OccurredAt: time.Now().UnixMilli(),
		Payload:    payload,
	}
}

// NewCreated announces a new record to its recipient.
func NewCreated(v *model.NotificationView) *NotificationEvent {
	return newNotificationEvent(NotificationCreated, v.ToUserID, PriorityHigh, v)
}

// NewUpdated announces a refreshed record (dedup refresh or explicit update).
func NewUpdated(v *model.NotificationView) *NotificationEvent {
	return newNotificationEvent(NotificationUpdated, v.ToUserID, PriorityHigh, v)
}

// NewDeleted tells userID to drop the described items from its view.
func NewDeleted(userID string, p *model.DeletedPayload) *NotificationEvent {
	return newNotificationEvent(NotificationDeleted, userID, PriorityNormal, p)
}

// NewList carries the replay sent to a channel right after it joins.
func NewList(userID string, views []*model.NotificationView) *NotificationEvent {
	if views == nil {
		views = []*model.NotificationView{}
	}
	return newNotificationEvent(NotificationList, userID, PriorityNormal, views)
}

func (e *NotificationEvent) GetID() string              { return e.ID }
func (e *NotificationEvent) GetKind() EventKind         { return e.Kind }
func (e *NotificationEvent) GetUserID() string          { return e.UserID }
func (e *NotificationEvent) GetPriority() EventPriority { return e.Priority }
func (e *NotificationEvent) GetOccurredAt() int64       { return e.OccurredAt }
func (e *NotificationEvent) GetPayload() any            { return e.Payload }
func (e *NotificationEvent) GetCached() any             { return e.Cached }
func (e *NotificationEvent) SetCached(v any)            { e.Cached = v }

// GetRoutingKey generates the push exchange topic.
// [PATTERN] notification.push.{user_id}.{kind}
func (e *NotificationEvent) GetRoutingKey() string {
	return fmt.Sprintf("notification.push.%s.%d", e.UserID, e.Kind)
}

// Decode restores an event published by another instance. The payload stays raw JSON: the
// receiving side only forwards it to its own connections.
func Decode(b []byte) (*NotificationEvent, error) {
	var wire struct {
		ID         string          `json:"id"`
		Kind       EventKind       `json:"kind"`
		UserID     string          `json:"user_id"`
		Priority   EventPriority   `json:"priority"`
		OccurredAt int64           `json:"occurred_at"`
		Payload    json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, fmt.Errorf("event: decode: %w", err)
	}
	if wire.UserID == "" {
		return nil, fmt.Errorf("event: decode: user_id is empty")
	}
	return &NotificationEvent{
		ID:         wire.ID,
		Kind:       wire.Kind,
		UserID:     wire.UserID,
		Priority:   wire.Priority,
		OccurredAt: wire.OccurredAt,
		Payload:    wire.Payload,
	}, nil
}
