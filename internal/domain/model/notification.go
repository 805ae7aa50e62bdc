package model

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CommentKind refines COMMENT_ADDED records.
type CommentKind string

const (
	CommentReplyToComment   CommentKind = "reply_to_comment"
	CommentReplyToPostOwner CommentKind = "reply_to_post_owner"
	CommentOnPost           CommentKind = "comment_on_post"
)

func (k CommentKind) IsValid() bool {
	switch k {
	case CommentReplyToComment, CommentReplyToPostOwner, CommentOnPost:
		return true
	}
	return false
}

// Data is the fixed-shape payload of a record. Entity references are canonical id strings
// stored under stable, indexed keys; which of them a type uses is declared by its TypeSpec.
type Data struct {
	PostID          string `bson:"postId,omitempty" json:"postId,omitempty"`
	CommentID       string `bson:"commentId,omitempty" json:"commentId,omitempty"`
	ParentCommentID string `bson:"parentCommentId,omitempty" json:"parentCommentId,omitempty"`
	MessageID       string `bson:"messageId,omitempty" json:"messageId,omitempty"`
	FollowerID      string `bson:"followerId,omitempty" json:"followerId,omitempty"`
	OwnerID         string `bson:"ownerId,omitempty" json:"ownerId,omitempty"`
	RoomID          string `bson:"roomId,omitempty" json:"roomId,omitempty"`
	SessionID       string `bson:"sessionId,omitempty" json:"sessionId,omitempty"`

	Reaction    string      `bson:"reaction,omitempty" json:"reaction,omitempty"`
	CommentKind CommentKind `bson:"commentKind,omitempty" json:"notificationType,omitempty"`
	IsReply     bool        `bson:"isReply,omitempty" json:"isReply,omitempty"`
	Amount      float64     `bson:"amount,omitempty" json:"amount,omitempty"`
	Currency    string      `bson:"currency,omitempty" json:"currency,omitempty"`
	Reason      string      `bson:"reason,omitempty" json:"reason,omitempty"`
	Text        string      `bson:"text,omitempty" json:"text,omitempty"`
}

// Ref returns the value of the named reference field.
func (d Data) Ref(r Ref) string {
	switch r {
	case RefPost:
		return d.PostID
	case RefComment:
		return d.CommentID
	case RefParentComment:
		return d.ParentCommentID
	case RefMessage:
		return d.MessageID
	case RefFollower:
		return d.FollowerID
	case RefOwner:
		return d.OwnerID
	case RefRoom:
		return d.RoomID
	case RefSession:
		return d.SessionID
	}
	return ""
}

// Notification is the persisted record.
type Notification struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	ToUserID   string             `bson:"toUserId" json:"toUserId"`
	FromUserID string             `bson:"fromUserId,omitempty" json:"fromUserId,omitempty"`
	Type       NotificationType   `bson:"type" json:"type"`
	Content    string             `bson:"content" json:"content"`
	IsRead     bool               `bson:"isRead" json:"isRead"`
	Data       Data               `bson:"data" json:"data"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// DedupKey identifies the single active record of a dedup type.
type DedupKey struct {
	ToUserID   string
	FromUserID string
	Type       NotificationType
	Target     Ref
	TargetID   string
}

// DedupKey returns the record's dedup key, or false for types without one.
func (n *Notification) DedupKey() (DedupKey, bool) {
	spec, ok := n.Type.Spec()
	if !ok || !spec.Dedup {
		return DedupKey{}, false
	}
	return DedupKey{
		ToUserID:   n.ToUserID,
		FromUserID: n.FromUserID,
		Type:       n.Type,
		Target:     spec.Target,
		TargetID:   n.Data.Ref(spec.Target),
	}, true
}

// OnceRef returns the reference that keys a create of n: the first present Once candidate.
// Absent holds the earlier candidates, which a matching record must not carry. False when
// the type has no insert-once key or no candidate is present.
func (n *Notification) OnceRef() (ref Ref, absent []Ref, ok bool) {
	spec, found := n.Type.Spec()
	if !found {
		return "", nil, false
	}
	for i, r := range spec.Once {
		if n.Data.Ref(r) != "" {
			return r, spec.Once[:i], true
		}
	}
	return "", nil, false
}

// Validate checks the invariants a record must satisfy before it is stored.
func (n *Notification) Validate() error {
	if n.ToUserID == "" {
		return fmt.Errorf("notification: toUserId is required")
	}
	if n.Content == "" {
		return fmt.Errorf("notification: content is required")
	}
	spec, ok := n.Type.Spec()
	if !ok {
		return fmt.Errorf("notification: unknown type %q", n.Type)
	}
	for _, r := range spec.Required {
		if n.Data.Ref(r) == "" {
			return fmt.Errorf("notification: %s requires data.%s", n.Type, r)
		}
	}
	if spec.Dedup && n.FromUserID == "" {
		return fmt.Errorf("notification: %s requires fromUserId", n.Type)
	}
	return nil
}
