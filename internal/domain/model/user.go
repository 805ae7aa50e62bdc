package model

// UserSummary is the actor/recipient projection embedded into notifications at read time.
type UserSummary struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// PostSnapshot is a denormalized post summary resolved at read time.
type PostSnapshot struct {
	ID       string `json:"_id"`
	AuthorID string `json:"authorId,omitempty"`
	Text     string `json:"text,omitempty"`
	Media    string `json:"media,omitempty"`
}

// CommentSnapshot is a denormalized comment summary resolved at read time.
type CommentSnapshot struct {
	ID       string `json:"_id"`
	PostID   string `json:"postId,omitempty"`
	AuthorID string `json:"authorId,omitempty"`
	Text     string `json:"text,omitempty"`
}

// NotificationView is a stored record enriched with referenced entities. Stored records keep
// raw ids; views exist only on the way out.
type NotificationView struct {
	*Notification
	FromUser *UserSummary     `json:"fromUser,omitempty"`
	ToUser   *UserSummary     `json:"toUser,omitempty"`
	Post     *PostSnapshot    `json:"post,omitempty"`
	Comment  *CommentSnapshot `json:"comment,omitempty"`
}

// DeletedPayload is the minimal shape a client needs to drop items from its own view.
type DeletedPayload struct {
	Type            string   `json:"type"`
	NotificationIDs []string `json:"notificationIds,omitempty"`
	PostID          string   `json:"postId,omitempty"`
	CommentID       string   `json:"commentId,omitempty"`
	ParentCommentID string   `json:"parentCommentId,omitempty"`
	MessageID       string   `json:"messageId,omitempty"`
	FromUserID      string   `json:"fromUserId,omitempty"`
}
