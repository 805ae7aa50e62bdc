package model

// NotificationType is the closed enumeration of record types. Immutable after creation.
type NotificationType string

const (
	TypePostCreated     NotificationType = "POST_CREATED"
	TypePostReaction    NotificationType = "POST_REACTION"
	TypeCommentAdded    NotificationType = "COMMENT_ADDED"
	TypeCommentReaction NotificationType = "COMMENT_REACTION"
	TypeFollowedUser    NotificationType = "FOLLOWED_USER"
	TypeMessageReceived NotificationType = "MESSAGE_RECEIVED"
	TypeLogin           NotificationType = "LOGIN"
	TypeUserMentioned   NotificationType = "USER_MENTIONED"

	TypeSessionRequested NotificationType = "SESSION_REQUESTED"
	TypeSessionAccepted  NotificationType = "SESSION_ACCEPTED"
	TypeSessionDeclined  NotificationType = "SESSION_DECLINED"
	TypeSessionCancelled NotificationType = "SESSION_CANCELLED"
	TypeSessionCompleted NotificationType = "SESSION_COMPLETED"
	TypeSessionPaid      NotificationType = "SESSION_PAYMENT_RECEIVED"
	TypeSessionRefunded  NotificationType = "SESSION_REFUNDED"

	TypeStripeConnectOnboarded NotificationType = "STRIPE_CONNECT_ONBOARDED"
	TypeStripeConnectUpdated   NotificationType = "STRIPE_CONNECT_UPDATED"
	TypeStripeConnectRestrict  NotificationType = "STRIPE_CONNECT_RESTRICTED"

	TypeWithdrawalRequested NotificationType = "WITHDRAWAL_REQUESTED"
	TypeWithdrawalCompleted NotificationType = "WITHDRAWAL_COMPLETED"
	TypeWithdrawalFailed    NotificationType = "WITHDRAWAL_FAILED"

	TypeGeneral NotificationType = "GENERAL_NOTIFICATION"
)

// Ref names a canonical entity-reference field inside Data.
type Ref string

const (
	RefPost          Ref = "postId"
	RefComment       Ref = "commentId"
	RefParentComment Ref = "parentCommentId"
	RefMessage       Ref = "messageId"
	RefFollower      Ref = "followerId"
	RefOwner         Ref = "ownerId"
	RefRoom          Ref = "roomId"
	RefSession       Ref = "sessionId"
)

// TypeSpec is the fixed payload contract of one notification type.
type TypeSpec struct {
	// Target is the entity the record is about; for dedup types it completes the dedup key.
	Target Ref
	// Required references must be present for a record of this type to be stored.
	Required []Ref
	// Dedup types keep at most one record per (recipient, actor, target).
	Dedup bool
	// Once lists the candidate references of the insert-once key. A create is skipped when a
	// record with the same recipient, actor, type and first present candidate exists.
	Once []Ref
	// System types may be created through the generic notification.created route.
	System bool
}

var typeSpecs = map[NotificationType]TypeSpec{
	TypePostCreated:     {Target: RefPost, Required: []Ref{RefPost}, Once: []Ref{RefPost}},
	TypePostReaction:    {Target: RefPost, Required: []Ref{RefPost}, Dedup: true},
	TypeCommentAdded:    {Target: RefComment, Required: []Ref{RefComment}, Once: []Ref{RefComment}},
	TypeCommentReaction: {Target: RefComment, Required: []Ref{RefComment}, Dedup: true},
	TypeFollowedUser:    {Target: RefFollower, Once: []Ref{RefFollower}},
	TypeMessageReceived: {Target: RefMessage, Once: []Ref{RefMessage}},
	TypeLogin:           {},
	TypeUserMentioned:   {Once: []Ref{RefComment, RefPost}},

	TypeSessionRequested: {Target: RefSession, System: true},
	TypeSessionAccepted:  {Target: RefSession, System: true},
	TypeSessionDeclined:  {Target: RefSession, System: true},
	TypeSessionCancelled: {Target: RefSession, System: true},
	TypeSessionCompleted: {Target: RefSession, System: true},
	TypeSessionPaid:      {Target: RefSession, System: true},
	TypeSessionRefunded:  {Target: RefSession, System: true},

	TypeStripeConnectOnboarded: {System: true},
	TypeStripeConnectUpdated:   {System: true},
	TypeStripeConnectRestrict:  {System: true},

	TypeWithdrawalRequested: {System: true},
	TypeWithdrawalCompleted: {System: true},
	TypeWithdrawalFailed:    {System: true},

	TypeGeneral: {System: true},
}

// Spec returns the payload contract of t.
func (t NotificationType) Spec() (TypeSpec, bool) {
	s, ok := typeSpecs[t]
	return s, ok
}

func (t NotificationType) IsValid() bool {
	_, ok := typeSpecs[t]
	return ok
}

func (t NotificationType) IsDedup() bool {
	return typeSpecs[t].Dedup
}

// DedupTypes lists every type subject to the one-active-record rule.
func DedupTypes() []NotificationType {
	return []NotificationType{TypePostReaction, TypeCommentReaction}
}

// OnceTypes lists every type whose creates are keyed for insert-once.
func OnceTypes() []NotificationType {
	return []NotificationType{TypePostCreated, TypeCommentAdded, TypeFollowedUser, TypeMessageReceived, TypeUserMentioned}
}
