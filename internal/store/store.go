// Package store defines the persistence contract of notification records and the
// structural predicate used to address them.
package store

import (
	"context"
	"time"

	"github.com/webitel/im-notification-service/internal/domain/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Field is the document path of a filterable attribute.
type Field string

const (
	FieldToUser        Field = "toUserId"
	FieldFromUser      Field = "fromUserId"
	FieldType          Field = "type"
	FieldPost          Field = "data.postId"
	FieldComment       Field = "data.commentId"
	FieldParentComment Field = "data.parentCommentId"
	FieldMessage       Field = "data.messageId"
	FieldFollower      Field = "data.followerId"
	FieldOwner         Field = "data.ownerId"
	FieldSession       Field = "data.sessionId"
)

// RefField maps a data reference to its document path.
func RefField(r model.Ref) Field {
	return Field("data." + string(r))
}

// Match holds when the field equals one of Values. OrMissing also accepts records where the
// field is absent or empty.
type Match struct {
	Field     Field
	Values    []string
	OrMissing bool
}

func Eq(f Field, values ...string) Match {
	return Match{Field: f, Values: values}
}

// Filter is a conjunction: IDs, Types, every All match, at least one Any match (when Any is
// set), IsRead and CreatedBefore.
type Filter struct {
	IDs           []primitive.ObjectID
	Types         []model.NotificationType
	All           []Match
	Any           []Match
	IsRead        *bool
	CreatedBefore time.Time
}

// IsZero reports a filter that would address the whole collection.
func (f Filter) IsZero() bool {
	return len(f.IDs) == 0 && len(f.Types) == 0 && len(f.All) == 0 && len(f.Any) == 0 &&
		f.IsRead == nil && f.CreatedBefore.IsZero()
}

// Page bounds Find. Zero Limit means no limit.
type Page struct {
	Limit  int64
	Offset int64
}

// Update overwrites the mutable attributes of one record. Nil fields are left untouched.
type Update struct {
	Content *string
	IsRead  *bool
	Data    *model.Data
	At      time.Time
}

// Repository is the notification store.
//
// CreateOnce inserts the records whose insert-once key (see OnceFilter) is not stored yet and
// returns the ones it inserted; records of unkeyed types are always inserted.
//
// Upsert and UpsertMany refresh the single record of a dedup key in place. A write whose
// UpdatedAt is older than the stored record is rejected with errs.ErrStale (UpsertMany skips
// it). Read-state changes never move UpdatedAt.
type Repository interface {
	Create(ctx context.Context, n *model.Notification) error
	CreateMany(ctx context.Context, ns []*model.Notification) error
	CreateOnce(ctx context.Context, ns []*model.Notification) ([]*model.Notification, error)
	Upsert(ctx context.Context, n *model.Notification) (*model.Notification, error)
	UpsertMany(ctx context.Context, ns []*model.Notification) (int64, error)

	Get(ctx context.Context, id primitive.ObjectID) (*model.Notification, error)
	Find(ctx context.Context, f Filter, p Page) ([]*model.Notification, error)
	Distinct(ctx context.Context, field Field, f Filter) ([]string, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	CountByType(ctx context.Context, userID string, t model.NotificationType) (int64, error)

	Update(ctx context.Context, id primitive.ObjectID, u Update) (*model.Notification, error)
	MarkRead(ctx context.Context, id primitive.ObjectID, userID string) (*model.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	MarkAllUnread(ctx context.Context, userID string) (int64, error)

	DeleteMany(ctx context.Context, f Filter) (int64, error)
	FindAndDelete(ctx context.Context, f Filter) ([]*model.Notification, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// ByUser addresses every record a user received or caused.
func ByUser(userID string) Filter {
	return Filter{Any: []Match{Eq(FieldToUser, userID), Eq(FieldFromUser, userID)}}
}

// OnceFilter addresses the stored record a create of n would duplicate: same recipient,
// actor, type and insert-once reference. False when n is not keyed.
func OnceFilter(n *model.Notification) (Filter, bool) {
	ref, absent, ok := n.OnceRef()
	if !ok {
		return Filter{}, false
	}
	f := Filter{
		Types: []model.NotificationType{n.Type},
		All: []Match{
			Eq(FieldToUser, n.ToUserID),
			{Field: FieldFromUser, Values: []string{n.FromUserID}, OrMissing: n.FromUserID == ""},
			Eq(RefField(ref), n.Data.Ref(ref)),
		},
	}
	for _, r := range absent {
		f.All = append(f.All, Match{Field: RefField(r), OrMissing: true})
	}
	return f, true
}

// Precision is the resolution at which timestamps are stored and compared.
const Precision = time.Millisecond

// Truncate brings t to the stored resolution.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(Precision)
}

// Stamp fills server-managed attributes of a record about to be inserted.
func Stamp(n *model.Notification, now time.Time) {
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = Truncate(now)
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
}
