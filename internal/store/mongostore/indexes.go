package mongostore

import (
	"context"
	"fmt"
	"strings"

	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Indexes returns the index set of the notifications collection: inbox and unread lookups,
// the entity references scanned by cascades, retention, and one partial unique index per
// dedup type and per insert-once type.
func Indexes() []mongo.IndexModel {
	idx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "toUserId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("inbox")},
		{Keys: bson.D{{Key: "toUserId", Value: 1}, {Key: "isRead", Value: 1}}, Options: options.Index().SetName("unread")},
		{Keys: bson.D{{Key: "fromUserId", Value: 1}}, Options: options.Index().SetName("actor")},
		{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetName("retention")},
	}

	for _, f := range []store.Field{store.FieldPost, store.FieldComment, store.FieldParentComment, store.FieldMessage} {
		idx = append(idx, mongo.IndexModel{
			Keys:    bson.D{{Key: string(f), Value: 1}},
			Options: options.Index().SetName(strings.ReplaceAll(string(f), ".", "_")).SetSparse(true),
		})
	}

	for _, t := range model.DedupTypes() {
		spec, _ := t.Spec()
		idx = append(idx, mongo.IndexModel{
			Keys: bson.D{
				{Key: "toUserId", Value: 1},
				{Key: "fromUserId", Value: 1},
				{Key: "type", Value: 1},
				{Key: string(store.RefField(spec.Target)), Value: 1},
			},
			Options: options.Index().
				SetName("dedup_" + strings.ToLower(string(t))).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"type": string(t)}),
		})
	}

	// Only the first Once candidate is indexed; a fallback key requires the earlier ones to
	// be absent, which a partial filter cannot express.
	for _, t := range model.OnceTypes() {
		spec, _ := t.Spec()
		ref := string(store.RefField(spec.Once[0]))
		idx = append(idx, mongo.IndexModel{
			Keys: bson.D{
				{Key: "toUserId", Value: 1},
				{Key: "fromUserId", Value: 1},
				{Key: "type", Value: 1},
				{Key: ref, Value: 1},
			},
			Options: options.Index().
				SetName("once_" + strings.ToLower(string(t))).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"type": string(t), ref: bson.M{"$exists": true}}),
		})
	}
	return idx
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if _, err := r.coll.Indexes().CreateMany(ctx, Indexes()); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	return nil
}
