package mongostore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/webitel/im-notification-service/internal/domain/identity"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// legacyRefs maps every data key older producers used to its canonical reference.
var legacyRefs = map[string]model.Ref{
	"post":            model.RefPost,
	"postId":          model.RefPost,
	"comment":         model.RefComment,
	"commentId":       model.RefComment,
	"parentComment":   model.RefParentComment,
	"parentCommentId": model.RefParentComment,
	"message":         model.RefMessage,
	"messageId":       model.RefMessage,
	"follower":        model.RefFollower,
	"followerId":      model.RefFollower,
	"postOwner":       model.RefOwner,
	"ownerId":         model.RefOwner,
	"room":            model.RefRoom,
	"roomId":          model.RefRoom,
	"session":         model.RefSession,
	"sessionId":       model.RefSession,
}

const backfillBatch = 500

// BackfillReport summarizes one migration run.
type BackfillReport struct {
	Scanned   int64 `json:"scanned"`
	Rewritten int64 `json:"rewritten"`
	Collapsed int64 `json:"collapsed"`
}

// Backfill rewrites legacy records into the fixed data shape: object-shaped and string-encoded
// ids become canonical strings and embedded entity snapshots become references. Dedup-type
// and insert-once records that collapse onto the same key keep only the newest one. Run it
// before EnsureIndexes on a collection that predates the unique dedup and once indexes.
func (r *Repository) Backfill(ctx context.Context, logger *slog.Logger) (BackfillReport, error) {
	var report BackfillReport

	cur, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: -1}}))
	if err != nil {
		return report, fmt.Errorf("backfill scan: %w", err)
	}
	defer cur.Close(ctx)

	seen := make(map[model.DedupKey]struct{})
	batch := make([]mongo.WriteModel, 0, backfillBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := r.coll.BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false)); err != nil {
			return fmt.Errorf("backfill write: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return report, fmt.Errorf("backfill decode: %w", err)
		}
		report.Scanned++

		id := doc["_id"]
		set, unset := canonicalize(doc)

		key, ok := dedupKeyOf(doc, set)
		if !ok {
			key, ok = onceKeyOf(doc, set)
		}
		if ok {
			if _, dup := seen[key]; dup {
				batch = append(batch, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": id}))
				report.Collapsed++
				continue
			}
			seen[key] = struct{}{}
		}

		if len(set) > 0 || len(unset) > 0 {
			update := bson.M{}
			if len(set) > 0 {
				update["$set"] = set
			}
			if len(unset) > 0 {
				update["$unset"] = unset
			}
			batch = append(batch, mongo.NewUpdateOneModel().SetFilter(bson.M{"_id": id}).SetUpdate(update))
			report.Rewritten++
		}

		if len(batch) >= backfillBatch {
			if err := flush(); err != nil {
				return report, err
			}
		}
	}
	if err := cur.Err(); err != nil {
		return report, fmt.Errorf("backfill cursor: %w", err)
	}
	if err := flush(); err != nil {
		return report, err
	}

	logger.Info("BACKFILL_COMPLETED",
		"scanned", report.Scanned,
		"rewritten", report.Rewritten,
		"collapsed", report.Collapsed,
	)
	return report, nil
}

// canonicalize computes the $set and $unset documents that bring doc into canonical shape.
func canonicalize(doc bson.M) (bson.M, bson.M) {
	set, unset := bson.M{}, bson.M{}

	for _, f := range []string{"toUserId", "fromUserId"} {
		raw, ok := doc[f]
		if !ok || raw == nil {
			continue
		}
		if c := identity.Normalize(raw); c != "" && !sameString(raw, c) {
			set[f] = c
		}
	}

	if _, ok := doc["updatedAt"]; !ok {
		if created, ok := doc["createdAt"]; ok {
			set["updatedAt"] = created
		} else {
			set["updatedAt"] = primitive.NewDateTimeFromTime(time.Now())
		}
	}

	data, ok := asMap(doc["data"])
	if !ok {
		return set, unset
	}

	for key, raw := range data {
		ref, known := legacyRefs[key]
		if !known || raw == nil {
			continue
		}
		canonical := string(ref)
		value := identity.Normalize(raw)

		if key != canonical {
			unset["data."+key] = ""
			// An already canonical field wins over its legacy twin.
			if existing, ok := data[canonical]; ok && identity.Normalize(existing) != "" {
				continue
			}
		}
		if value != "" && (key != canonical || !sameString(raw, value)) {
			set["data."+canonical] = value
		}
	}

	if kind, ok := data["notificationType"].(string); ok {
		unset["data.notificationType"] = ""
		if _, has := data["commentKind"]; !has && model.CommentKind(kind).IsValid() {
			set["data.commentKind"] = kind
		}
	}
	return set, unset
}

func dedupKeyOf(doc, set bson.M) (model.DedupKey, bool) {
	t, _ := doc["type"].(string)
	n := model.Notification{Type: model.NotificationType(t)}
	spec, ok := n.Type.Spec()
	if !ok || !spec.Dedup {
		return model.DedupKey{}, false
	}

	data, _ := asMap(doc["data"])
	target := string(spec.Target)

	n.ToUserID = picked(set, "toUserId", doc["toUserId"])
	n.FromUserID = picked(set, "fromUserId", doc["fromUserId"])
	switch spec.Target {
	case model.RefPost:
		n.Data.PostID = picked(set, "data."+target, data[target])
	case model.RefComment:
		n.Data.CommentID = picked(set, "data."+target, data[target])
	}
	return n.DedupKey()
}

// onceKeyOf keys an insert-once record on its first Once reference, the one the unique once
// index covers.
func onceKeyOf(doc, set bson.M) (model.DedupKey, bool) {
	t, _ := doc["type"].(string)
	spec, ok := model.NotificationType(t).Spec()
	if !ok || len(spec.Once) == 0 {
		return model.DedupKey{}, false
	}
	ref := spec.Once[0]
	data, _ := asMap(doc["data"])
	id := picked(set, "data."+string(ref), data[string(ref)])
	if id == "" {
		return model.DedupKey{}, false
	}
	return model.DedupKey{
		ToUserID:   picked(set, "toUserId", doc["toUserId"]),
		FromUserID: picked(set, "fromUserId", doc["fromUserId"]),
		Type:       model.NotificationType(t),
		Target:     ref,
		TargetID:   id,
	}, true
}

// picked returns the value path will hold once set is applied.
func picked(set bson.M, path string, current any) string {
	if v, ok := set[path].(string); ok {
		return v
	}
	return identity.Normalize(current)
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case bson.M:
		return t, true
	case map[string]any:
		return t, true
	case bson.D:
		return t.Map(), true
	}
	return nil, false
}

func sameString(raw any, s string) bool {
	v, ok := raw.(string)
	return ok && v == s
}
