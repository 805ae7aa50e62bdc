package mongostore

import (
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/store"
	"go.mongodb.org/mongo-driver/bson"
)

// toBSON translates a structural filter into one query document.
func toBSON(f store.Filter) bson.M {
	q := bson.M{}
	if len(f.IDs) > 0 {
		q["_id"] = bson.M{"$in": f.IDs}
	}
	if len(f.Types) > 0 {
		q["type"] = bson.M{"$in": f.Types}
	}

	var and []bson.M
	for _, m := range f.All {
		and = append(and, matchBSON(m))
	}
	if len(f.Any) > 0 {
		or := make([]bson.M, 0, len(f.Any))
		for _, m := range f.Any {
			or = append(or, matchBSON(m))
		}
		and = append(and, bson.M{"$or": or})
	}
	if len(and) > 0 {
		q["$and"] = and
	}

	if f.IsRead != nil {
		q["isRead"] = *f.IsRead
	}
	if !f.CreatedBefore.IsZero() {
		q["createdAt"] = bson.M{"$lt": f.CreatedBefore}
	}
	return q
}

// matchBSON uses $in for every match; a null entry also matches an absent field.
func matchBSON(m store.Match) bson.M {
	values := make([]any, 0, len(m.Values)+2)
	for _, v := range m.Values {
		values = append(values, v)
	}
	if m.OrMissing {
		values = append(values, nil, "")
	}
	return bson.M{string(m.Field): bson.M{"$in": values}}
}

func keyFilter(key model.DedupKey) bson.M {
	return bson.M{
		string(store.FieldToUser):          key.ToUserID,
		string(store.FieldFromUser):        key.FromUserID,
		string(store.FieldType):            key.Type,
		string(store.RefField(key.Target)): key.TargetID,
	}
}
