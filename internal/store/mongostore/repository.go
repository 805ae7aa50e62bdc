package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ store.Repository = (*Repository)(nil)

// Repository is the MongoDB driver of store.Repository.
type Repository struct {
	coll *mongo.Collection
	now  func() time.Time
}

func New(db *mongo.Database, collection string) *Repository {
	return &Repository{
		coll: db.Collection(collection),
		now:  func() time.Time { return store.Truncate(time.Now()) },
	}
}

func (r *Repository) Collection() *mongo.Collection { return r.coll }

func (r *Repository) Create(ctx context.Context, n *model.Notification) error {
	store.Stamp(n, r.now())
	if _, err := r.coll.InsertOne(ctx, n); err != nil {
		return classify("insert", err)
	}
	return nil
}

// CreateMany inserts every record in one round-trip.
func (r *Repository) CreateMany(ctx context.Context, ns []*model.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	now := r.now()
	docs := make([]any, 0, len(ns))
	for _, n := range ns {
		store.Stamp(n, now)
		docs = append(docs, n)
	}
	if _, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return classify("insert many", err)
	}
	return nil
}

// CreateOnce writes keyed records as $setOnInsert upserts and the rest as plain inserts, all
// in one unordered bulk write.
func (r *Repository) CreateOnce(ctx context.Context, ns []*model.Notification) ([]*model.Notification, error) {
	if len(ns) == 0 {
		return nil, nil
	}
	now := r.now()
	models := make([]mongo.WriteModel, 0, len(ns))
	keyed := make([]bool, len(ns))
	for i, n := range ns {
		store.Stamp(n, now)
		f, ok := store.OnceFilter(n)
		if !ok {
			models = append(models, mongo.NewInsertOneModel().SetDocument(n))
			continue
		}
		keyed[i] = true
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(toBSON(f)).
			SetUpdate(bson.M{"$setOnInsert": n}).
			SetUpsert(true))
	}

	res, err := r.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	lost := make(map[int]bool)
	if err != nil {
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
			return nil, classify("bulk create", err)
		}
		for _, we := range bwe.WriteErrors {
			// A concurrent create of the same key won the race on the once index.
			if !keyed[we.Index] || !mongo.IsDuplicateKeyError(we) {
				return nil, classify("bulk create", err)
			}
			lost[we.Index] = true
		}
	}

	created := make([]*model.Notification, 0, len(ns))
	for i, n := range ns {
		if lost[i] {
			continue
		}
		if keyed[i] {
			if res == nil {
				continue
			}
			if _, ok := res.UpsertedIDs[int64(i)]; !ok {
				continue
			}
		}
		created = append(created, n)
	}
	return created, nil
}

func (r *Repository) Upsert(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	key, ok := n.DedupKey()
	if !ok {
		if err := r.Create(ctx, n); err != nil {
			return nil, err
		}
		return n, nil
	}

	filter, update := r.upsertDoc(key, n)
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	// A newer record makes the filter miss and the upsert insert collide on the dedup
	// index. A concurrent first insert collides the same way but succeeds on retry.
	for attempt := 0; ; attempt++ {
		var out model.Notification
		err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
		if err == nil {
			return &out, nil
		}
		if mongo.IsDuplicateKeyError(err) {
			if attempt == 0 {
				continue
			}
			return nil, errs.ErrStale
		}
		return nil, classify("upsert", err)
	}
}

// UpsertMany refreshes or inserts every record in one bulk write. Stale items are skipped.
func (r *Repository) UpsertMany(ctx context.Context, ns []*model.Notification) (int64, error) {
	if len(ns) == 0 {
		return 0, nil
	}

	models := make([]mongo.WriteModel, 0, len(ns))
	keyed := make([]*model.Notification, 0, len(ns))
	var applied int64
	for _, n := range ns {
		key, ok := n.DedupKey()
		if !ok {
			if err := r.Create(ctx, n); err != nil {
				return applied, err
			}
			applied++
			continue
		}
		filter, update := r.upsertDoc(key, n)
		models = append(models, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true))
		keyed = append(keyed, n)
	}
	if len(models) == 0 {
		return applied, nil
	}

	res, err := r.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if res != nil {
		applied += res.MatchedCount + res.UpsertedCount
	}
	if err == nil {
		return applied, nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
		return applied, classify("bulk upsert", err)
	}
	for _, we := range bwe.WriteErrors {
		if !mongo.IsDuplicateKeyError(we) {
			return applied, classify("bulk upsert", err)
		}
		// Collisions get the single-record path: retried once, stale ones dropped.
		if _, err := r.Upsert(ctx, keyed[we.Index]); err != nil {
			if errors.Is(err, errs.ErrStale) {
				continue
			}
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (r *Repository) upsertDoc(key model.DedupKey, n *model.Notification) (bson.M, bson.M) {
	at := n.UpdatedAt
	if at.IsZero() {
		at = r.now()
	}
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = at
	}

	filter := keyFilter(key)
	filter["updatedAt"] = bson.M{"$lte": at}

	update := bson.M{
		"$set": bson.M{
			"content":   n.Content,
			"data":      n.Data,
			"updatedAt": at,
		},
		"$setOnInsert": bson.M{
			"isRead":    false,
			"createdAt": createdAt,
		},
	}
	return filter, update
}

func (r *Repository) Get(ctx context.Context, id primitive.ObjectID) (*model.Notification, error) {
	var out model.Notification
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&out); err != nil {
		return nil, classify("get", err)
	}
	return &out, nil
}

func (r *Repository) Find(ctx context.Context, f store.Filter, p store.Page) ([]*model.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if p.Limit > 0 {
		opts.SetLimit(p.Limit)
	}
	if p.Offset > 0 {
		opts.SetSkip(p.Offset)
	}

	cur, err := r.coll.Find(ctx, toBSON(f), opts)
	if err != nil {
		return nil, classify("find", err)
	}
	out := make([]*model.Notification, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, classify("find decode", err)
	}
	return out, nil
}

func (r *Repository) Distinct(ctx context.Context, field store.Field, f store.Filter) ([]string, error) {
	raw, err := r.coll.Distinct(ctx, string(field), toBSON(f))
	if err != nil {
		return nil, classify("distinct", err)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *Repository) CountUnread(ctx context.Context, userID string) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"toUserId": userID, "isRead": false})
	return n, classify("count unread", err)
}

func (r *Repository) CountByType(ctx context.Context, userID string, t model.NotificationType) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"toUserId": userID, "type": t})
	return n, classify("count by type", err)
}

func (r *Repository) Update(ctx context.Context, id primitive.ObjectID, u store.Update) (*model.Notification, error) {
	at := u.At
	if at.IsZero() {
		at = r.now()
	}
	set := bson.M{"updatedAt": at}
	if u.Content != nil {
		set["content"] = *u.Content
	}
	if u.IsRead != nil {
		set["isRead"] = *u.IsRead
	}
	if u.Data != nil {
		set["data"] = *u.Data
	}

	var out model.Notification
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "updatedAt": bson.M{"$lte": at}},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, classify("update", err)
	}

	exists, cerr := r.coll.CountDocuments(ctx, bson.M{"_id": id})
	if cerr != nil {
		return nil, classify("update", cerr)
	}
	if exists > 0 {
		return nil, errs.ErrStale
	}
	return nil, errs.ErrNotFound
}

func (r *Repository) MarkRead(ctx context.Context, id primitive.ObjectID, userID string) (*model.Notification, error) {
	filter := bson.M{"_id": id}
	if userID != "" {
		filter["toUserId"] = userID
	}

	var out model.Notification
	err := r.coll.FindOneAndUpdate(ctx, filter,
		bson.M{"$set": bson.M{"isRead": true}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return nil, classify("mark read", err)
	}
	return &out, nil
}

func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return r.setRead(ctx, userID, true)
}

func (r *Repository) MarkAllUnread(ctx context.Context, userID string) (int64, error) {
	return r.setRead(ctx, userID, false)
}

func (r *Repository) setRead(ctx context.Context, userID string, read bool) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"toUserId": userID, "isRead": !read},
		bson.M{"$set": bson.M{"isRead": read}},
	)
	if err != nil {
		return 0, classify("set read", err)
	}
	return res.ModifiedCount, nil
}

func (r *Repository) DeleteMany(ctx context.Context, f store.Filter) (int64, error) {
	if f.IsZero() {
		return 0, errUnboundedDelete
	}
	res, err := r.coll.DeleteMany(ctx, toBSON(f))
	if err != nil {
		return 0, classify("delete", err)
	}
	return res.DeletedCount, nil
}

// FindAndDelete returns the records it removed so callers can notify their recipients.
func (r *Repository) FindAndDelete(ctx context.Context, f store.Filter) ([]*model.Notification, error) {
	if f.IsZero() {
		return nil, errUnboundedDelete
	}
	found, err := r.Find(ctx, f, store.Page{})
	if err != nil || len(found) == 0 {
		return found, err
	}

	ids := make([]primitive.ObjectID, 0, len(found))
	for _, n := range found {
		ids = append(ids, n.ID)
	}
	if _, err := r.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, classify("delete", err)
	}
	return found, nil
}

func (r *Repository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	return r.DeleteMany(ctx, store.ByUser(userID))
}

func (r *Repository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	return r.DeleteMany(ctx, store.Filter{CreatedBefore: before})
}

var errUnboundedDelete = errors.New("mongostore: refusing to delete with an empty filter")

// classify maps driver errors onto the domain taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errs.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w: %v", op, errs.ErrDuplicate, err)
	}
	if isTransient(err) {
		return errs.Transient(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	var le mongo.LabeledError
	if errors.As(err, &le) {
		return le.HasErrorLabel("RetryableWriteError") || le.HasErrorLabel("TransientTransactionError")
	}
	return false
}
