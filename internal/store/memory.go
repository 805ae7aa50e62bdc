package store

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var _ Repository = (*Memory)(nil)

var errUnboundedDelete = errors.New("store: refusing to delete with an empty filter")

// Memory is the in-process driver used by tests and local runs. It enforces the same dedup
// uniqueness and last-write-wins rules as the Mongo driver.
type Memory struct {
	mu   sync.RWMutex
	docs map[primitive.ObjectID]*model.Notification
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[primitive.ObjectID]*model.Notification),
		now:  func() time.Time { return Truncate(time.Now()) },
	}
}

func (m *Memory) Create(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(n)
}

func (m *Memory) CreateMany(_ context.Context, ns []*model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range ns {
		if err := m.insertLocked(n); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) CreateOnce(_ context.Context, ns []*model.Notification) ([]*model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	created := make([]*model.Notification, 0, len(ns))
	for _, n := range ns {
		if f, ok := OnceFilter(n); ok && len(m.selectLocked(f)) > 0 {
			continue
		}
		if err := m.insertLocked(n); err != nil {
			return created, err
		}
		created = append(created, clone(m.docs[n.ID]))
	}
	return created, nil
}

func (m *Memory) insertLocked(n *model.Notification) error {
	Stamp(n, m.now())
	if _, ok := m.docs[n.ID]; ok {
		return errs.ErrDuplicate
	}
	if key, ok := n.DedupKey(); ok {
		if m.findByKeyLocked(key) != nil {
			return errs.ErrDuplicate
		}
	}
	cp := *n
	m.docs[n.ID] = &cp
	return nil
}

func (m *Memory) Upsert(_ context.Context, n *model.Notification) (*model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(n)
}

func (m *Memory) upsertLocked(n *model.Notification) (*model.Notification, error) {
	key, ok := n.DedupKey()
	if !ok {
		if err := m.insertLocked(n); err != nil {
			return nil, err
		}
		return clone(m.docs[n.ID]), nil
	}

	at := n.UpdatedAt
	if at.IsZero() {
		at = m.now()
	}

	existing := m.findByKeyLocked(key)
	if existing == nil {
		fresh := *n
		fresh.ID = primitive.NilObjectID
		fresh.UpdatedAt = at
		if fresh.CreatedAt.IsZero() {
			fresh.CreatedAt = at
		}
		if err := m.insertLocked(&fresh); err != nil {
			return nil, err
		}
		return clone(m.docs[fresh.ID]), nil
	}
	if existing.UpdatedAt.After(at) {
		return nil, errs.ErrStale
	}

	existing.Content = n.Content
	existing.Data = n.Data
	existing.UpdatedAt = at
	return clone(existing), nil
}

func (m *Memory) UpsertMany(_ context.Context, ns []*model.Notification) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var applied int64
	for _, n := range ns {
		if _, err := m.upsertLocked(n); err != nil {
			if errors.Is(err, errs.ErrStale) {
				continue
			}
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (m *Memory) Get(_ context.Context, id primitive.ObjectID) (*model.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.docs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(n), nil
}

func (m *Memory) Find(_ context.Context, f Filter, p Page) ([]*model.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.selectLocked(f)
	if p.Offset > 0 {
		if p.Offset >= int64(len(out)) {
			return []*model.Notification{}, nil
		}
		out = out[p.Offset:]
	}
	if p.Limit > 0 && int64(len(out)) > p.Limit {
		out = out[:p.Limit]
	}
	for i, n := range out {
		out[i] = clone(n)
	}
	return out, nil
}

func (m *Memory) Distinct(_ context.Context, field Field, f Filter) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, n := range m.selectLocked(f) {
		v := fieldValue(n, field)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) CountUnread(_ context.Context, userID string) (int64, error) {
	unread := false
	return m.count(Filter{All: []Match{Eq(FieldToUser, userID)}, IsRead: &unread}), nil
}

func (m *Memory) CountByType(_ context.Context, userID string, t model.NotificationType) (int64, error) {
	return m.count(Filter{All: []Match{Eq(FieldToUser, userID)}, Types: []model.NotificationType{t}}), nil
}

func (m *Memory) count(f Filter) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.selectLocked(f)))
}

func (m *Memory) Update(_ context.Context, id primitive.ObjectID, u Update) (*model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.docs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	at := u.At
	if at.IsZero() {
		at = m.now()
	}
	if n.UpdatedAt.After(at) {
		return nil, errs.ErrStale
	}
	if u.Content != nil {
		n.Content = *u.Content
	}
	if u.IsRead != nil {
		n.IsRead = *u.IsRead
	}
	if u.Data != nil {
		n.Data = *u.Data
	}
	n.UpdatedAt = at
	return clone(n), nil
}

func (m *Memory) MarkRead(_ context.Context, id primitive.ObjectID, userID string) (*model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.docs[id]
	if !ok || (userID != "" && n.ToUserID != userID) {
		return nil, errs.ErrNotFound
	}
	n.IsRead = true
	return clone(n), nil
}

func (m *Memory) MarkAllRead(_ context.Context, userID string) (int64, error) {
	return m.setRead(userID, true), nil
}

func (m *Memory) MarkAllUnread(_ context.Context, userID string) (int64, error) {
	return m.setRead(userID, false), nil
}

func (m *Memory) setRead(userID string, read bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed int64
	for _, n := range m.docs {
		if n.ToUserID == userID && n.IsRead != read {
			n.IsRead = read
			changed++
		}
	}
	return changed
}

func (m *Memory) DeleteMany(ctx context.Context, f Filter) (int64, error) {
	deleted, err := m.FindAndDelete(ctx, f)
	return int64(len(deleted)), err
}

func (m *Memory) FindAndDelete(_ context.Context, f Filter) ([]*model.Notification, error) {
	if f.IsZero() {
		return nil, errUnboundedDelete
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.selectLocked(f)
	for _, n := range out {
		delete(m.docs, n.ID)
	}
	return out, nil
}

func (m *Memory) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	return m.DeleteMany(ctx, ByUser(userID))
}

func (m *Memory) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	return m.DeleteMany(ctx, Filter{CreatedBefore: before})
}

// selectLocked returns the matching records newest first.
func (m *Memory) selectLocked(f Filter) []*model.Notification {
	out := make([]*model.Notification, 0)
	for _, n := range m.docs {
		if Matches(n, f) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.Hex() > out[j].ID.Hex()
	})
	return out
}

func (m *Memory) findByKeyLocked(key model.DedupKey) *model.Notification {
	for _, n := range m.docs {
		if k, ok := n.DedupKey(); ok && k == key {
			return n
		}
	}
	return nil
}

// Matches evaluates f against n the way the Mongo driver's query would.
func Matches(n *model.Notification, f Filter) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, n.ID) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, n.Type) {
		return false
	}
	for _, mt := range f.All {
		if !mt.holds(n) {
			return false
		}
	}
	if len(f.Any) > 0 && !slices.ContainsFunc(f.Any, func(mt Match) bool { return mt.holds(n) }) {
		return false
	}
	if f.IsRead != nil && n.IsRead != *f.IsRead {
		return false
	}
	if !f.CreatedBefore.IsZero() && !n.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

func (mt Match) holds(n *model.Notification) bool {
	v := fieldValue(n, mt.Field)
	if v == "" && mt.OrMissing {
		return true
	}
	return slices.Contains(mt.Values, v)
}

func fieldValue(n *model.Notification, f Field) string {
	switch f {
	case FieldToUser:
		return n.ToUserID
	case FieldFromUser:
		return n.FromUserID
	case FieldType:
		return string(n.Type)
	case FieldPost:
		return n.Data.PostID
	case FieldComment:
		return n.Data.CommentID
	case FieldParentComment:
		return n.Data.ParentCommentID
	case FieldMessage:
		return n.Data.MessageID
	case FieldFollower:
		return n.Data.FollowerID
	case FieldOwner:
		return n.Data.OwnerID
	case FieldSession:
		return n.Data.SessionID
	}
	return ""
}

func clone(n *model.Notification) *model.Notification {
	cp := *n
	return &cp
}
