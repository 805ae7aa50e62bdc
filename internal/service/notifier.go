package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/service/dto"
	"github.com/webitel/im-notification-service/internal/service/mapper"
	"github.com/webitel/im-notification-service/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Notifier turns inbound events into stored records and live pushes: plain creates, dedup
// refreshes of reaction records and follower fan-outs.
type Notifier struct {
	repo     store.Repository
	dir      Directory
	enricher Enricher
	pusher   Pusher
	logger   *slog.Logger
	now      func() time.Time
}

func NewNotifier(repo store.Repository, dir Directory, enricher Enricher, pusher Pusher, logger *slog.Logger) *Notifier {
	return &Notifier{
		repo:     repo,
		dir:      dir,
		enricher: enricher,
		pusher:   pusher,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Notifier) Login(ctx context.Context, ev *dto.Event) error {
	return s.createFor(ctx, model.TypeLogin, ev)
}

func (s *Notifier) FollowedUser(ctx context.Context, ev *dto.Event) error {
	if ev.Data.FollowerID.IsZero() {
		ev.Data.FollowerID = ev.FromUserID
	}
	return s.createFor(ctx, model.TypeFollowedUser, ev)
}

func (s *Notifier) MessageReceived(ctx context.Context, ev *dto.Event) error {
	return s.createFor(ctx, model.TypeMessageReceived, ev)
}

func (s *Notifier) Mentioned(ctx context.Context, ev *dto.Event) error {
	return s.createFor(ctx, model.TypeUserMentioned, ev)
}

func (s *Notifier) CommentAdded(ctx context.Context, ev *dto.Event) error {
	if s.selfTriggered(ctx, model.TypeCommentAdded, ev) {
		return nil
	}
	n := mapper.ToNotification(model.TypeCommentAdded, ev)
	n.Data.CommentKind = resolveCommentKind(n.Data)
	s.fillContent(ctx, n)
	return s.create(ctx, n)
}

// SystemCreated stores a system or payment notification of the type the event names.
func (s *Notifier) SystemCreated(ctx context.Context, ev *dto.Event) error {
	t := model.NotificationType(ev.Type)
	if spec, ok := t.Spec(); !ok || !spec.System {
		return errs.Malformed("type %q cannot be created directly", ev.Type)
	}
	return s.createFor(ctx, t, ev)
}

// PostCreated fans a new post out to the owner's followers in one bulk insert-once write.
func (s *Notifier) PostCreated(ctx context.Context, ev *dto.Event) error {
	owner := ev.ToUserID.String()
	actor := ev.FromUserID.String()
	if actor == "" {
		actor = owner
	}

	recipients, err := s.followers(ctx, owner, actor, owner)
	if err != nil || len(recipients) == 0 {
		return err
	}

	content := ev.Content
	if content == "" {
		content = contentFor(model.TypePostCreated, s.enricher.Username(ctx, actor), model.Data{})
	}

	data := mapper.ToData(ev.Data)
	ns := make([]*model.Notification, 0, len(recipients))
	for _, r := range recipients {
		n := &model.Notification{
			ToUserID:   r,
			FromUserID: actor,
			Type:       model.TypePostCreated,
			Content:    content,
			Data:       data,
		}
		if err := n.Validate(); err != nil {
			return errs.Malformed("%v", err)
		}
		ns = append(ns, n)
	}

	created, err := s.repo.CreateOnce(ctx, ns)
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "FANOUT_CREATED", "type", model.TypePostCreated, "owner", owner,
		"recipients", len(ns), "created", len(created))
	s.push(ctx, event.PriorityNormal, event.NewCreated, created...)
	return nil
}

// PostReaction refreshes the owner's reaction record, then fans a lower-priority record out
// to the owner's followers with one bulk upsert.
func (s *Notifier) PostReaction(ctx context.Context, ev *dto.Event) error {
	if s.selfTriggered(ctx, model.TypePostReaction, ev) {
		return nil
	}

	at := s.at(ev)
	n := mapper.ToNotification(model.TypePostReaction, ev)
	n.UpdatedAt = at
	s.fillContent(ctx, n)
	if _, err := s.upsert(ctx, n); err != nil {
		return err
	}

	owner, actor := n.ToUserID, n.FromUserID
	recipients, err := s.followers(ctx, owner, actor, owner)
	if err != nil || len(recipients) == 0 {
		return err
	}

	content := fanoutContent(s.enricher.Username(ctx, actor), s.enricher.Username(ctx, owner))
	data := n.Data
	data.OwnerID = owner

	ns := make([]*model.Notification, 0, len(recipients))
	for _, r := range recipients {
		ns = append(ns, &model.Notification{
			ToUserID:   r,
			FromUserID: actor,
			Type:       model.TypePostReaction,
			Content:    content,
			Data:       data,
			UpdatedAt:  at,
		})
	}
	if _, err := s.repo.UpsertMany(ctx, ns); err != nil {
		return err
	}

	// Push only what this event wrote; stale items kept their newer timestamp.
	stored, err := s.repo.Find(ctx, store.Filter{
		Types: []model.NotificationType{model.TypePostReaction},
		All: []store.Match{
			store.Eq(store.FieldFromUser, actor),
			store.Eq(store.FieldPost, data.PostID),
			store.Eq(store.FieldOwner, owner),
			store.Eq(store.FieldToUser, recipients...),
		},
	}, store.Page{})
	if err != nil {
		s.logger.WarnContext(ctx, "FANOUT_PUSH_SKIPPED", "err", err, "owner", owner)
		return nil
	}
	fresh := stored[:0]
	for _, r := range stored {
		if r.UpdatedAt.Equal(at) {
			fresh = append(fresh, r)
		}
	}
	s.push(ctx, event.PriorityNormal, event.NewCreated, fresh...)
	return nil
}

func (s *Notifier) CommentReaction(ctx context.Context, ev *dto.Event) error {
	if s.selfTriggered(ctx, model.TypeCommentReaction, ev) {
		return nil
	}
	n := mapper.ToNotification(model.TypeCommentReaction, ev)
	n.UpdatedAt = s.at(ev)
	s.fillContent(ctx, n)
	_, err := s.upsert(ctx, n)
	return err
}

// Update overwrites the record the event names. A missing or newer record is a no-op.
func (s *Notifier) Update(ctx context.Context, ev *dto.Event) error {
	id, err := primitive.ObjectIDFromHex(ev.ID.String())
	if err != nil {
		return errs.Malformed("notification id %q: %v", ev.ID, err)
	}

	u := store.Update{IsRead: ev.IsRead, At: s.at(ev)}
	if ev.Content != "" {
		u.Content = &ev.Content
	}
	if !ev.Data.IsZero() {
		d := mapper.ToData(ev.Data)
		u.Data = &d
	}

	rec, err := s.repo.Update(ctx, id, u)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		s.logger.InfoContext(ctx, "UPDATE_TARGET_MISSING", "notification_id", id.Hex())
		return nil
	case errors.Is(err, errs.ErrStale):
		s.logger.DebugContext(ctx, "STALE_EVENT_ABSORBED", "notification_id", id.Hex())
		return nil
	case err != nil:
		return err
	}

	s.push(ctx, event.PriorityHigh, event.NewUpdated, rec)
	return nil
}

func (s *Notifier) createFor(ctx context.Context, t model.NotificationType, ev *dto.Event) error {
	if s.selfTriggered(ctx, t, ev) {
		return nil
	}
	n := mapper.ToNotification(t, ev)
	s.fillContent(ctx, n)
	return s.create(ctx, n)
}

func (s *Notifier) create(ctx context.Context, n *model.Notification) error {
	if err := n.Validate(); err != nil {
		return errs.Malformed("%v", err)
	}
	created, err := s.repo.CreateOnce(ctx, []*model.Notification{n})
	if err != nil {
		return err
	}
	if len(created) == 0 {
		s.logger.DebugContext(ctx, "REDELIVERY_ABSORBED", "type", n.Type, "to", n.ToUserID, "from", n.FromUserID)
		return nil
	}
	s.push(ctx, event.PriorityHigh, event.NewCreated, created...)
	return nil
}

// upsert applies the dedup rule. A stale event is absorbed and returns nil, nil.
func (s *Notifier) upsert(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	if err := n.Validate(); err != nil {
		return nil, errs.Malformed("%v", err)
	}
	stored, err := s.repo.Upsert(ctx, n)
	if errors.Is(err, errs.ErrStale) {
		s.logger.DebugContext(ctx, "STALE_EVENT_ABSORBED", "type", n.Type, "to", n.ToUserID, "from", n.FromUserID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// A refresh is broadcast as if the record were new.
	s.push(ctx, event.PriorityHigh, event.NewCreated, stored)
	return stored, nil
}

// followers resolves userID's followers minus the excluded ids. No followers is a no-op.
func (s *Notifier) followers(ctx context.Context, userID string, exclude ...string) ([]string, error) {
	ids, err := s.dir.Followers(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	skip := make(map[string]struct{}, len(exclude)+len(ids))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := skip[id]; ok || id == "" {
			continue
		}
		skip[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		s.logger.DebugContext(ctx, "FANOUT_EMPTY", "user_id", userID)
	}
	return out, nil
}

func (s *Notifier) selfTriggered(ctx context.Context, t model.NotificationType, ev *dto.Event) bool {
	if ev.FromUserID.IsZero() || ev.FromUserID != ev.ToUserID {
		return false
	}
	s.logger.DebugContext(ctx, "SELF_NOTIFICATION_SKIPPED", "type", t, "user_id", ev.ToUserID.String())
	return true
}

func (s *Notifier) fillContent(ctx context.Context, n *model.Notification) {
	if n.Content != "" {
		return
	}
	actor := UnknownActor
	if n.FromUserID != "" {
		actor = s.enricher.Username(ctx, n.FromUserID)
	}
	n.Content = contentFor(n.Type, actor, n.Data)
}

// at is the event time at store precision.
func (s *Notifier) at(ev *dto.Event) time.Time {
	return store.Truncate(ev.At(s.now()))
}

func (s *Notifier) push(ctx context.Context, priority event.EventPriority, build func(*model.NotificationView) *event.NotificationEvent, ns ...*model.Notification) {
	if len(ns) == 0 {
		return
	}
	views, _ := s.enricher.Enrich(ctx, ns)
	for _, v := range views {
		ev := build(v)
		ev.Priority = priority
		s.pusher.Push(ctx, ev)
	}
}
