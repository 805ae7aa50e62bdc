package service

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/identity"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/service/dto"
	"github.com/webitel/im-notification-service/internal/store"
)

func rec(t model.NotificationType, to, from string, d model.Data) *model.Notification {
	return &model.Notification{ToUserID: to, FromUserID: from, Type: t, Content: string(t), Data: d}
}

func TestCommentCascade(t *testing.T) {
	f := newFixture(t)

	dependent := []*model.Notification{
		rec(model.TypeCommentAdded, "O", "X", model.Data{PostID: "P", CommentID: "C1"}),
		rec(model.TypeCommentAdded, "X", "Y", model.Data{PostID: "P", CommentID: "R1", ParentCommentID: "C1"}),
		rec(model.TypeCommentAdded, "X", "Z", model.Data{PostID: "P", CommentID: "R2", ParentCommentID: "C1"}),
		rec(model.TypeCommentReaction, "X", "Y", model.Data{CommentID: "C1"}),
		rec(model.TypeCommentReaction, "Y", "X", model.Data{CommentID: "R1"}),
		rec(model.TypeCommentReaction, "Z", "X", model.Data{CommentID: "R2", ParentCommentID: "C1", IsReply: true}),
		rec(model.TypeUserMentioned, "M", "X", model.Data{PostID: "P", CommentID: "C1"}),
	}
	unrelated := []*model.Notification{
		rec(model.TypeCommentAdded, "O", "X", model.Data{PostID: "P", CommentID: "C2"}),
		rec(model.TypeCommentReaction, "X", "Y", model.Data{CommentID: "C2"}),
		rec(model.TypeUserMentioned, "M", "X", model.Data{PostID: "P", CommentID: "C2"}),
		rec(model.TypePostReaction, "O", "Y", model.Data{PostID: "P"}),
	}
	f.seed(t, dependent...)
	f.seed(t, unrelated...)

	err := f.cascade.SourceDeleted(context.Background(), &dto.SourceDeleted{Type: dto.SourceComment, CommentID: "C1", PostID: "P"})
	if err != nil {
		t.Fatalf("cascade: %v", err)
	}

	left := f.all(t, store.Filter{})
	if len(left) != len(unrelated) {
		t.Fatalf("expected %d records left, got %d", len(unrelated), len(left))
	}
	for _, n := range left {
		if n.Data.CommentID == "C1" || n.Data.ParentCommentID == "C1" || n.Data.CommentID == "R1" || n.Data.CommentID == "R2" {
			t.Fatalf("dependent record survived: %+v", n)
		}
	}

	recipients := map[string]bool{}
	for _, ev := range f.pusher.kinds(event.NotificationDeleted) {
		recipients[ev.GetUserID()] = true
		p := ev.GetPayload().(*model.DeletedPayload)
		if p.CommentID != "C1" || len(p.NotificationIDs) == 0 {
			t.Fatalf("unexpected payload %+v", p)
		}
	}
	for _, want := range []string{"O", "X", "Y", "Z", "M"} {
		if !recipients[want] {
			t.Fatalf("recipient %s was not told about the deletion", want)
		}
	}
}

func TestPostCascade(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		rec(model.TypePostCreated, "F1", "O", model.Data{PostID: "P"}),
		rec(model.TypePostReaction, "O", "A", model.Data{PostID: "P"}),
		rec(model.TypeCommentAdded, "O", "A", model.Data{PostID: "P", CommentID: "C1"}),
		rec(model.TypeCommentReaction, "A", "B", model.Data{CommentID: "C1"}),
		// comment whose records never carried the post id, known only from the payload
		rec(model.TypeCommentReaction, "C", "B", model.Data{CommentID: "C7"}),
		rec(model.TypePostCreated, "F1", "O", model.Data{PostID: "P2"}),
	)

	err := f.cascade.SourceDeleted(context.Background(), &dto.SourceDeleted{
		Type:       dto.SourcePost,
		PostID:     "P",
		CommentIDs: []identity.ID{"C7"},
	})
	if err != nil {
		t.Fatalf("cascade: %v", err)
	}

	left := f.all(t, store.Filter{})
	if len(left) != 1 || left[0].Data.PostID != "P2" {
		t.Fatalf("unexpected survivors %+v", left)
	}
}

func TestMentionTextPass(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		rec(model.TypeUserMentioned, "B", "A", model.Data{}),
		rec(model.TypeUserMentioned, "C", "A", model.Data{CommentID: "C1"}),
		rec(model.TypeUserMentioned, "B", "A", model.Data{CommentID: "C9"}),
		rec(model.TypeUserMentioned, "B", "D", model.Data{}),
	)

	err := f.cascade.SourceDeleted(context.Background(), &dto.SourceDeleted{
		Type:       dto.SourceMention,
		CommentID:  "C1",
		FromUserID: "A",
		Text:       "thanks @bob and @carol, also @nobody",
	})
	if err != nil {
		t.Fatal(err)
	}

	left := f.all(t, store.Filter{})
	if len(left) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(left))
	}
	for _, n := range left {
		if n.FromUserID == "A" && n.Data.CommentID != "C9" {
			t.Fatalf("mention survived: %+v", n)
		}
	}
}

func TestDirectDelete(t *testing.T) {
	f := newFixture(t)
	n := rec(model.TypeLogin, "B", "", model.Data{})
	f.seed(t, n)

	ev := &dto.SourceDeleted{Type: dto.SourceNotification, NotificationID: dtoID(n)}
	if err := f.cascade.SourceDeleted(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	pushed := f.pusher.kinds(event.NotificationDeleted)
	if len(pushed) != 1 || pushed[0].GetUserID() != "B" {
		t.Fatalf("expected one delete push to B, got %+v", pushed)
	}
	ids := pushed[0].GetPayload().(*model.DeletedPayload).NotificationIDs
	if !slices.Equal(ids, []string{n.ID.Hex()}) {
		t.Fatalf("unexpected ids %v", ids)
	}

	// Redelivery matches nothing and still succeeds.
	if err := f.cascade.SourceDeleted(context.Background(), ev); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(f.pusher.kinds(event.NotificationDeleted)) != 1 {
		t.Fatal("zero-count delete must not push")
	}
}

func TestFollowAndMessageDelete(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		rec(model.TypeFollowedUser, "B", "A", model.Data{FollowerID: "A"}),
		rec(model.TypeFollowedUser, "B", "C", model.Data{FollowerID: "C"}),
		rec(model.TypeMessageReceived, "B", "A", model.Data{MessageID: "M1"}),
	)
	ctx := context.Background()

	if err := f.cascade.SourceDeleted(ctx, &dto.SourceDeleted{Type: dto.SourceFollow, ToUserID: "B", FollowerID: "A"}); err != nil {
		t.Fatal(err)
	}
	if err := f.cascade.SourceDeleted(ctx, &dto.SourceDeleted{Type: dto.SourceMessage, MessageID: "M1"}); err != nil {
		t.Fatal(err)
	}
	left := f.all(t, store.Filter{})
	if len(left) != 1 || left[0].FromUserID != "C" {
		t.Fatalf("unexpected survivors %+v", left)
	}
}

func TestCascadeRejectsMalformed(t *testing.T) {
	f := newFixture(t)
	tests := []*dto.SourceDeleted{
		{Type: "galaxy"},
		{Type: dto.SourcePost},
		{Type: dto.SourceComment},
		{Type: dto.SourceFollow, ToUserID: "B"},
		{Type: dto.SourceNotification, NotificationID: "zzz"},
	}
	for _, ev := range tests {
		t.Run(ev.Type, func(t *testing.T) {
			if err := f.cascade.SourceDeleted(context.Background(), ev); !errors.Is(err, errs.ErrMalformed) {
				t.Fatalf("expected malformed, got %v", err)
			}
		})
	}
}

// failingRepo fails every delete of one record type.
type failingRepo struct {
	store.Repository
	fail model.NotificationType
}

func (r *failingRepo) FindAndDelete(ctx context.Context, f store.Filter) ([]*model.Notification, error) {
	if slices.Contains(f.Types, r.fail) {
		return nil, errs.Transient(errors.New("store unavailable"))
	}
	return r.Repository.FindAndDelete(ctx, f)
}

func TestCascadePartialFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		rec(model.TypeCommentAdded, "O", "X", model.Data{CommentID: "C1"}),
		rec(model.TypeCommentReaction, "X", "Y", model.Data{CommentID: "C1"}),
		rec(model.TypeUserMentioned, "M", "X", model.Data{CommentID: "C1"}),
	)
	c := NewCascade(&failingRepo{Repository: f.repo, fail: model.TypeCommentReaction}, f.dir, f.pusher, discardLogger())

	err := c.SourceDeleted(context.Background(), &dto.SourceDeleted{Type: dto.SourceComment, CommentID: "C1"})
	if !errs.IsTransient(err) {
		t.Fatalf("expected transient aggregate, got %v", err)
	}

	left := f.all(t, store.Filter{})
	if len(left) != 1 || left[0].Type != model.TypeCommentReaction {
		t.Fatalf("other categories must still run, left %+v", left)
	}

	// The retry finishes the remainder.
	if err := f.cascade.SourceDeleted(context.Background(), &dto.SourceDeleted{Type: dto.SourceComment, CommentID: "C1"}); err != nil {
		t.Fatal(err)
	}
	if got := len(f.all(t, store.Filter{})); got != 0 {
		t.Fatalf("expected empty store, got %d", got)
	}
}
