package service

import (
	"context"
	"errors"
	"testing"

	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/identity"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/service/dto"
	"github.com/webitel/im-notification-service/internal/store"
)

func reaction(from, to, post, value string, ts dto.Timestamp) *dto.Event {
	return &dto.Event{
		ToUserID:   identity.ID(to),
		FromUserID: identity.ID(from),
		Data:       dto.Data{PostID: identity.ID(post), Reaction: value},
		OccurredAt: ts,
	}
}

func TestPostReactionRefreshesSingleRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := f.notifier.PostReaction(ctx, reaction("A", "B", "P1", "like", at(i))); err != nil {
			t.Fatalf("reaction %d: %v", i, err)
		}
	}

	got := f.all(t, store.Filter{All: []store.Match{store.Eq(store.FieldToUser, "B")}})
	if len(got) != 1 {
		t.Fatalf("expected one record for B, got %d", len(got))
	}
	if !got[0].UpdatedAt.Equal(at(3).Time) {
		t.Fatalf("updatedAt = %v, want %v", got[0].UpdatedAt, at(3).Time)
	}
	if got[0].Content != "alice reacted to your post" {
		t.Fatalf("unexpected content %q", got[0].Content)
	}
}

func TestPostReactionExampleScenario(t *testing.T) {
	f := newFixture(t)
	f.dir.followers["B"] = []string{"A", "C", "D"}
	ctx := context.Background()

	if err := f.notifier.PostReaction(ctx, reaction("A", "B", "P1", "like", at(1))); err != nil {
		t.Fatalf("like: %v", err)
	}
	pair := store.Filter{All: []store.Match{store.Eq(store.FieldFromUser, "A"), store.Eq(store.FieldPost, "P1")}}
	first := f.all(t, pair)
	if len(first) != 3 {
		t.Fatalf("expected owner record plus 2 fan-out records, got %d", len(first))
	}

	var ownerID string
	for _, n := range first {
		switch n.ToUserID {
		case "B":
			ownerID = n.ID.Hex()
			if n.Data.OwnerID != "" {
				t.Fatalf("owner record must not carry ownerId")
			}
		case "C", "D":
			if n.Data.OwnerID != "B" {
				t.Fatalf("fan-out record for %s lacks ownerId", n.ToUserID)
			}
		default:
			t.Fatalf("unexpected recipient %s", n.ToUserID)
		}
	}

	if err := f.notifier.PostReaction(ctx, reaction("A", "B", "P1", "love", at(2))); err != nil {
		t.Fatalf("love: %v", err)
	}
	second := f.all(t, pair)
	if len(second) != 3 {
		t.Fatalf("record count changed: %d", len(second))
	}
	for _, n := range second {
		if n.Data.Reaction != "love" {
			t.Fatalf("record for %s not refreshed: %q", n.ToUserID, n.Data.Reaction)
		}
		if n.ToUserID == "B" && n.ID.Hex() != ownerID {
			t.Fatalf("owner record replaced instead of refreshed")
		}
	}

	if got := len(f.pusher.kinds(event.NotificationCreated)); got != 6 {
		t.Fatalf("expected 6 pushes, got %d", got)
	}
}

func TestStaleReactionIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.notifier.PostReaction(ctx, reaction("A", "B", "P1", "love", at(5))); err != nil {
		t.Fatal(err)
	}
	if err := f.notifier.PostReaction(ctx, reaction("A", "B", "P1", "like", at(1))); err != nil {
		t.Fatalf("stale event must not fail: %v", err)
	}

	got := f.all(t, store.Filter{})
	if len(got) != 1 || got[0].Data.Reaction != "love" {
		t.Fatalf("newer record was overwritten: %+v", got)
	}
}

func TestReactionToggle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := store.Filter{Types: []model.NotificationType{model.TypePostReaction}}

	steps := []struct {
		name string
		run  func() error
		want int
	}{
		{"react", func() error { return f.notifier.PostReaction(ctx, reaction("A", "B", "P1", "like", at(1))) }, 1},
		{"react again", func() error { return f.notifier.PostReaction(ctx, reaction("A", "B", "P1", "like", at(2))) }, 1},
		{"un-react", func() error {
			return f.cascade.SourceDeleted(ctx, &dto.SourceDeleted{Type: dto.SourcePostReaction, PostID: "P1", FromUserID: "A", ToUserID: "B"})
		}, 0},
		{"react after un-react", func() error { return f.notifier.PostReaction(ctx, reaction("A", "B", "P1", "like", at(3))) }, 1},
	}
	for _, s := range steps {
		if err := s.run(); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if got := len(f.all(t, key)); got != s.want {
			t.Fatalf("%s: %d records, want %d", s.name, got, s.want)
		}
	}
}

func TestPostCreatedFanOut(t *testing.T) {
	f := newFixture(t)
	f.dir.followers["O"] = []string{"F1", "F2", "O", "F3", "F2"}
	ctx := context.Background()

	ev := &dto.Event{ToUserID: "O", FromUserID: "O", Data: dto.Data{PostID: "P9"}}
	if err := f.notifier.PostCreated(ctx, ev); err != nil {
		t.Fatalf("post created: %v", err)
	}

	got := f.all(t, store.Filter{Types: []model.NotificationType{model.TypePostCreated}})
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	for _, n := range got {
		if n.ToUserID == "O" {
			t.Fatal("actor notified about own post")
		}
		if n.Data.PostID != "P9" {
			t.Fatalf("record lacks postId: %+v", n.Data)
		}
	}
}

func TestPostCreatedRedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.dir.followers["O"] = []string{"F1", "F2", "F3"}
	ctx := context.Background()

	ev := &dto.Event{ToUserID: "O", FromUserID: "O", Data: dto.Data{PostID: "P9"}}
	for i := 0; i < 2; i++ {
		if err := f.notifier.PostCreated(ctx, ev); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	if got := len(f.all(t, store.Filter{Types: []model.NotificationType{model.TypePostCreated}})); got != 3 {
		t.Fatalf("expected 3 records after redelivery, got %d", got)
	}
	if got := len(f.pusher.kinds(event.NotificationCreated)); got != 3 {
		t.Fatalf("redelivery must not push again: %d pushes", got)
	}
}

func TestPostCreatedWithoutFollowers(t *testing.T) {
	f := newFixture(t)
	ev := &dto.Event{ToUserID: "O", Data: dto.Data{PostID: "P9"}}
	if err := f.notifier.PostCreated(context.Background(), ev); err != nil {
		t.Fatalf("empty follower set must be a no-op: %v", err)
	}
	if got := len(f.all(t, store.Filter{})); got != 0 {
		t.Fatalf("expected no records, got %d", got)
	}
}

func TestPostCreatedDirectoryDown(t *testing.T) {
	f := newFixture(t)
	f.dir.err = errs.Transient(errors.New("connection refused"))

	err := f.notifier.PostCreated(context.Background(), &dto.Event{ToUserID: "O", Data: dto.Data{PostID: "P9"}})
	if !errs.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestSelfNotificationSuppressed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	self := func() *dto.Event {
		return &dto.Event{
			ToUserID:   "A",
			FromUserID: "A",
			Content:    "x",
			Data:       dto.Data{PostID: "P1", CommentID: "C1"},
		}
	}

	handlers := map[string]func(context.Context, *dto.Event) error{
		"login":            f.notifier.Login,
		"post.reaction":    f.notifier.PostReaction,
		"comment.added":    f.notifier.CommentAdded,
		"comment.reaction": f.notifier.CommentReaction,
		"user.followed":    f.notifier.FollowedUser,
		"message.received": f.notifier.MessageReceived,
		"mentioned":        f.notifier.Mentioned,
	}
	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			if err := h(ctx, self()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
	if got := len(f.all(t, store.Filter{})); got != 0 {
		t.Fatalf("expected zero records, got %d", got)
	}
	if len(f.pusher.events) != 0 {
		t.Fatalf("expected no pushes, got %d", len(f.pusher.events))
	}
}

func TestCommentReactionBeforeCommentAdded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	react := &dto.Event{ToUserID: "B", FromUserID: "C", Data: dto.Data{CommentID: "C1", PostID: "P1"}, OccurredAt: at(2)}
	added := &dto.Event{ToUserID: "B", FromUserID: "A", Data: dto.Data{CommentID: "C1", PostID: "P1"}, OccurredAt: at(1)}

	if err := f.notifier.CommentReaction(ctx, react); err != nil {
		t.Fatalf("reaction: %v", err)
	}
	if err := f.notifier.CommentAdded(ctx, added); err != nil {
		t.Fatalf("added: %v", err)
	}

	got := f.all(t, store.Filter{All: []store.Match{store.Eq(store.FieldComment, "C1")}})
	if len(got) != 2 {
		t.Fatalf("expected both records, got %d", len(got))
	}
	types := map[model.NotificationType]bool{}
	for _, n := range got {
		types[n.Type] = true
	}
	if !types[model.TypeCommentAdded] || !types[model.TypeCommentReaction] {
		t.Fatalf("unexpected types %v", types)
	}
}

func TestCommentAddedContent(t *testing.T) {
	tests := []struct {
		name string
		data dto.Data
		want string
	}{
		{"explicit kind", dto.Data{CommentID: "C1", NotificationType: "reply_to_post_owner"}, "alice replied to a comment on your post"},
		{"inferred reply", dto.Data{CommentID: "C2", ParentCommentID: "C1"}, "alice replied to your comment"},
		{"top level", dto.Data{CommentID: "C3"}, "alice commented on your post"},
		{"unknown kind", dto.Data{CommentID: "C4", NotificationType: "bogus"}, "alice commented on your post"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if err := f.notifier.CommentAdded(context.Background(), &dto.Event{ToUserID: "B", FromUserID: "A", Data: tt.data}); err != nil {
				t.Fatal(err)
			}
			got := f.all(t, store.Filter{})
			if len(got) != 1 || got[0].Content != tt.want {
				t.Fatalf("content = %q, want %q", got[0].Content, tt.want)
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := &model.Notification{ToUserID: "B", Type: model.TypeGeneral, Content: "old"}
	f.seed(t, n)

	if err := f.notifier.Update(ctx, &dto.Event{ID: "0123456789abcdef01234567", Content: "x"}); err != nil {
		t.Fatalf("missing record must be a no-op: %v", err)
	}
	if err := f.notifier.Update(ctx, &dto.Event{ID: "not-an-id"}); !errors.Is(err, errs.ErrMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}

	read := true
	if err := f.notifier.Update(ctx, &dto.Event{ID: dtoID(n), Content: "new", IsRead: &read}); err != nil {
		t.Fatal(err)
	}
	got, err := f.repo.Get(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "new" || !got.IsRead {
		t.Fatalf("record not overwritten: %+v", got)
	}
	if len(f.pusher.kinds(event.NotificationUpdated)) != 1 {
		t.Fatal("expected one update push")
	}
}

func TestSystemCreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok := &dto.Event{ToUserID: "B", Type: string(model.TypeSessionPaid), Data: dto.Data{SessionID: "S1", Amount: 25, Currency: "usd"}}
	if err := f.notifier.SystemCreated(ctx, ok); err != nil {
		t.Fatal(err)
	}
	got := f.all(t, store.Filter{})
	if len(got) != 1 || got[0].Content != "Session payment received" {
		t.Fatalf("unexpected records %+v", got)
	}

	bad := &dto.Event{ToUserID: "B", Type: string(model.TypePostReaction)}
	if err := f.notifier.SystemCreated(ctx, bad); !errors.Is(err, errs.ErrMalformed) {
		t.Fatalf("expected malformed for non-system type, got %v", err)
	}
}
