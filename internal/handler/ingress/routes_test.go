package ingress

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/webitel/im-notification-service/config"
	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/service"
	"github.com/webitel/im-notification-service/internal/store"
)

type nopPusher struct{}

func (nopPusher) Push(context.Context, event.Eventer) {}

type staticDirectory struct{}

func (staticDirectory) Followers(context.Context, string) ([]string, error) { return nil, nil }
func (staticDirectory) Users(context.Context, []string) ([]model.UserSummary, error) {
	return nil, nil
}
func (staticDirectory) UsersByName(context.Context, []string) ([]model.UserSummary, error) {
	return nil, nil
}
func (staticDirectory) Post(context.Context, string) (*model.PostSnapshot, error) {
	return nil, errs.ErrNotFound
}
func (staticDirectory) Comment(context.Context, string) (*model.CommentSnapshot, error) {
	return nil, errs.ErrNotFound
}

func newRouted(t *testing.T) (*Dispatcher, *store.Memory) {
	t.Helper()
	repo := store.NewMemory()
	logger := discardLogger()
	enricher := service.NewDirectoryEnricher(staticDirectory{}, &config.Config{})
	n := service.NewNotifier(repo, staticDirectory{}, enricher, nopPusher{}, logger)
	c := service.NewCascade(repo, staticDirectory{}, nopPusher{}, logger)

	d, err := NewDispatcher(logger, Routes(validator.New(), n, c)...)
	if err != nil {
		t.Fatal(err)
	}
	return d, repo
}

const (
	owner = "65f1c0ffee0000000000000b"
	actor = "65f1c0ffee0000000000000a"
	post  = "65f1c0ffee00000000000001"
)

func TestRoutesValidateRequiredFields(t *testing.T) {
	d, _ := newRouted(t)

	tests := []struct {
		name    string
		key     string
		payload string
		want    Outcome
	}{
		{"reaction ok", KeyPostReaction, `{"toUserId":"` + owner + `","fromUserId":"` + actor + `","data":{"postId":"` + post + `"}}`, Ack},
		{"reaction without post", KeyPostReaction, `{"toUserId":"` + owner + `","fromUserId":"` + actor + `"}`, Drop},
		{"reaction without actor", KeyPostReaction, `{"toUserId":"` + owner + `","data":{"postId":"` + post + `"}}`, Drop},
		{"legacy embedded post", KeyPostReaction, `{"toUserId":"` + owner + `","fromUserId":"` + actor + `","data":{"post":{"_id":"` + post + `"}}}`, Ack},
		{"login needs content", KeyUserLogin, `{"toUserId":"` + owner + `"}`, Drop},
		{"login", KeyUserLogin, `{"toUserId":"` + owner + `","content":"New login"}`, Ack},
		{"not json", KeyCommentAdded, `{"toUserId":`, Drop},
		{"update of missing record", KeyNotificationUpdate, `{"_id":"65f1c0ffee00000000000099","content":"x"}`, Ack},
		{"update without id", KeyNotificationUpdate, `{"content":"x"}`, Drop},
		{"source deleted without type", KeySourceDeleted, `{"postId":"` + post + `"}`, Drop},
		{"source deleted", KeySourceDeleted, `{"type":"post","postId":"` + post + `"}`, Ack},
		{"system type", KeyNotificationCreated, `{"toUserId":"` + owner + `","type":"WITHDRAWAL_COMPLETED","content":"Paid out"}`, Ack},
		{"non-system type", KeyNotificationCreated, `{"toUserId":"` + owner + `","type":"POST_REACTION","content":"x"}`, Drop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Dispatch(context.Background(), tt.key, []byte(tt.payload))
			if got != tt.want {
				t.Fatalf("outcome = %s (err %v), want %s", got, err, tt.want)
			}
		})
	}
}

func TestRoutesNormalizeIdentityShapes(t *testing.T) {
	d, repo := newRouted(t)

	shapes := []string{
		`"` + actor + `"`,
		`{"_id":"` + actor + `","username":"alice"}`,
		`"{\"_id\":\"` + actor + `\"}"`,
		`"{ _id: new ObjectId(\"` + actor + `\"), username: 'alice' }"`,
	}
	for i, shape := range shapes {
		payload := `{"toUserId":"` + owner + `","fromUserId":` + shape + `,"data":{"postId":"` + post + `"},"occurredAt":` + string(rune('1'+i)) + `}`
		if out, err := d.Dispatch(context.Background(), KeyPostReaction, []byte(payload)); out != Ack {
			t.Fatalf("shape %d: %s (%v)", i, out, err)
		}
	}

	got, err := repo.Find(context.Background(), store.Filter{Types: []model.NotificationType{model.TypePostReaction}}, store.Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].FromUserID != actor {
		t.Fatalf("every shape must collapse to one record from %s, got %+v", actor, got)
	}
}

func TestRoutesCoverEveryKey(t *testing.T) {
	d, _ := newRouted(t)
	want := []string{
		KeyCommentAdded, KeyCommentReaction, KeyMessageReceived, KeyNotificationCreated, KeyMentioned,
		KeySourceDeleted, KeyNotificationUpdate, KeyPostCreated, KeyPostReaction, KeyUserFollowed, KeyUserLogin,
	}
	routes := d.Routes()
	if len(routes) != len(want) {
		t.Fatalf("%d routes, want %d", len(routes), len(want))
	}
	for _, r := range routes {
		if r.Key == KeyUserLogin && r.Retryable {
			t.Fatal("login must not be retried")
		}
		if r.Key != KeyUserLogin && !r.Retryable {
			t.Fatalf("%s must be retryable", r.Key)
		}
	}
}

func TestRoutesRedeliveryIsIdempotent(t *testing.T) {
	const (
		comment = "65f1c0ffee00000000000002"
		message = "65f1c0ffee00000000000003"
	)
	pair := `"toUserId":"` + owner + `","fromUserId":"` + actor + `"`

	tests := []struct {
		key     string
		payload string
		typ     model.NotificationType
	}{
		{KeyCommentAdded, `{` + pair + `,"data":{"postId":"` + post + `","commentId":"` + comment + `"}}`, model.TypeCommentAdded},
		{KeyUserFollowed, `{` + pair + `}`, model.TypeFollowedUser},
		{KeyMessageReceived, `{` + pair + `,"data":{"messageId":"` + message + `"}}`, model.TypeMessageReceived},
		{KeyMentioned, `{` + pair + `,"data":{"postId":"` + post + `","commentId":"` + comment + `"}}`, model.TypeUserMentioned},
		{KeyMentioned, `{` + pair + `,"data":{"postId":"` + post + `"}}`, model.TypeUserMentioned},
	}
	d, repo := newRouted(t)
	for _, tt := range tests {
		for i := 0; i < 2; i++ {
			if out, err := d.Dispatch(context.Background(), tt.key, []byte(tt.payload)); out != Ack {
				t.Fatalf("%s delivery %d: %s (%v)", tt.key, i, out, err)
			}
		}
	}

	want := map[model.NotificationType]int{
		model.TypeCommentAdded:    1,
		model.TypeFollowedUser:    1,
		model.TypeMessageReceived: 1,
		// One mention on the comment, one on the post itself.
		model.TypeUserMentioned: 2,
	}
	for typ, n := range want {
		got, err := repo.Find(context.Background(), store.Filter{Types: []model.NotificationType{typ}}, store.Page{})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != n {
			t.Fatalf("%s records after redelivery = %d, want %d", typ, len(got), n)
		}
	}
}
