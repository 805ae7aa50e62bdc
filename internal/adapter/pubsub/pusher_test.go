package pubsub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/domain/registry"
)

type recordingHub struct {
	registry.Hubber
	pushed []event.Eventer
}

func (h *recordingHub) Push(_ context.Context, ev event.Eventer) { h.pushed = append(h.pushed, ev) }

type failingPublisher struct{}

func (failingPublisher) Publish(string, ...*message.Message) error { return errors.New("broker down") }
func (failingPublisher) Close() error                              { return nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestClusterPusherPublishesUnderRoutingKey(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8}, watermill.NopLogger{})
	defer pubSub.Close()

	ev := event.NewCreated(&model.NotificationView{Notification: &model.Notification{ToUserID: "u1", Type: model.TypeLogin}})
	msgs, err := pubSub.Subscribe(context.Background(), ev.GetRoutingKey())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	hub := &recordingHub{}
	p := NewClusterPusher(NewEventDispatcher(pubSub), hub, discard())
	p.Push(context.Background(), ev)

	select {
	case msg := <-msgs:
		msg.Ack()
		got, err := event.Decode(msg.Payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.UserID != "u1" || got.Kind != event.NotificationCreated {
			t.Fatalf("unexpected event %+v", got)
		}
		if msg.Metadata.Get("user_id") != "u1" {
			t.Fatalf("user_id metadata missing")
		}
	case <-time.After(time.Second):
		t.Fatal("event was not published")
	}
	if len(hub.pushed) != 0 {
		t.Fatalf("published event must not also be pushed locally")
	}
}

func TestClusterPusherFallsBackToLocalHub(t *testing.T) {
	hub := &recordingHub{}
	p := NewClusterPusher(NewEventDispatcher(failingPublisher{}), hub, discard())

	p.Push(context.Background(), event.NewDeleted("u1", &model.DeletedPayload{Type: "post"}))
	p.Push(context.Background(), event.NewSystemEvent("u1", event.Connected, event.PriorityHigh, nil))

	if len(hub.pushed) != 2 {
		t.Fatalf("expected 2 local pushes, got %d", len(hub.pushed))
	}
}
