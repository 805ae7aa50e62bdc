package pubsub

import (
	"context"
	"log/slog"

	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/registry"
)

// ClusterPusher publishes push events to the push exchange so that the instance holding
// the recipient's channels delivers them. Events that cannot leave the process go to the
// local hub.
type ClusterPusher struct {
	dispatcher EventDispatcher
	local      registry.Hubber
	logger     *slog.Logger
}

func NewClusterPusher(d EventDispatcher, local registry.Hubber, logger *slog.Logger) *ClusterPusher {
	return &ClusterPusher{dispatcher: d, local: local, logger: logger}
}

func (p *ClusterPusher) Push(ctx context.Context, ev event.Eventer) {
	if _, ok := ev.(event.Exportable); !ok {
		p.local.Push(ctx, ev)
		return
	}
	if err := p.dispatcher.Publish(ctx, ev); err != nil {
		// [DEGRADED] Channels on this instance still get the event.
		p.logger.WarnContext(ctx, "PUSH_PUBLISH_FAILED", "err", err, "user_id", ev.GetUserID())
		p.local.Push(ctx, ev)
	}
}
