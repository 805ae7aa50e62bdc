package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-notification-service/config"
	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/domain/registry"
)

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (Websocket)
type Deliverer interface {
	Subscribe(ctx context.Context, userID string, meta registry.ConnectMetadata) (registry.Connector, error)
	Unsubscribe(userID string, connID uuid.UUID)
}

type DeliveryService struct {
	hub         registry.Hubber
	inbox       *Inbox
	logger      *slog.Logger
	bufferSize  int
	replayLimit int64
	sendTimeout time.Duration
}

func NewDeliveryService(hub registry.Hubber, inbox *Inbox, cfg *config.Config, logger *slog.Logger) *DeliveryService {
	return &DeliveryService{
		hub:         hub,
		inbox:       inbox,
		logger:      logger,
		bufferSize:  cfg.Delivery.BufferSize,
		replayLimit: cfg.Delivery.ReplayLimit,
		sendTimeout: cfg.Delivery.SendTimeout,
	}
}

// [SUBSCRIBE] HANDLES CONNECTION LIFECYCLE INITIATION
// The new channel joins the recipient's room, gets the handshake and then one replay of the
// current list. Neither goes to the recipient's other channels.
func (s *DeliveryService) Subscribe(ctx context.Context, userID string, meta registry.ConnectMetadata) (registry.Connector, error) {
	conn := registry.NewConnector(ctx, userID, s.bufferSize, meta)
	s.hub.Register(conn)

	conn.Send(event.NewSystemEvent(userID, event.Connected, event.PriorityHigh, &model.ConnectedPayload{
		Ok:            true,
		ConnectionID:  conn.GetID().String(),
		ServerVersion: model.ServerVersion,
		Room:          event.RoomName(userID),
	}), s.sendTimeout)

	views, err := s.inbox.List(ctx, userID, ListQuery{Limit: s.replayLimit})
	if err != nil {
		// [RESILIENCE] The client still gets live pushes and can refetch over HTTP.
		s.logger.WarnContext(ctx, "REPLAY_FAILED", "user_id", userID, "err", err)
		return conn, nil
	}
	conn.Send(event.NewList(userID, views), s.sendTimeout)
	return conn, nil
}

// [UNSUBSCRIBE] TRIGGERS CLEANUP
func (s *DeliveryService) Unsubscribe(userID string, connID uuid.UUID) {
	s.hub.Unregister(userID, connID)
}
