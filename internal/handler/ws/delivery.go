package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/im-notification-service/infra/auth"
	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/domain/registry"
	wsmarshaller "github.com/webitel/im-notification-service/internal/handler/marshaller/ws"
	"github.com/webitel/im-notification-service/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	verifier  *auth.Verifier
	upgrader  websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer, verifier *auth.Verifier) *WSHandler {
	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		verifier:  verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// userID resolves the recipient: the token subject, or ?userId= when auth is disabled.
func (h *WSHandler) userID(r *http.Request) (string, int) {
	if !h.verifier.Enabled() {
		if id := r.URL.Query().Get("userId"); id != "" {
			return id, 0
		}
		return "", http.StatusBadRequest
	}
	subject, err := h.verifier.Inspect(auth.TokenFromRequest(r))
	if err != nil {
		return "", http.StatusUnauthorized
	}
	return subject, 0
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. IDENTITY before the upgrade, so failures are plain HTTP statuses
	userID, status := h.userID(r)
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	// 2. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer ws.Close()

	// 3. SUBSCRIBE: handshake and replay are already queued on the connector
	conn, err := h.deliverer.Subscribe(r.Context(), userID, registry.ConnectMetadata{
		Platform:  "ws",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.logger.Error("WS_SUBSCRIBE_FAILED", "user_id", userID, "err", err)
		return
	}
	defer h.deliverer.Unsubscribe(userID, conn.GetID())

	l := h.logger.With("user_id", userID, "conn_id", conn.GetID().String())
	l.Info("WS_OPENED")

	// [READ_PUMP] Clients send nothing meaningful; reading keeps pong handling alive and
	// detects the close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// 4. MAIN WS PUMP LOOP
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			l.Info("WS_CLOSED_BY_CLIENT")
			return
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.Info("WS_PING_FAILED", "err", err)
				return
			}
		case ev, ok := <-conn.Recv():
			if !ok {
				// [TERMINATION_SENTINEL] The hub closed this channel; say goodbye.
				bye := event.NewSystemEvent(userID, event.Disconnected, event.PriorityHigh, &model.DisconnectedPayload{
					Reason: "session_closed_by_server",
				})
				if data, err := wsmarshaller.MarshallDeliveryEvent(bye); err == nil {
					_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
					_ = ws.WriteMessage(websocket.TextMessage, data)
				}
				return
			}

			data, err := wsmarshaller.MarshallDeliveryEvent(ev)
			if err != nil {
				l.Error("WS_MARSHAL_FAILED", "event_id", ev.GetID(), "err", err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				l.Warn("WS_SEND_FAILED", "err", err)
				return
			}
		}
	}
}
