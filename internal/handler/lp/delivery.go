package lp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/registry"
	lpmarshaller "github.com/webitel/im-notification-service/internal/handler/marshaller/lp"
	"github.com/webitel/im-notification-service/internal/service"
)

const (
	DefaultPollTimeout = 30 * time.Second
	maxBatch           = 16
)

type LPHandler struct {
	deliverer service.Deliverer
	timeout   time.Duration
}

func NewLPHandler(deliverer service.Deliverer) *LPHandler {
	return &LPHandler{
		deliverer: deliverer,
		timeout:   DefaultPollTimeout,
	}
}

// Poll holds the request until a live event arrives for the recipient or the timeout fires.
// The handshake and replay of a fresh subscription are skipped: pollers read the current
// list from GET /notifications/{id}.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	// Temporary subscription, alive only for the duration of this request.
	conn, err := h.deliverer.Subscribe(r.Context(), userID, registry.ConnectMetadata{
		Platform:  "lp",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer h.deliverer.Unsubscribe(userID, conn.GetID())

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	var events []event.Eventer
wait:
	for {
		select {
		case <-r.Context().Done():
			return
		case <-timer.C:
			w.WriteHeader(http.StatusNoContent)
			return
		case ev, ok := <-conn.Recv():
			if !ok {
				return
			}
			if isHandshake(ev) {
				continue
			}
			events = append(events, ev)
			break wait
		}
	}

	// Drain what is already buffered to batch the response.
drain:
	for len(events) < maxBatch {
		select {
		case ev, ok := <-conn.Recv():
			if !ok {
				break drain
			}
			if !isHandshake(ev) {
				events = append(events, ev)
			}
		default:
			break drain
		}
	}

	data, err := lpmarshaller.MarshallEvents(events)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func isHandshake(ev event.Eventer) bool {
	k := ev.GetKind()
	return k == event.Connected || k == event.NotificationList
}
