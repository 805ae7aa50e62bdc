package wsmarshaller

import (
	"encoding/json"

	"github.com/webitel/im-notification-service/internal/domain/event"
)

// WSEvent is the frame every connected client receives.
type WSEvent struct {
	Event   string `json:"event"` // e.g. "notification", "notification:update", "connected"
	ID      string `json:"id"`
	SentAt  int64  `json:"sent_at"`
	Payload any    `json:"payload"`
}

// MarshallDeliveryEvent prepares data for WebSocket transmission.
// The bytes are cached on the event: a recipient with several channels pays for one encoding.
func MarshallDeliveryEvent(ev event.Eventer) ([]byte, error) {
	if b, ok := ev.GetCached().([]byte); ok {
		return b, nil
	}

	b, err := json.Marshal(&WSEvent{
		Event:   ev.GetKind().String(),
		ID:      ev.GetID(),
		SentAt:  ev.GetOccurredAt(),
		Payload: ev.GetPayload(),
	})
	if err != nil {
		return nil, err
	}
	ev.SetCached(b)
	return b, nil
}
