package amqp

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-notification-service/internal/handler/ingress"
)

// [INFRASTRUCTURE_BRIDGE]
// Bind connects one queue to the dispatcher. Only a Retry outcome is returned as an error:
// it goes through the retry middleware and, when retries run out, to the poison queue.
// Ack and Drop both acknowledge.
func Bind(h *MessageHandler, route string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		out, err := h.dispatcher.Dispatch(msg.Context(), route, msg.Payload)
		if out == ingress.Retry {
			return err // NACK: transient failure on a retryable route.
		}
		return nil
	}
}
