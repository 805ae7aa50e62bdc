package amqp

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-notification-service/internal/adapter/pubsub"
	"github.com/webitel/im-notification-service/internal/domain/event"
)

const PushListenerName = "PUSH_FAN_IN"

// RegisterPushListener subscribes this instance's exclusive queue to every push event.
func (h *MessageHandler) RegisterPushListener(router *message.Router, sp *pubsub.SubscriberProvider) error {
	sub, err := sp.BuildExclusive(h.cfg.Service.ID, h.cfg.Broker.AMQP.PushExchange)
	if err != nil {
		return fmt.Errorf("push listener: %w", err)
	}
	router.AddConsumerHandler(PushListenerName, pubsub.PushRoutingKey, sub, h.OnPush).AddMiddleware(
		TraceIDMiddleware,
		LoggingMiddleware(h.logger, PushListenerName),
	)
	h.handlers++
	return nil
}

// [ON_PUSH]
// Delivers a push event published by any instance to the channels held here.
func (h *MessageHandler) OnPush(msg *message.Message) error {
	ev, err := event.Decode(msg.Payload)
	if err != nil {
		h.logger.Error("DECODE_FAILED", "err", err, "msg_id", msg.UUID)
		return nil // ACK: Poison Pill protection.
	}

	// [LOCALITY_FILTER]
	// Process only if the target user is connected to THIS node.
	if !h.hub.IsConnected(ev.GetUserID()) {
		return nil
	}

	h.hub.Push(msg.Context(), ev)
	return nil
}
