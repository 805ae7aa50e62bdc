package event

import "fmt"

type EventKind int16

const (
	Connected           EventKind = iota + 1 // [SYSTEM]
	Disconnected                             // [SYSTEM]
	NotificationCreated                      // [BUSINESS]
	NotificationUpdated                      // [BUSINESS]
	NotificationDeleted                      // [BUSINESS]
	NotificationList                         // [BUSINESS] replay on join
)

// String returns the wire name of the kind, as seen by connected clients.
func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case NotificationCreated:
		return "notification"
	case NotificationUpdated:
		return "notification:update"
	case NotificationDeleted:
		return "notification:delete"
	case NotificationList:
		return "notification:list"
	}
	return fmt.Sprintf("kind(%d)", int16(k))
}

type EventPriority int32

const (
	PriorityLow    EventPriority = 10
	PriorityNormal EventPriority = 20
	PriorityHigh   EventPriority = 30
)

// Eventer defines the contract for all data packets flowing through the Hub.
type Eventer interface {
	GetID() string
	GetKind() EventKind
	GetUserID() string
	GetPriority() EventPriority
	GetOccurredAt() int64
	GetPayload() any
	GetCached() any
	SetCached(any)
}

// Exportable defines an event that may be re-published to the message bus so that every
// instance can deliver it to its own connections.
type Exportable interface {
	GetRoutingKey() string
}

// RoomName is the broadcast group of a recipient.
func RoomName(userID string) string {
	return "user:" + userID
}
