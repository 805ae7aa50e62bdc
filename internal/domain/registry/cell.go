package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-notification-service/internal/domain/event"
)

// Celler defines the internal API for recipient-scoped delivery units.
type Celler interface {
	Push(ev event.Eventer) bool
	Attach(conn Connector) (attached bool, alive bool)
	Detach(connID uuid.UUID) (empty bool)
	Sessions() int
	IsIdle(timeout time.Duration) bool
	Stop()
}

// Cell is the broadcast group ("room") of one recipient.
//
// Events pushed to a cell are delivered by a single goroutine, so all channels of the
// recipient observe them in push order.
type Cell struct {
	userID string

	// [MAILBOX]
	// Decouples the ingress from slow consumers.
	mailbox chan event.Eventer

	sessions map[uuid.UUID]Connector
	mu       sync.RWMutex

	sendTimeout    time.Duration
	stopped        bool
	stopOnce       sync.Once
	doneCh         chan struct{}
	lastActivityAt time.Time
}

func NewCell(userID string, mailboxSize int, sendTimeout time.Duration) *Cell {
	c := &Cell{
		userID:         userID,
		mailbox:        make(chan event.Eventer, mailboxSize),
		sessions:       make(map[uuid.UUID]Connector),
		sendTimeout:    sendTimeout,
		doneCh:         make(chan struct{}),
		lastActivityAt: time.Now(),
	}
	go c.loop()
	return c
}

// IsIdle returns true if the cell has no sessions and saw no traffic for timeout.
func (c *Cell) IsIdle(timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions) == 0 && time.Since(c.lastActivityAt) > timeout
}

func (c *Cell) Sessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *Cell) Push(ev event.Eventer) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	c.lastActivityAt = time.Now()
	c.mu.Unlock()

	select {
	case c.mailbox <- ev:
		return true
	default:
		return false
	}
}

// Attach adds conn to the group. Attaching the same connection twice has no effect.
// alive is false when the cell was already stopped and the caller must retry on a new cell.
func (c *Cell) Attach(conn Connector) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false, false
	}
	c.lastActivityAt = time.Now()
	if _, ok := c.sessions[conn.GetID()]; ok {
		return false, true
	}
	c.sessions[conn.GetID()] = conn
	return true, true
}

// Detach removes a session. When the last one leaves, the cell stops accepting work and
// reports empty so the Hub can drop it.
func (c *Cell) Detach(connID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, connID)
	c.lastActivityAt = time.Now()
	if len(c.sessions) == 0 {
		c.stopped = true
		return true
	}
	return false
}

func (c *Cell) loop() {
	for {
		select {
		case <-c.doneCh:
			return
		case ev := <-c.mailbox:
			c.deliver(ev)
		}
	}
}

func (c *Cell) deliver(ev event.Eventer) {
	c.mu.RLock()
	targets := make([]Connector, 0, len(c.sessions))
	for _, conn := range c.sessions {
		targets = append(targets, conn)
	}
	c.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(ev, c.sendTimeout)
	}
}

func (c *Cell) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		close(c.doneCh)
	})
}
