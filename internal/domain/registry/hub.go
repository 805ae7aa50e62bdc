package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-notification-service/internal/domain/event"
	"github.com/webitel/im-notification-service/internal/domain/model"
)

// Hubber defines the gateway for recipient channel management and event routing.
type Hubber interface {
	Push(ctx context.Context, ev event.Eventer)
	Broadcast(ev event.Eventer) bool
	Register(conn Connector) bool
	Unregister(userID string, connID uuid.UUID)
	IsConnected(userID string) bool
	Stats() model.HubStats
	Shutdown()
}

type hubConfig struct {
	evictionInterval time.Duration
	idleTimeout      time.Duration
	mailboxSize      int
	sendTimeout      time.Duration
}

// Hub implements a [SCALABLE_REGISTRY] using Virtual Cell pattern.
type Hub struct {
	// cells stores Map[string]*Cell. Optimized for [READ_HEAVY] workloads.
	cells  sync.Map
	config hubConfig
	logger *slog.Logger

	startedAt       time.Time
	pushed          atomic.Uint64
	droppedOffline  atomic.Uint64
	droppedOverflow atomic.Uint64

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		config: hubConfig{
			evictionInterval: 15 * time.Minute,
			idleTimeout:      30 * time.Minute,
			mailboxSize:      2048,
			sendTimeout:      500 * time.Millisecond,
		},
		logger:    slog.Default(),
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.config.evictionInterval > 0 {
		go h.janitor()
	}
	return h
}

func (h *Hub) IsConnected(userID string) bool {
	if cell, ok := h.load(userID); ok {
		return cell.Sessions() > 0
	}
	return false
}

// Broadcast routes event to the specific [USER_CELL]. Returns false on miss or overflow.
func (h *Hub) Broadcast(ev event.Eventer) bool {
	cell, ok := h.load(ev.GetUserID())
	if !ok {
		h.droppedOffline.Add(1)
		return false
	}
	if !cell.Push(ev) {
		h.droppedOverflow.Add(1)
		return false
	}
	h.pushed.Add(1)
	return true
}

// Push delivers ev to every channel of its recipient. A recipient without channels is a
// logged no-op: persisted state is fetched on the next join.
func (h *Hub) Push(ctx context.Context, ev event.Eventer) {
	if h.Broadcast(ev) {
		return
	}
	h.logger.DebugContext(ctx, "PUSH_SKIPPED",
		"user_id", ev.GetUserID(),
		"event", ev.GetKind().String(),
		"online", h.IsConnected(ev.GetUserID()),
	)
}

// Register attaches a transport to the recipient's cell, creating it on first use.
// Returns false when the connection was already registered.
func (h *Hub) Register(conn Connector) bool {
	uID := conn.GetUserID()
	for {
		cell, ok := h.load(uID)
		if !ok {
			// [LAZY_INIT] Create cell only when first connection arrives.
			fresh := NewCell(uID, h.config.mailboxSize, h.config.sendTimeout)
			val, loaded := h.cells.LoadOrStore(uID, fresh)
			if loaded {
				fresh.Stop()
			}
			cell = val.(*Cell)
		}

		attached, alive := cell.Attach(conn)
		if alive {
			return attached
		}
		// Lost the race with the last Unregister of a dying cell.
		h.cells.CompareAndDelete(uID, cell)
	}
}

// Unregister performs [GRACEFUL_RECLAMATION] of resources when sessions end.
func (h *Hub) Unregister(userID string, connID uuid.UUID) {
	cell, ok := h.load(userID)
	if !ok {
		return
	}
	// If no sessions left, purge the cell from memory.
	if cell.Detach(connID) {
		cell.Stop()
		h.cells.CompareAndDelete(userID, cell)
	}
}

func (h *Hub) Stats() model.HubStats {
	var users, conns int
	h.cells.Range(func(_, val any) bool {
		if n := val.(*Cell).Sessions(); n > 0 {
			users++
			conns += n
		}
		return true
	})

	return model.HubStats{
		TotalUsers:       users,
		TotalConnections: conns,
		Pushed:           h.pushed.Load(),
		DroppedOffline:   h.droppedOffline.Load(),
		DroppedOverflow:  h.droppedOverflow.Load(),
		Uptime:           time.Since(h.startedAt),
	}
}

// Shutdown stops the janitor and every cell actor.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.cells.Range(func(key, val any) bool {
			val.(*Cell).Stop()
			h.cells.Delete(key)
			return true
		})
	})
}

// janitor reclaims cells left without sessions for longer than the idle timeout.
func (h *Hub) janitor() {
	ticker := time.NewTicker(h.config.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.evictIdle()
		}
	}
}

func (h *Hub) evictIdle() int {
	evicted := 0
	h.cells.Range(func(key, val any) bool {
		cell := val.(*Cell)
		if cell.IsIdle(h.config.idleTimeout) {
			cell.Stop()
			if h.cells.CompareAndDelete(key, cell) {
				evicted++
			}
		}
		return true
	})
	if evicted > 0 {
		h.logger.Debug("HUB_CELLS_EVICTED", "count", evicted)
	}
	return evicted
}

func (h *Hub) load(userID string) (*Cell, bool) {
	val, ok := h.cells.Load(userID)
	if !ok {
		return nil, false
	}
	return val.(*Cell), true
}
