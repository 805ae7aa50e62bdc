package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-notification-service/internal/domain/event"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (REGISTRY/HUB)
// A Connector is one live channel of a recipient (one browser tab, one device).
type Connector interface {
	GetID() uuid.UUID
	GetUserID() string
	Send(ev event.Eventer, timeout time.Duration) bool // Thread-safe send with backpressure handling
	Recv() <-chan event.Eventer
	Done() <-chan struct{}
	Dropped() uint64
	Close() // Terminate connection and release resources
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	Platform  string
	RemoteIP  string
	UserAgent string
}

type connect struct {
	id           uuid.UUID
	userID       string
	metadata     ConnectMetadata
	createdAt    time.Time
	ctx          context.Context
	cancelFn     context.CancelFunc
	sendCh       chan event.Eventer
	closeOnce    sync.Once
	droppedCount atomic.Uint64
}

// NewConnector creates a channel bound to ctx: cancelling ctx closes the connector.
func NewConnector(ctx context.Context, userID string, bufferSize int, meta ...ConnectMetadata) Connector {
	childCtx, cancel := context.WithCancel(ctx)
	c := &connect{
		id:        uuid.New(),
		userID:    userID,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		sendCh:    make(chan event.Eventer, bufferSize),
	}
	if len(meta) > 0 {
		c.metadata = meta[0]
	}
	return c
}

func (c *connect) GetID() uuid.UUID           { return c.id }
func (c *connect) GetUserID() string          { return c.userID }
func (c *connect) Recv() <-chan event.Eventer { return c.sendCh }
func (c *connect) Done() <-chan struct{}      { return c.ctx.Done() }
func (c *connect) Dropped() uint64            { return c.droppedCount.Load() }

// Send enqueues ev, waiting up to timeout for buffer space.
func (c *connect) Send(ev event.Eventer, timeout time.Duration) bool {
	// [FAST_PATH]
	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- ev:
		return true
	default:
	}

	// Low priority traffic never waits on a saturated consumer.
	if ev.GetPriority() <= event.PriorityLow {
		c.droppedCount.Add(1)
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- ev:
		return true
	case <-timer.C:
		// [BACKPRESSURE_THRESHOLD] persistent slow consumer: shed the event.
		c.droppedCount.Add(1)
		return false
	}
}

// Close terminates the session. The send channel is left open: readers stop on Done().
func (c *connect) Close() {
	c.closeOnce.Do(func() {
		c.cancelFn()
	})
}
