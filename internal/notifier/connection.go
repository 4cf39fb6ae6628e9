package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devcollab/notifyd/internal/registry"
	"github.com/google/uuid"
)

var (
	// ErrConnectionClosed is returned when pushing to a closed connection
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendQueueFull is returned when the outbound queue stays full until
	// the push deadline
	ErrSendQueueFull = errors.New("send queue full")
)

// Ensure connection implements registry.Connection
var _ registry.Connection = (*connection)(nil)

// Transport protocols
const (
	ProtocolWebSocket      = "websocket"
	ProtocolFiberWebSocket = "fiber-websocket"
	ProtocolSSE            = "sse"
)

// Event names that only exist on the wire
const (
	eventConnected = "connected"
	eventPong      = "pong"
	eventError     = "error"
)

type outboundKind uint8

const (
	kindEvent outboundKind = iota
	kindHeartbeat
)

// outbound is one queued write
type outbound struct {
	kind  outboundKind
	event string
	data  json.RawMessage
}

// Frame is the JSON envelope written to websocket clients
type Frame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// connection is a live client session. Pushes are queued and drained by a
// single writer owned by the transport.
type connection struct {
	id         string
	userID     string
	protocol   string
	queue      chan outbound
	done       chan struct{}
	closeOnce  sync.Once
	closeFn    func() error
	lastActive atomic.Int64
}

func newConnection(userID, protocol string, bufferSize int, closeFn func() error) *connection {
	c := &connection{
		id:       uuid.NewString(),
		userID:   userID,
		protocol: protocol,
		queue:    make(chan outbound, bufferSize),
		done:     make(chan struct{}),
		closeFn:  closeFn,
	}
	c.touch()
	return c
}

// ID implements registry.Connection
func (c *connection) ID() string { return c.id }

// UserID implements registry.Connection
func (c *connection) UserID() string { return c.userID }

// Protocol returns the transport the connection was opened over
func (c *connection) Protocol() string { return c.protocol }

// Push queues an event. It waits for queue space until ctx is done.
func (c *connection) Push(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return c.enqueue(ctx, outbound{kind: kindEvent, event: event, data: data})
}

// heartbeat queues a keepalive without waiting
func (c *connection) heartbeat() bool {
	select {
	case <-c.done:
		return false
	case c.queue <- outbound{kind: kindHeartbeat}:
		return true
	default:
		return false
	}
}

func (c *connection) enqueue(ctx context.Context, item outbound) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.queue <- item:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrSendQueueFull, ctx.Err())
	}
}

// Close implements registry.Connection. It is safe to call repeatedly.
func (c *connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.closeFn != nil {
			err = c.closeFn()
		}
	})
	return err
}

// Done is closed once the connection is closed
func (c *connection) Done() <-chan struct{} {
	return c.done
}

func (c *connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *connection) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActive.Load()))
}
