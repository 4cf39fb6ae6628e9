// Package registrytest provides an in-memory registry.Connection for tests.
package registrytest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMockPushFailed is returned by Push when the connection is set to fail
var ErrMockPushFailed = errors.New("mock push failed")

// Pushed records a single Push call
type Pushed struct {
	Event   string
	Payload any
}

// Conn is a mock connection that records pushes
type Conn struct {
	mu       sync.Mutex
	id       string
	userID   string
	pushed   []Pushed
	closed   int
	failPush bool
	delay    time.Duration
}

// NewConn creates a mock connection for userID
func NewConn(id, userID string) *Conn {
	return &Conn{id: id, userID: userID}
}

// ID implements registry.Connection
func (c *Conn) ID() string { return c.id }

// UserID implements registry.Connection
func (c *Conn) UserID() string { return c.userID }

// Push implements registry.Connection
func (c *Conn) Push(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	delay := c.delay
	fail := c.failPush
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return ErrMockPushFailed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushed = append(c.pushed, Pushed{Event: event, Payload: payload})
	return nil
}

// Close implements registry.Connection
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// SetFailPush configures the mock to fail pushes
func (c *Conn) SetFailPush(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPush = fail
}

// SetDelay makes every push wait before completing
func (c *Conn) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// Pushes returns a copy of the recorded pushes
func (c *Conn) Pushes() []Pushed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Pushed(nil), c.pushed...)
}

// Events returns the recorded event names in push order
func (c *Conn) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]string, 0, len(c.pushed))
	for _, p := range c.pushed {
		events = append(events, p.Event)
	}
	return events
}

// CloseCount returns how many times Close was called
func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
