// Package registry tracks the single live realtime connection held by each
// user. It owns no delivery logic: callers look a handle up and push to it
// after the registry lock has been released.
package registry

import (
	"context"
	"sync"

	"github.com/devcollab/notifyd/internal/logging"
	"github.com/devcollab/notifyd/internal/metrics"
	"github.com/rs/zerolog"
)

// Connection is a live bidirectional session owned by one user
type Connection interface {
	// ID uniquely identifies the session
	ID() string

	// UserID is the identity the session was opened for
	UserID() string

	// Push sends an event to the client. It must honour ctx's deadline.
	Push(ctx context.Context, event string, payload any) error

	// Close terminates the session. Calling it more than once is safe.
	Close() error
}

// Registry maps user identity to at most one live connection
type Registry struct {
	mu      sync.RWMutex
	byUser  map[string]Connection
	userFor map[string]string // connection ID -> user ID
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		byUser:  make(map[string]Connection),
		userFor: make(map[string]string),
		logger:  logging.Component("registry"),
		metrics: metrics.GetMetrics(),
	}
}

// Register records conn as the live handle for userID. An existing handle
// for the same user is replaced and closed after the lock is released.
func (r *Registry) Register(userID string, conn Connection) {
	r.mu.Lock()
	previous, existed := r.byUser[userID]
	if existed {
		delete(r.userFor, previous.ID())
	}
	r.byUser[userID] = conn
	r.userFor[conn.ID()] = userID
	size := len(r.byUser)
	r.mu.Unlock()

	r.metrics.RegistryConnections.Set(float64(size))

	if !existed || previous == conn || previous.ID() == conn.ID() {
		return
	}

	r.metrics.RegistryReplacements.Inc()
	r.logger.Debug().
		Str("user_id", userID).
		Str("previous_connection_id", previous.ID()).
		Str("connection_id", conn.ID()).
		Msg("Superseded live connection")

	if err := previous.Close(); err != nil {
		r.logger.Debug().Err(err).Str("connection_id", previous.ID()).Msg("Error closing superseded connection")
	}
}

// Unregister removes the entry for userID. Absent users are a no-op.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	if conn, ok := r.byUser[userID]; ok {
		delete(r.userFor, conn.ID())
		delete(r.byUser, userID)
	}
	size := len(r.byUser)
	r.mu.Unlock()

	r.metrics.RegistryConnections.Set(float64(size))
}

// UnregisterConnection removes the entry owning connID, but only while
// connID is still the live handle for that user. A late close callback from
// a superseded session leaves the replacement in place. It reports whether
// an entry was removed.
func (r *Registry) UnregisterConnection(connID string) bool {
	r.mu.Lock()
	userID, ok := r.userFor[connID]
	if ok {
		delete(r.userFor, connID)
		if conn, live := r.byUser[userID]; live && conn.ID() == connID {
			delete(r.byUser, userID)
		} else {
			ok = false
		}
	}
	size := len(r.byUser)
	r.mu.Unlock()

	r.metrics.RegistryConnections.Set(float64(size))
	return ok
}

// Lookup returns the live handle for userID, if any
func (r *Registry) Lookup(userID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byUser[userID]
	return conn, ok
}

// IsConnected reports whether userID holds a live handle
func (r *Registry) IsConnected(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// ConnectedCount returns the number of users with a live handle
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser)
}

// FindUserByConnectionID resolves the owner of a live connection id
func (r *Registry) FindUserByConnectionID(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.userFor[connID]
	return userID, ok
}

// Connections returns a snapshot of all live handles
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connection, 0, len(r.byUser))
	for _, conn := range r.byUser {
		conns = append(conns, conn)
	}
	return conns
}

// CloseAll removes and closes every live handle
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	conns := make([]Connection, 0, len(r.byUser))
	for _, conn := range r.byUser {
		conns = append(conns, conn)
	}
	r.byUser = make(map[string]Connection)
	r.userFor = make(map[string]string)
	r.mu.Unlock()

	r.metrics.RegistryConnections.Set(0)

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			r.logger.Debug().Err(err).Str("connection_id", conn.ID()).Msg("Error closing connection")
		}
	}
	return len(conns)
}
