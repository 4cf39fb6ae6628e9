// Package notifier serves realtime client sessions over websocket and
// server-sent events and keeps them alive.
package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/devcollab/notifyd/internal/logging"
	"github.com/devcollab/notifyd/internal/metrics"
	"github.com/devcollab/notifyd/internal/registry"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config contains notifier configuration
type Config struct {
	// Maximum time without inbound traffic before a websocket is dropped
	MaxIdleTime time.Duration

	// Interval between keepalives
	HeartbeatInterval time.Duration

	// Deadline for a single socket write
	WriteTimeout time.Duration

	// Outbound queue length per session
	SendBufferSize int

	// Maximum concurrent sessions, 0 for unlimited
	MaxConnections int

	// Maximum inbound message size in bytes
	MaxMessageSize int64

	// Origins allowed to open a websocket; empty allows all
	AllowedOrigins []string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		MaxIdleTime:       60 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		WriteTimeout:      5 * time.Second,
		SendBufferSize:    64,
		MaxConnections:    0,
		MaxMessageSize:    4096,
	}
}

// Notifier handles realtime sessions
type Notifier struct {
	config     Config
	registry   *registry.Registry
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewNotifier creates a new session manager
func NewNotifier(config Config, reg *registry.Registry, dispatcher Dispatcher) *Notifier {
	defaults := DefaultConfig()
	if config.MaxIdleTime <= 0 {
		config.MaxIdleTime = defaults.MaxIdleTime
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = defaults.SendBufferSize
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}

	n := &Notifier{
		config:     config,
		registry:   reg,
		dispatcher: dispatcher,
		logger:     logging.Component("notifier"),
		metrics:    metrics.GetMetrics(),
	}
	n.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     n.checkOrigin,
	}
	return n
}

// Start runs the keepalive and idle reaping loops until ctx is done
func (n *Notifier) Start(ctx context.Context) error {
	n.logger.Info().
		Dur("heartbeat_interval", n.config.HeartbeatInterval).
		Dur("max_idle_time", n.config.MaxIdleTime).
		Msg("Starting notifier")

	go n.cleanupIdleClients(ctx)
	go n.sendHeartbeats(ctx)

	<-ctx.Done()
	return nil
}

// CanAccept reports whether a new session for userID fits under the
// connection limit. A user replacing their own session always fits.
// Rejections are counted.
func (n *Notifier) CanAccept(userID string) bool {
	if n.config.MaxConnections <= 0 || n.registry.IsConnected(userID) {
		return true
	}
	if n.registry.ConnectedCount() < n.config.MaxConnections {
		return true
	}

	n.metrics.TransportRejectedTotal.WithLabelValues("max_connections").Inc()
	n.logger.Warn().
		Str("user_id", userID).
		Int("max_connections", n.config.MaxConnections).
		Msg("Rejected session over connection limit")
	return false
}

// Accept registers conn as the user's live session, superseding any older
// one, then greets the client and pushes the unread backlog
func (n *Notifier) Accept(ctx context.Context, conn *connection) error {
	n.registry.Register(conn.UserID(), conn)
	n.metrics.TransportConnectionsTotal.WithLabelValues(conn.protocol).Inc()

	n.logger.Debug().
		Str("user_id", conn.UserID()).
		Str("connection_id", conn.ID()).
		Str("protocol", conn.protocol).
		Msg("Client connected")

	greetCtx, cancel := context.WithTimeout(ctx, n.config.WriteTimeout)
	err := conn.Push(greetCtx, eventConnected, map[string]string{
		"connectionId": conn.ID(),
		"userId":       conn.UserID(),
	})
	cancel()
	if err != nil {
		n.Disconnect(conn)
		return fmt.Errorf("greeting %s: %w", conn.UserID(), err)
	}

	if count, err := n.dispatcher.Backfill(ctx, conn); err != nil {
		n.logger.Warn().Err(err).Str("user_id", conn.UserID()).Msg("Unread backfill failed")
	} else {
		n.logger.Debug().Str("user_id", conn.UserID()).Int("unread", count).Msg("Unread backfill sent")
	}
	return nil
}

// Disconnect unregisters conn if it is still the user's live session and
// closes it
func (n *Notifier) Disconnect(conn *connection) {
	removed := n.registry.UnregisterConnection(conn.ID())
	if err := conn.Close(); err != nil {
		n.logger.Debug().Err(err).Str("connection_id", conn.ID()).Msg("Error closing connection")
	}
	if removed {
		n.logger.Debug().
			Str("user_id", conn.UserID()).
			Str("connection_id", conn.ID()).
			Msg("Client disconnected")
	}
}

// ActiveConnections returns the number of live sessions
func (n *Notifier) ActiveConnections() int {
	return n.registry.ConnectedCount()
}

func (n *Notifier) checkOrigin(r *http.Request) bool {
	if len(n.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range n.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// cleanupIdleClients periodically removes idle clients
func (n *Notifier) cleanupIdleClients(ctx context.Context) {
	ticker := time.NewTicker(n.config.MaxIdleTime / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.performClientCleanup(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// performClientCleanup removes websocket sessions that have been idle for
// too long. SSE has no inbound channel and is only dropped by the client.
func (n *Notifier) performClientCleanup(now time.Time) int {
	removed := 0
	for _, c := range n.registry.Connections() {
		conn, ok := c.(*connection)
		if !ok || conn.protocol == ProtocolSSE {
			continue
		}
		if conn.idleFor(now) > n.config.MaxIdleTime {
			n.Disconnect(conn)
			removed++
			n.logger.Debug().Str("connection_id", conn.ID()).Msg("Removed idle client")
		}
	}
	return removed
}

// sendHeartbeats periodically queues keepalives for every session
func (n *Notifier) sendHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(n.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.heartbeatAll()
		case <-ctx.Done():
			return
		}
	}
}

func (n *Notifier) heartbeatAll() int {
	sent := 0
	for _, c := range n.registry.Connections() {
		if conn, ok := c.(*connection); ok && conn.heartbeat() {
			sent++
		}
	}
	return sent
}

// Shutdown closes every live session
func (n *Notifier) Shutdown(ctx context.Context) error {
	n.logger.Info().Msg("Shutting down notifier")

	closed := n.registry.CloseAll()

	n.logger.Info().Int("closed_clients", closed).Msg("All client connections closed")
	return nil
}
