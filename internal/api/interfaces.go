package api

import (
	"context"

	"github.com/devcollab/notifyd/internal/notification"
	"github.com/gofiber/websocket/v2"
)

// Dispatcher defines the notification operations the API exposes.
// Method signatures match dispatcher.Dispatcher.
type Dispatcher interface {
	Send(ctx context.Context, req notification.Request) (*notification.Notification, error)
	ListUnread(ctx context.Context, userID string) ([]*notification.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id string) (*notification.Notification, error)
	MarkReadAs(ctx context.Context, userID, id string) (*notification.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int, error)
	IsConnected(userID string) bool
}

// Transport serves realtime sessions over fiber
type Transport interface {
	FiberWebSocketHandler() func(*websocket.Conn)
	CanAccept(userID string) bool
	ActiveConnections() int
}

// Authenticator resolves caller identity. Method signatures match
// auth.Authenticator.
type Authenticator interface {
	Enabled() bool
	Resolve(authorization, queryToken, requestedUser string) (string, error)
	CheckProducer(token string) error
}
