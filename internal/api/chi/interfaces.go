package chi

import (
	"context"
	"net/http"

	"github.com/devcollab/notifyd/internal/notification"
)

// Dispatcher defines the notification operations the Chi API exposes.
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

// Transport serves realtime sessions. Method signatures match
// notifier.Notifier.
type Transport interface {
	ServeWebSocket(w http.ResponseWriter, r *http.Request, userID string)
	ServeSSE(w http.ResponseWriter, r *http.Request, userID string)
	ActiveConnections() int
}

// Authenticator resolves caller identity. Method signatures match
// auth.Authenticator.
type Authenticator interface {
	Enabled() bool
	ResolveRequest(r *http.Request) (string, error)
	Resolve(authorization, queryToken, requestedUser string) (string, error)
	CheckProducer(token string) error
}
