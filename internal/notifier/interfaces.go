package notifier

import (
	"context"

	"github.com/devcollab/notifyd/internal/notification"
	"github.com/devcollab/notifyd/internal/registry"
)

// Dispatcher defines the operations the Notifier needs from the dispatcher
type Dispatcher interface {
	// Backfill pushes the unread backlog to a freshly registered connection
	Backfill(ctx context.Context, conn registry.Connection) (int, error)

	// MarkReadAs acknowledges a notification for the connected user
	MarkReadAs(ctx context.Context, userID, id string) (*notification.Notification, error)
}
