package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devcollab/notifyd/internal/metrics"
	"github.com/devcollab/notifyd/internal/notification"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Store defines the common interface for notification persistence
type Store interface {
	// Start runs background maintenance and blocks until ctx is done
	Start(ctx context.Context) error

	// Shutdown releases the underlying resources
	Shutdown(ctx context.Context) error

	// Create persists a notification, assigning ID and CreatedAt when unset
	Create(ctx context.Context, n *notification.Notification) (*notification.Notification, error)

	// FindByID returns notification.ErrNotFound for unknown ids
	FindByID(ctx context.Context, id string) (*notification.Notification, error)

	// FindUnreadByUser returns the user's unread notifications, newest first
	FindUnreadByUser(ctx context.Context, userID string) ([]*notification.Notification, error)

	// CountUnread returns the number of unread notifications for a user
	CountUnread(ctx context.Context, userID string) (int, error)

	// MarkRead sets ReadAt when it is not already set. The boolean reports
	// whether the record changed.
	MarkRead(ctx context.Context, id string, at time.Time) (*notification.Notification, bool, error)

	// MarkAllRead marks every unread notification of a user and returns the
	// ids that changed
	MarkAllRead(ctx context.Context, userID string, at time.Time) ([]string, error)
}

// Store types
const (
	TypeMemory = "memory"
	TypeBadger = "badger"
	TypeSQLite = "sqlite"
)

// Config contains storage configuration
type Config struct {
	// Backend type: memory, badger or sqlite
	Type string

	// Base directory for data files
	DataDir string

	// Cache settings
	CacheEnabled    bool
	CacheSize       int
	CacheExpiration time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Type:            TypeBadger,
		DataDir:         "./data",
		CacheEnabled:    true,
		CacheSize:       10000,
		CacheExpiration: 30 * time.Second,
	}
}

// CheckRecord rejects records that cannot be indexed by recipient
func CheckRecord(n *notification.Notification) error {
	if n == nil || n.RecipientID == "" {
		return fmt.Errorf("%w: recipient is required", notification.ErrValidation)
	}
	return nil
}

// Prepare returns a copy of n ready to be written: a fresh id when none is
// set, a UTC creation time, a non-nil payload and the default channel set.
func Prepare(n *notification.Notification, now time.Time) *notification.Notification {
	out := n.Clone()
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.CreatedAt = out.CreatedAt.UTC()
	if out.Payload == nil {
		out.Payload = map[string]any{}
	}
	if len(out.Channels) == 0 {
		out.Channels = notification.DefaultChannels()
	}
	return out
}

// StartTimer starts a duration observation for op
func StartTimer(op string) *prometheus.Timer {
	return prometheus.NewTimer(metrics.GetMetrics().StorageOperationDuration.WithLabelValues(op))
}

// RecordOperation counts op as a success unless err is a real failure.
// A lookup that misses is not a storage failure.
func RecordOperation(op string, err error) {
	success := "true"
	if err != nil && !errors.Is(err, notification.ErrNotFound) {
		success = "false"
	}
	metrics.GetMetrics().StorageOperations.WithLabelValues(op, success).Inc()
}
