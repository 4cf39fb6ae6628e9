// Package dispatcher is the single entry point for producing and consuming
// notifications. It persists first and then pushes best-effort over the
// recipient's live connection; a failed push is logged and never surfaced.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/devcollab/notifyd/internal/logging"
	"github.com/devcollab/notifyd/internal/metrics"
	"github.com/devcollab/notifyd/internal/notification"
	"github.com/devcollab/notifyd/internal/registry"
	"github.com/devcollab/notifyd/internal/storage"
	"github.com/devcollab/notifyd/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Config contains dispatcher configuration
type Config struct {
	// Upper bound for a single realtime push
	PushTimeout time.Duration
}

// DefaultConfig returns a default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		PushTimeout: 2 * time.Second,
	}
}

// Dispatcher composes the notification store and the connection registry
type Dispatcher struct {
	config   Config
	store    storage.Store
	registry *registry.Registry
	now      func() time.Time
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// New creates a dispatcher
func New(config Config, store storage.Store, reg *registry.Registry) *Dispatcher {
	if config.PushTimeout <= 0 {
		config.PushTimeout = DefaultConfig().PushTimeout
	}

	return &Dispatcher{
		config:   config,
		store:    store,
		registry: reg,
		now:      time.Now,
		logger:   logging.Component("dispatcher"),
		metrics:  metrics.GetMetrics(),
	}
}

// Send persists the notification when the persisted channel is requested
// and pushes it when the realtime channel is requested and the recipient is
// connected. Only validation and persistence failures are returned.
func (d *Dispatcher) Send(ctx context.Context, req notification.Request) (*notification.Notification, error) {
	ctx, span := telemetry.StartSpan(ctx, "dispatcher.send")
	defer span.End()

	if err := req.Validate(); err != nil {
		telemetry.MarkSpanError(ctx, err)
		return nil, err
	}
	req.Normalize()

	persist := req.Channels.Has(notification.ChannelPersisted)
	realtime := req.Channels.Has(notification.ChannelRealtime)

	telemetry.AddSpanAttributes(ctx,
		attribute.String("notification.recipient", req.RecipientID),
		attribute.String("notification.subject", req.Subject),
		attribute.Bool("notification.persisted", persist),
		attribute.Bool("notification.realtime", realtime),
	)

	n := req.ToNotification()
	if persist {
		stored, err := d.store.Create(ctx, n)
		if err != nil {
			d.metrics.NotificationsSent.WithLabelValues(string(notification.ChannelPersisted), "failed").Inc()
			err = fmt.Errorf("%w: storing notification for %s: %v", notification.ErrPersistence, req.RecipientID, err)
			telemetry.MarkSpanError(ctx, err)
			return nil, err
		}
		n = stored
		d.metrics.NotificationsSent.WithLabelValues(string(notification.ChannelPersisted), "stored").Inc()
	} else {
		// Realtime-only notifications are never stored; they still get a
		// transient id and timestamp so clients can render them.
		n = storage.Prepare(n, d.now())
	}

	if realtime {
		outcome := d.pushToUser(ctx, n.RecipientID, notification.EventNewNotification, n)
		if outcome == outcomeOffline && !persist {
			outcome = outcomeDropped
			d.logger.Debug().
				Str("user_id", n.RecipientID).
				Str("subject", n.Subject).
				Msg("Dropped realtime-only notification for offline user")
		}
		d.metrics.NotificationsSent.WithLabelValues(string(notification.ChannelRealtime), outcome).Inc()
	}

	return n, nil
}

// ListUnread returns the user's unread notifications, newest first
func (d *Dispatcher) ListUnread(ctx context.Context, userID string) ([]*notification.Notification, error) {
	ctx, span := telemetry.StartSpan(ctx, "dispatcher.list_unread")
	defer span.End()

	if err := requireUser(userID); err != nil {
		return nil, err
	}

	list, err := d.store.FindUnreadByUser(ctx, userID)
	if err != nil {
		err = fmt.Errorf("%w: listing unread for %s: %v", notification.ErrPersistence, userID, err)
		telemetry.MarkSpanError(ctx, err)
		return nil, err
	}
	if list == nil {
		list = []*notification.Notification{}
	}
	telemetry.AddSpanAttributes(ctx, attribute.Int("notification.unread", len(list)))
	return list, nil
}

// CountUnread returns the number of unread notifications for a user
func (d *Dispatcher) CountUnread(ctx context.Context, userID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "dispatcher.count_unread")
	defer span.End()

	if err := requireUser(userID); err != nil {
		return 0, err
	}

	count, err := d.store.CountUnread(ctx, userID)
	if err != nil {
		err = fmt.Errorf("%w: counting unread for %s: %v", notification.ErrPersistence, userID, err)
		telemetry.MarkSpanError(ctx, err)
		return 0, err
	}
	return count, nil
}

// MarkRead acknowledges a single notification. Acknowledging an already
// read notification succeeds without changing it. The owner is notified
// only when the read state actually changed.
func (d *Dispatcher) MarkRead(ctx context.Context, id string) (*notification.Notification, error) {
	ctx, span := telemetry.StartSpan(ctx, "dispatcher.mark_read")
	defer span.End()

	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", notification.ErrValidation)
	}
	telemetry.AddSpanAttributes(ctx, attribute.String("notification.id", id))

	n, changed, err := d.store.MarkRead(ctx, id, d.now())
	if err != nil {
		if !errors.Is(err, notification.ErrNotFound) {
			err = fmt.Errorf("%w: marking %s read: %v", notification.ErrPersistence, id, err)
		}
		telemetry.MarkSpanError(ctx, err)
		return nil, err
	}

	d.metrics.ReadAcknowledged.WithLabelValues("one", strconv.FormatBool(changed)).Inc()
	if changed {
		d.pushToUser(ctx, n.RecipientID, notification.EventNotificationRead, n)
	}
	return n, nil
}

// MarkReadAs acknowledges a notification on behalf of userID. A notification
// owned by someone else is reported as not found.
func (d *Dispatcher) MarkReadAs(ctx context.Context, userID, id string) (*notification.Notification, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	n, err := d.store.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, notification.ErrNotFound) {
			err = fmt.Errorf("%w: loading %s: %v", notification.ErrPersistence, id, err)
		}
		return nil, err
	}
	if n.RecipientID != userID {
		return nil, fmt.Errorf("%w: %s", notification.ErrNotFound, id)
	}
	return d.MarkRead(ctx, id)
}

// MarkAllRead acknowledges every unread notification of a user and returns
// how many changed. A single notification-read event summarises the change.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "dispatcher.mark_all_read")
	defer span.End()

	if err := requireUser(userID); err != nil {
		return 0, err
	}

	ids, err := d.store.MarkAllRead(ctx, userID, d.now())
	if err != nil {
		err = fmt.Errorf("%w: marking all read for %s: %v", notification.ErrPersistence, userID, err)
		telemetry.MarkSpanError(ctx, err)
		return 0, err
	}

	d.metrics.ReadAcknowledged.WithLabelValues("all", strconv.FormatBool(len(ids) > 0)).Inc()
	telemetry.AddSpanAttributes(ctx, attribute.Int("notification.changed", len(ids)))

	if len(ids) > 0 {
		d.pushToUser(ctx, userID, notification.EventNotificationRead, notification.ReadAll{
			UserID: userID,
			All:    true,
			Count:  len(ids),
			IDs:    ids,
		})
	}
	return len(ids), nil
}

// Backfill pushes the user's unread backlog to a freshly registered
// connection. It returns the number of notifications sent.
func (d *Dispatcher) Backfill(ctx context.Context, conn registry.Connection) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "dispatcher.backfill")
	defer span.End()

	list, err := d.ListUnread(ctx, conn.UserID())
	if err != nil {
		return 0, err
	}

	if err := d.push(ctx, conn, notification.EventUnreadNotifications, list); err != nil {
		return 0, err
	}
	d.metrics.BackfillsDelivered.Inc()
	return len(list), nil
}

// IsConnected reports whether the user holds a live connection
func (d *Dispatcher) IsConnected(userID string) bool {
	return d.registry.IsConnected(userID)
}

const (
	outcomePushed  = "pushed"
	outcomeOffline = "offline"
	outcomeDropped = "dropped"
	outcomeFailed  = "failed"
)

// pushToUser looks up the live connection and pushes outside the registry
// lock. Failures are logged and counted.
func (d *Dispatcher) pushToUser(ctx context.Context, userID, event string, payload any) string {
	conn, ok := d.registry.Lookup(userID)
	if !ok {
		return outcomeOffline
	}
	if err := d.push(ctx, conn, event, payload); err != nil {
		return outcomeFailed
	}
	return outcomePushed
}

// push delivers one event with the configured timeout
func (d *Dispatcher) push(ctx context.Context, conn registry.Connection, event string, payload any) error {
	pushCtx, cancel := context.WithTimeout(ctx, d.config.PushTimeout)
	defer cancel()

	timer := prometheus.NewTimer(d.metrics.PushDuration)
	err := conn.Push(pushCtx, event, payload)
	timer.ObserveDuration()

	if err != nil {
		err = fmt.Errorf("%w: %s to %s: %v", notification.ErrDelivery, event, conn.UserID(), err)
		d.metrics.DeliveryFailures.WithLabelValues(event).Inc()
		d.logger.Warn().
			Err(err).
			Str("user_id", conn.UserID()).
			Str("connection_id", conn.ID()).
			Str("event", event).
			Msg("Realtime push failed")
		telemetry.AddSpanEvent(ctx, "delivery_failure",
			attribute.String("event", event),
			attribute.String("connection_id", conn.ID()),
		)
		return err
	}
	return nil
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user identity is required", notification.ErrValidation)
	}
	return nil
}
