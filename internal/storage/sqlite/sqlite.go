package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/devcollab/notifyd/internal/logging"
	"github.com/devcollab/notifyd/internal/notification"
	"github.com/devcollab/notifyd/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using a local SQLite database.
type SQLiteStore struct {
	db     *sqlx.DB
	path   string
	logger zerolog.Logger
}

// notificationRow is the column layout of the notifications table.
// Timestamps are unix nanoseconds so ordering and equality survive a round trip.
type notificationRow struct {
	Seq         int64          `db:"seq"`
	ID          string         `db:"id"`
	Subject     string         `db:"subject"`
	RecipientID string         `db:"recipient_id"`
	SenderID    sql.NullString `db:"sender_id"`
	Payload     string         `db:"payload"`
	Channels    string         `db:"channels"`
	CreatedAt   int64          `db:"created_at"`
	ReadAt      sql.NullInt64  `db:"read_at"`
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		path:   dbPath,
		logger: logging.Component("storage-sqlite"),
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		s.logger.Debug().Int("version", m.version).Msg("Applied schema migration")
	}

	return nil
}

// Start blocks until ctx is done
func (s *SQLiteStore) Start(ctx context.Context) error {
	s.logger.Info().Str("path", s.path).Msg("SQLite notification store started")
	<-ctx.Done()
	return nil
}

// Shutdown closes the underlying database connection.
func (s *SQLiteStore) Shutdown(ctx context.Context) error {
	return s.db.Close()
}

// Create inserts a new notification record.
func (s *SQLiteStore) Create(ctx context.Context, n *notification.Notification) (*notification.Notification, error) {
	timer := storage.StartTimer("create")
	defer timer.ObserveDuration()

	if err := storage.CheckRecord(n); err != nil {
		storage.RecordOperation("create", err)
		return nil, err
	}

	stored := storage.Prepare(n, time.Now())
	row, err := toRow(stored)
	if err != nil {
		storage.RecordOperation("create", err)
		return nil, err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (
			id, subject, recipient_id, sender_id, payload, channels, created_at, read_at
		) VALUES (
			:id, :subject, :recipient_id, :sender_id, :payload, :channels, :created_at, :read_at
		)`, row)
	storage.RecordOperation("create", err)
	if err != nil {
		return nil, fmt.Errorf("creating notification %s: %w", stored.ID, err)
	}

	return stored.Clone(), nil
}

// FindByID retrieves a single notification by its ID.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*notification.Notification, error) {
	timer := storage.StartTimer("find_by_id")
	defer timer.ObserveDuration()

	n, err := getNotification(ctx, s.db, id)
	storage.RecordOperation("find_by_id", err)
	return n, err
}

// FindUnreadByUser retrieves unread notifications for a user, newest first.
func (s *SQLiteStore) FindUnreadByUser(ctx context.Context, userID string) ([]*notification.Notification, error) {
	timer := storage.StartTimer("find_unread")
	defer timer.ObserveDuration()

	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM notifications
		WHERE recipient_id = ? AND read_at IS NULL
		ORDER BY created_at DESC, seq DESC`, userID)
	storage.RecordOperation("find_unread", err)
	if err != nil {
		return nil, fmt.Errorf("querying unread notifications: %w", err)
	}

	result := make([]*notification.Notification, 0, len(rows))
	for _, row := range rows {
		n, err := row.toNotification()
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, nil
}

// CountUnread returns the number of unread notifications for a user.
func (s *SQLiteStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND read_at IS NULL", userID)
	storage.RecordOperation("count_unread", err)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead sets read_at when it is still empty.
func (s *SQLiteStore) MarkRead(ctx context.Context, id string, at time.Time) (*notification.Notification, bool, error) {
	timer := storage.StartTimer("mark_read")
	defer timer.ObserveDuration()

	n, changed, err := s.markRead(ctx, id, at)
	storage.RecordOperation("mark_read", err)
	return n, changed, err
}

func (s *SQLiteStore) markRead(ctx context.Context, id string, at time.Time) (*notification.Notification, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	n, err := getNotification(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if !n.MarkRead(at) {
		return n, false, nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE notifications SET read_at = ? WHERE id = ? AND read_at IS NULL",
		n.ReadAt.UnixNano(), id)
	if err != nil {
		return nil, false, fmt.Errorf("marking notification %s read: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing read mark: %w", err)
	}
	return n, true, nil
}

// MarkAllRead marks every unread notification of a user and returns their ids.
func (s *SQLiteStore) MarkAllRead(ctx context.Context, userID string, at time.Time) ([]string, error) {
	timer := storage.StartTimer("mark_all_read")
	defer timer.ObserveDuration()

	ids, err := s.markAllRead(ctx, userID, at)
	storage.RecordOperation("mark_all_read", err)
	return ids, err
}

func (s *SQLiteStore) markAllRead(ctx context.Context, userID string, at time.Time) ([]string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0)
	err = tx.SelectContext(ctx, &ids,
		"SELECT id FROM notifications WHERE recipient_id = ? AND read_at IS NULL", userID)
	if err != nil {
		return nil, fmt.Errorf("selecting unread notifications: %w", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE notifications SET read_at = ? WHERE recipient_id = ? AND read_at IS NULL",
		at.UTC().UnixNano(), userID)
	if err != nil {
		return nil, fmt.Errorf("marking notifications read for %s: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing bulk read mark: %w", err)
	}
	return ids, nil
}

// getNotification loads one row through either the db or a transaction
func getNotification(ctx context.Context, q sqlx.QueryerContext, id string) (*notification.Notification, error) {
	var row notificationRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT * FROM notifications WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", notification.ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting notification %s: %w", id, err)
	}
	return row.toNotification()
}

func toRow(n *notification.Notification) (notificationRow, error) {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return notificationRow{}, fmt.Errorf("marshaling payload for notification %s: %w", n.ID, err)
	}
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return notificationRow{}, fmt.Errorf("marshaling channels for notification %s: %w", n.ID, err)
	}

	row := notificationRow{
		ID:          n.ID,
		Subject:     n.Subject,
		RecipientID: n.RecipientID,
		Payload:     string(payload),
		Channels:    string(channels),
		CreatedAt:   n.CreatedAt.UnixNano(),
	}
	if n.SenderID != nil {
		row.SenderID = sql.NullString{String: *n.SenderID, Valid: true}
	}
	if n.ReadAt != nil {
		row.ReadAt = sql.NullInt64{Int64: n.ReadAt.UnixNano(), Valid: true}
	}
	return row, nil
}

func (r notificationRow) toNotification() (*notification.Notification, error) {
	n := &notification.Notification{
		ID:          r.ID,
		Subject:     r.Subject,
		RecipientID: r.RecipientID,
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Payload), &n.Payload); err != nil {
		return nil, fmt.Errorf("unmarshaling payload for notification %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Channels), &n.Channels); err != nil {
		return nil, fmt.Errorf("unmarshaling channels for notification %s: %w", r.ID, err)
	}
	if r.SenderID.Valid {
		sender := r.SenderID.String
		n.SenderID = &sender
	}
	if r.ReadAt.Valid {
		readAt := time.Unix(0, r.ReadAt.Int64).UTC()
		n.ReadAt = &readAt
	}
	return n, nil
}
