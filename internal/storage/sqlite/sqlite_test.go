package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcollab/notifyd/internal/notification"
	"github.com/devcollab/notifyd/internal/storage"
	"github.com/devcollab/notifyd/internal/storage/storagetest"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "notifyd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestSQLiteStoreConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newTestStore(t)
	})
}

func TestInMemorySQLiteStoreConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := NewSQLiteStore(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
		return s
	})
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifyd.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	n, err := s.Create(ctx, &notification.Notification{Subject: "x", RecipientID: "bob"})
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(ctx))

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Shutdown(ctx)

	var version int
	require.NoError(t, reopened.db.Get(&version, "SELECT MAX(version) FROM schema_version"))
	assert.Equal(t, len(migrations), version)

	var rows int
	require.NoError(t, reopened.db.Get(&rows, "SELECT COUNT(*) FROM schema_version"))
	assert.Equal(t, len(migrations), rows, "migrations must not be re-applied")

	found, err := reopened.FindByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", found.RecipientID)
}

func TestRowRoundTripKeepsNanoseconds(t *testing.T) {
	sender := "alice"
	readAt := time.Date(2024, 3, 4, 5, 6, 7, 123456789, time.UTC)
	in := &notification.Notification{
		ID:          "n1",
		Subject:     notification.SubjectRolePublished,
		RecipientID: "bob",
		SenderID:    &sender,
		Payload:     map[string]any{"role": "backend"},
		Channels:    notification.Channels{notification.ChannelPersisted},
		CreatedAt:   readAt.Add(-time.Hour),
		ReadAt:      &readAt,
	}

	row, err := toRow(in)
	require.NoError(t, err)
	out, err := row.toNotification()
	require.NoError(t, err)

	assert.Equal(t, in.ID, out.ID)
	assert.True(t, out.CreatedAt.Equal(in.CreatedAt))
	require.NotNil(t, out.ReadAt)
	assert.True(t, out.ReadAt.Equal(readAt))
	assert.Equal(t, "alice", *out.SenderID)
	assert.Equal(t, "backend", out.Payload["role"])
	assert.Equal(t, in.Channels, out.Channels)
}
