package domain

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcollab/notifyd/internal/api"
	"github.com/devcollab/notifyd/internal/api/chi"
	"github.com/devcollab/notifyd/internal/auth"
	"github.com/devcollab/notifyd/internal/dispatcher"
	"github.com/devcollab/notifyd/internal/notification"
	"github.com/devcollab/notifyd/internal/notifier"
	"github.com/devcollab/notifyd/internal/registry"
	"github.com/devcollab/notifyd/internal/storage"
	"github.com/devcollab/notifyd/internal/storage/badger"
	"github.com/devcollab/notifyd/internal/storage/sqlite"
)

func TestNewStore(t *testing.T) {
	tests := []struct {
		name     string
		typ      string
		cache    bool
		expected any
	}{
		{"memory", storage.TypeMemory, false, &storage.MemoryStore{}},
		{"memory cached", storage.TypeMemory, true, &storage.CachedStore{}},
		{"badger", storage.TypeBadger, false, &badger.Storage{}},
		{"sqlite", storage.TypeSQLite, false, &sqlite.SQLiteStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			store, err := NewStore(StoreConfig{
				Storage: storage.Config{
					Type:            tt.typ,
					DataDir:         dir,
					CacheEnabled:    tt.cache,
					CacheSize:       16,
					CacheExpiration: time.Minute,
				},
				SQLitePath: filepath.Join(dir, "notifyd.db"),
			})
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Shutdown(context.Background()) })
			assert.IsType(t, tt.expected, store)

			created, err := store.Create(context.Background(), &notification.Notification{
				RecipientID: "bob",
				Subject:     notification.SubjectApplicationCreated,
			})
			require.NoError(t, err)

			found, err := store.FindByID(context.Background(), created.ID)
			require.NoError(t, err)
			assert.Equal(t, created.ID, found.ID)
		})
	}
}

func TestNewStoreReleasesBackendOnCacheError(t *testing.T) {
	dir := t.TempDir()
	config := StoreConfig{
		Storage: storage.Config{
			Type:         storage.TypeBadger,
			DataDir:      dir,
			CacheEnabled: true,
			CacheSize:    0,
		},
	}

	_, err := NewStore(config)
	require.Error(t, err)

	// The badger directory lock must have been released
	config.Storage.CacheEnabled = false
	store, err := NewStore(config)
	require.NoError(t, err)
	assert.NoError(t, store.Shutdown(context.Background()))
}

func TestNewStoreUnknownType(t *testing.T) {
	_, err := NewStore(StoreConfig{Storage: storage.Config{Type: "postgres"}})
	assert.Error(t, err)
}

func TestNewAPIEngine(t *testing.T) {
	reg := registry.New()
	d := dispatcher.New(dispatcher.DefaultConfig(), storage.NewMemoryStore(), reg)
	n := notifier.NewNotifier(notifier.DefaultConfig(), reg, d)
	a := auth.New(auth.Config{})

	engine, err := NewAPIEngine(APIConfig{Type: ChiAPI}, d, n, a)
	require.NoError(t, err)
	assert.IsType(t, &chi.ChiAPI{}, engine)

	engine, err = NewAPIEngine(APIConfig{Type: FiberAPI}, d, n, a)
	require.NoError(t, err)
	assert.IsType(t, &api.API{}, engine)

	_, err = NewAPIEngine(APIConfig{Type: "gin"}, d, n, a)
	assert.Error(t, err)
}
