package domain

import (
	"context"
	"fmt"
	"os"

	"github.com/devcollab/notifyd/internal/logging"
	"github.com/devcollab/notifyd/internal/storage"
	"github.com/devcollab/notifyd/internal/storage/badger"
	"github.com/devcollab/notifyd/internal/storage/sqlite"
)

// StoreConfig holds the configuration for every store backend
type StoreConfig struct {
	// Backend selection and cache settings
	Storage storage.Config

	// Badger specific configuration
	Badger badger.Config

	// SQLite database file
	SQLitePath string
}

// NewStore creates the configured notification store, wrapped in a read
// cache when caching is enabled
func NewStore(config StoreConfig) (storage.Store, error) {
	store, err := newBackend(config)
	if err != nil {
		return nil, err
	}

	if !config.Storage.CacheEnabled {
		return store, nil
	}

	cached, err := storage.NewCachedStore(store, config.Storage.CacheSize, config.Storage.CacheExpiration)
	if err != nil {
		// Release the backend so its data directory can be reopened
		if shutdownErr := store.Shutdown(context.Background()); shutdownErr != nil {
			logger := logging.Component("store-factory")
			logger.Error().Err(shutdownErr).Msg("Failed to close store after cache error")
		}
		return nil, fmt.Errorf("failed to create store cache: %w", err)
	}
	return cached, nil
}

func newBackend(config StoreConfig) (storage.Store, error) {
	logger := logging.Component("store-factory")

	switch config.Storage.Type {
	case storage.TypeMemory:
		logger.Warn().Msg("Using in-memory store, notifications will not survive a restart")
		return storage.NewMemoryStore(), nil

	case storage.TypeBadger, "":
		badgerConfig := config.Badger
		if badgerConfig.DataDir == "" {
			badgerConfig.DataDir = config.Storage.DataDir
		}
		return badger.NewStorage(badgerConfig)

	case storage.TypeSQLite:
		if err := os.MkdirAll(config.Storage.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.NewSQLiteStore(config.SQLitePath)

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Storage.Type)
	}
}
