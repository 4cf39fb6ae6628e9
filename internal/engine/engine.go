package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/devcollab/notifyd/internal/auth"
	"github.com/devcollab/notifyd/internal/config"
	"github.com/devcollab/notifyd/internal/dispatcher"
	"github.com/devcollab/notifyd/internal/domain"
	"github.com/devcollab/notifyd/internal/logging"
	"github.com/devcollab/notifyd/internal/notifier"
	"github.com/devcollab/notifyd/internal/registry"
	"github.com/devcollab/notifyd/internal/storage"
	"github.com/devcollab/notifyd/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Engine is the main coordinator of all notifyd components
type Engine struct {
	config      *config.Config
	store       storage.Store
	dispatcher  *dispatcher.Dispatcher
	notifier    *notifier.Notifier
	api         domain.APIEngine
	logger      zerolog.Logger
	telemetryFn func(context.Context) error
}

// CreateEngine creates a new Engine with all components initialized from
// the config
func CreateEngine(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	store, err := domain.NewStore(domain.StoreConfig{
		Storage:    cfg.ToStorageConfig(),
		Badger:     cfg.ToBadgerConfig(),
		SQLitePath: cfg.SQLitePath(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	reg := registry.New()
	d := dispatcher.New(cfg.ToDispatcherConfig(), store, reg)
	n := notifier.NewNotifier(cfg.ToNotifierConfig(), reg, d)

	api, err := domain.NewAPIEngine(domain.APIConfig{
		Type:  domain.APIType(cfg.Server.Framework),
		Chi:   cfg.ToChiAPIConfig(),
		Fiber: cfg.ToAPIConfig(),
	}, d, n, auth.New(cfg.ToAuthConfig()))
	if err != nil {
		_ = store.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize API: %w", err)
	}

	return &Engine{
		config:     cfg,
		store:      store,
		dispatcher: d,
		notifier:   n,
		api:        api,
		logger:     logging.Component("engine"),
	}, nil
}

// Dispatcher returns the notification dispatcher
func (e *Engine) Dispatcher() *dispatcher.Dispatcher {
	return e.dispatcher
}

// Start initializes and runs all components until ctx is done or one of
// them fails
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info().
		Str("framework", e.config.Server.Framework).
		Str("storage", e.config.Storage.Type).
		Msg("Starting notifyd engine")

	telShutdown, err := telemetry.Setup(ctx, e.config.ToTelemetryConfig())
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
	} else {
		e.telemetryFn = telShutdown
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.store.Start(ctx)
	})

	g.Go(func() error {
		return e.notifier.Start(ctx)
	})

	g.Go(func() error {
		return e.api.Start(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("error running engine: %w", err)
	}

	e.logger.Info().Msg("notifyd engine stopped")
	return nil
}

// Shutdown stops the engine. The API goes first so no new sessions arrive,
// storage goes last.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down notifyd engine")

	if err := e.api.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down API")
	}

	if err := e.notifier.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down notifier")
	}

	if err := e.store.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down storage")
		return err
	}

	if e.telemetryFn != nil {
		if err := e.telemetryFn(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to shut down telemetry")
		}
	}

	return nil
}
