package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devcollab/notifyd/internal/auth"
	"github.com/devcollab/notifyd/internal/config"
	"github.com/devcollab/notifyd/internal/engine"
	"github.com/devcollab/notifyd/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to YAML configuration file")
		dataDir     = flag.String("data-dir", "", "Data directory for durable stores")
		addr        = flag.String("addr", "", "HTTP listen address")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		framework   = flag.String("framework", "", "HTTP framework (chi or fiber)")
		storageType = flag.String("storage", "", "Store backend (memory, badger or sqlite)")
		mintToken   = flag.String("mint-token", "", "Print a signed token for the given user and exit")
		tokenTTL    = flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -mint-token")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile, config.Overrides{
		DataDir:     *dataDir,
		ServerAddr:  *addr,
		LogLevel:    *logLevel,
		Framework:   *framework,
		StorageType: *storageType,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *mintToken != "" {
		token, err := auth.GenerateToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, *mintToken, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if err := logging.Setup(cfg.ToLoggingConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	e, err := engine.CreateEngine(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := e.Start(ctx)
	if runErr != nil {
		log.Error().Err(runErr).Msg("Engine stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
