package domain

import (
	"fmt"

	"github.com/devcollab/notifyd/internal/api"
	"github.com/devcollab/notifyd/internal/api/chi"
	"github.com/devcollab/notifyd/internal/auth"
	"github.com/devcollab/notifyd/internal/dispatcher"
	"github.com/devcollab/notifyd/internal/notifier"
)

// APIType represents the type of API implementation
type APIType string

const (
	// ChiAPI represents the Chi router-based API
	ChiAPI APIType = "chi"

	// FiberAPI represents the Fiber framework-based API
	FiberAPI APIType = "fiber"
)

// APIConfig holds configuration for all API implementations
type APIConfig struct {
	// API type
	Type APIType

	// Framework specific configuration
	Chi   chi.Config
	Fiber api.Config
}

// NewAPIEngine creates a new API engine of the specified type
func NewAPIEngine(
	config APIConfig,
	dispatcher *dispatcher.Dispatcher,
	notifier *notifier.Notifier,
	authenticator *auth.Authenticator,
) (APIEngine, error) {
	switch config.Type {
	case ChiAPI, "":
		return chi.NewChiAPI(config.Chi, dispatcher, notifier, authenticator), nil

	case FiberAPI:
		return api.NewAPI(config.Fiber, dispatcher, notifier, authenticator), nil

	default:
		return nil, fmt.Errorf("unsupported API type: %s", config.Type)
	}
}
