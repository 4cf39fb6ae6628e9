package domain

import (
	"context"
)

// Component is a long-running part of the service. Start blocks until ctx
// is done or the component fails.
type Component interface {
	// Start begins the component operation
	Start(ctx context.Context) error

	// Shutdown stops the component
	Shutdown(ctx context.Context) error
}

// APIEngine defines the interface for API implementations
type APIEngine interface {
	Component
}
