package notification

import "errors"

var (
	// ErrValidation marks malformed producer input
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a read acknowledgement for an unknown notification
	ErrNotFound = errors.New("notification not found")

	// ErrPersistence marks a store that is unavailable or rejected a write
	ErrPersistence = errors.New("persistence error")

	// ErrDelivery marks a realtime push that did not reach the client.
	// It is logged by the dispatcher and never returned to producers.
	ErrDelivery = errors.New("delivery failure")
)
