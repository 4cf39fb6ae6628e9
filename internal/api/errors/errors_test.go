package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devcollab/notifyd/internal/auth"
	"github.com/devcollab/notifyd/internal/notification"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ErrorType
		wantCode string
		wantHTTP int
	}{
		{"validation", fmt.Errorf("%w: subject type is required", notification.ErrValidation), ErrorTypeValidation, "invalid_request", http.StatusBadRequest},
		{"not found", fmt.Errorf("%w: n1", notification.ErrNotFound), ErrorTypeNotFound, "notification_not_found", http.StatusNotFound},
		{"persistence", fmt.Errorf("%w: disk full", notification.ErrPersistence), ErrorTypeInternal, "persistence_failed", http.StatusServiceUnavailable},
		{"unauthenticated", fmt.Errorf("%w: no token", auth.ErrUnauthenticated), ErrorTypeUnauthorized, "unauthenticated", http.StatusUnauthorized},
		{"forbidden", auth.ErrForbidden, ErrorTypeForbidden, "forbidden", http.StatusForbidden},
		{"deadline", context.DeadlineExceeded, ErrorTypeTimeout, "request_timeout", http.StatusGatewayTimeout},
		{"unknown", stderrors.New("boom"), ErrorTypeInternal, "internal_error", http.StatusInternalServerError},
		{"api error", ValidationError("missing_user_id", "userId is required"), ErrorTypeValidation, "missing_user_id", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromError(tt.err)
			assert.Equal(t, tt.wantType, apiErr.Type)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantHTTP, apiErr.HTTPCode)
		})
	}

	assert.Nil(t, FromError(nil))
}

func TestPersistenceErrorHidesCause(t *testing.T) {
	apiErr := FromError(fmt.Errorf("%w: badger: value log corrupted", notification.ErrPersistence))
	assert.NotContains(t, apiErr.Message, "badger")
}
