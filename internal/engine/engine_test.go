package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcollab/notifyd/internal/config"
	"github.com/devcollab/notifyd/internal/notification"
)

func testConfig(t *testing.T, framework, storageType string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.Framework = framework
	cfg.Storage.Type = storageType
	cfg.Storage.DataDir = t.TempDir()
	return cfg
}

func TestEngineLifecycle(t *testing.T) {
	tests := []struct {
		framework string
		storage   string
	}{
		{config.FrameworkChi, "memory"},
		{config.FrameworkChi, "sqlite"},
		{config.FrameworkFiber, "badger"},
	}

	for _, tt := range tests {
		t.Run(tt.framework+"/"+tt.storage, func(t *testing.T) {
			e, err := CreateEngine(testConfig(t, tt.framework, tt.storage))
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- e.Start(ctx) }()

			n, err := e.Dispatcher().Send(context.Background(), notification.Request{
				RecipientID: "bob",
				Subject:     notification.SubjectRolePublished,
			})
			require.NoError(t, err)

			count, err := e.Dispatcher().CountUnread(context.Background(), "bob")
			require.NoError(t, err)
			assert.Equal(t, 1, count)
			assert.NotEmpty(t, n.ID)

			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("engine did not stop")
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			assert.NoError(t, e.Shutdown(shutdownCtx))
		})
	}
}

func TestCreateEngineRejectsUnknownFramework(t *testing.T) {
	_, err := CreateEngine(testConfig(t, "gin", "memory"))
	assert.Error(t, err)
}
