package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/devcollab/notifyd/internal/notification"
	"github.com/devcollab/notifyd/internal/storage"
	"github.com/devcollab/notifyd/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return storage.NewMemoryStore()
	})
}

func TestCachedMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		cached, err := storage.NewCachedStore(storage.NewMemoryStore(), 128, time.Minute)
		require.NoError(t, err)
		return cached
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := storage.NewMemoryStore()
	ctx := context.Background()

	n, err := s.Create(ctx, &notification.Notification{
		Subject:     "x",
		RecipientID: "bob",
		Payload:     map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	n.Payload["k"] = "mutated"
	n.MarkRead(time.Now())

	found, err := s.FindByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", found.Payload["k"])
	assert.False(t, found.IsRead())
}

func TestCachedStoreServesFromCache(t *testing.T) {
	backing := storage.NewMemoryStore()
	cached, err := storage.NewCachedStore(backing, 16, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := cached.Create(ctx, &notification.Notification{Subject: "x", RecipientID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Len())

	found, err := cached.FindByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, found.ID)

	// Returned values are copies of the cached entry
	found.Subject = "changed"
	again, err := cached.FindByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", again.Subject)
}

func TestCachedStoreRefreshesOnMarkRead(t *testing.T) {
	backing := storage.NewMemoryStore()
	cached, err := storage.NewCachedStore(backing, 16, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := cached.Create(ctx, &notification.Notification{Subject: "x", RecipientID: "bob"})
	require.NoError(t, err)
	other, err := cached.Create(ctx, &notification.Notification{Subject: "y", RecipientID: "bob"})
	require.NoError(t, err)

	_, changed, err := cached.MarkRead(ctx, n.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	found, err := cached.FindByID(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, found.IsRead())

	ids, err := cached.MarkAllRead(ctx, "bob", time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, ids)

	found, err = cached.FindByID(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, found.IsRead(), "bulk read must not leave a stale cached copy")
}

// pausedFinder holds a FindByID result until released
type pausedFinder struct {
	storage.Store
	loaded  chan struct{}
	release chan struct{}
}

func (p *pausedFinder) FindByID(ctx context.Context, id string) (*notification.Notification, error) {
	n, err := p.Store.FindByID(ctx, id)
	close(p.loaded)
	<-p.release
	return n, err
}

func TestCachedStoreIgnoresLookupThatRacedMarkRead(t *testing.T) {
	backing := storage.NewMemoryStore()
	ctx := context.Background()
	n, err := backing.Create(ctx, &notification.Notification{Subject: "x", RecipientID: "bob"})
	require.NoError(t, err)

	paused := &pausedFinder{Store: backing, loaded: make(chan struct{}), release: make(chan struct{})}
	cached, err := storage.NewCachedStore(paused, 16, time.Minute)
	require.NoError(t, err)

	done := make(chan *notification.Notification)
	go func() {
		found, _ := cached.FindByID(ctx, n.ID)
		done <- found
	}()

	<-paused.loaded
	_, changed, err := cached.MarkRead(ctx, n.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
	close(paused.release)

	stale := <-done
	require.NotNil(t, stale)
	assert.False(t, stale.IsRead(), "the raced lookup saw the old copy")

	found, err := cached.FindByID(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, found.IsRead(), "the old copy must not replace the refreshed entry")
}

func TestCachedStoreExpiresEntries(t *testing.T) {
	backing := storage.NewMemoryStore()
	cached, err := storage.NewCachedStore(backing, 16, time.Nanosecond)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := cached.Create(ctx, &notification.Notification{Subject: "x", RecipientID: "bob"})
	require.NoError(t, err)

	// Mutate the backing store directly; an expired entry must be reloaded
	_, _, err = backing.MarkRead(ctx, n.ID, time.Now())
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	found, err := cached.FindByID(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, found.IsRead())
}

func TestPrepare(t *testing.T) {
	local := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	in := &notification.Notification{RecipientID: "bob", CreatedAt: local}

	out := storage.Prepare(in, time.Now())
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, time.UTC, out.CreatedAt.Location())
	assert.True(t, out.CreatedAt.Equal(local))
	assert.NotNil(t, out.Payload)
	assert.Equal(t, notification.DefaultChannels(), out.Channels)
	assert.Empty(t, in.ID, "input must not be modified")
}
