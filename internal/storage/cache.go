package storage

import (
	"context"
	"sync"
	"time"

	"github.com/devcollab/notifyd/internal/metrics"
	"github.com/devcollab/notifyd/internal/notification"
	lru "github.com/hashicorp/golang-lru"
)

// Ensure CachedStore implements Store
var _ Store = (*CachedStore)(nil)

// CachedStore is a caching layer for notification lookups by id. Reads of
// unread lists always go to the underlying store.
type CachedStore struct {
	Store
	items      *lru.TwoQueueCache
	metrics    *metrics.Metrics
	expiration time.Duration

	// epoch counts read-state mutations; a lookup that raced one is not cached
	mu    sync.Mutex
	epoch uint64
}

// cacheItem represents an item in the cache with an expiration time
type cacheItem struct {
	value      *notification.Notification
	expiration time.Time
}

// NewCachedStore wraps store with a 2Q cache of the given capacity
func NewCachedStore(store Store, capacity int, expiration time.Duration) (*CachedStore, error) {
	items, err := lru.New2Q(capacity)
	if err != nil {
		return nil, err
	}

	return &CachedStore{
		Store:      store,
		items:      items,
		metrics:    metrics.GetMetrics(),
		expiration: expiration,
	}, nil
}

// get retrieves a notification from the cache
func (c *CachedStore) get(id string) (*notification.Notification, bool) {
	value, found := c.items.Get(id)
	if !found {
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	item := value.(cacheItem)
	if time.Now().After(item.expiration) {
		c.items.Remove(id)
		c.metrics.CacheLookups.WithLabelValues("expired").Inc()
		return nil, false
	}

	c.metrics.CacheLookups.WithLabelValues("hit").Inc()
	return item.value.Clone(), true
}

// set adds a notification to the cache
func (c *CachedStore) set(n *notification.Notification) {
	c.items.Add(n.ID, cacheItem{
		value:      n.Clone(),
		expiration: time.Now().Add(c.expiration),
	})
}

// currentEpoch returns the mutation counter
func (c *CachedStore) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// setIfCurrent caches n unless a mutation happened since epoch was read
func (c *CachedStore) setIfCurrent(n *notification.Notification, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == epoch {
		c.set(n)
	}
}

// Create writes through and caches the stored record
func (c *CachedStore) Create(ctx context.Context, n *notification.Notification) (*notification.Notification, error) {
	stored, err := c.Store.Create(ctx, n)
	if err != nil {
		return nil, err
	}
	c.set(stored)
	return stored, nil
}

// FindByID serves from the cache when possible
func (c *CachedStore) FindByID(ctx context.Context, id string) (*notification.Notification, error) {
	if n, ok := c.get(id); ok {
		return n, nil
	}

	epoch := c.currentEpoch()
	n, err := c.Store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.setIfCurrent(n, epoch)
	return n, nil
}

// MarkRead writes through and refreshes the cached copy
func (c *CachedStore) MarkRead(ctx context.Context, id string, at time.Time) (*notification.Notification, bool, error) {
	n, changed, err := c.Store.MarkRead(ctx, id, at)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	if err != nil {
		c.items.Remove(id)
		return nil, false, err
	}
	c.set(n)
	return n, changed, nil
}

// MarkAllRead writes through and invalidates every changed record
func (c *CachedStore) MarkAllRead(ctx context.Context, userID string, at time.Time) ([]string, error) {
	ids, err := c.Store.MarkAllRead(ctx, userID, at)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	for _, id := range ids {
		c.items.Remove(id)
	}
	return ids, err
}

// Shutdown empties the cache and shuts down the underlying store
func (c *CachedStore) Shutdown(ctx context.Context) error {
	c.items.Purge()
	return c.Store.Shutdown(ctx)
}

// Len returns the number of cached records
func (c *CachedStore) Len() int {
	return c.items.Len()
}
