package registry_test

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/devcollab/notifyd/internal/registry"
	"github.com/devcollab/notifyd/internal/registry/registrytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterLookup(t *testing.T) {
	r := registry.New()
	h := registrytest.NewConn("c1", "bob")

	r.Register("bob", h)

	got, ok := r.Lookup("bob")
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.True(t, r.IsConnected("bob"))
	assert.False(t, r.IsConnected("alice"))
	assert.Equal(t, 1, r.ConnectedCount())
}

func TestRegisterReplacesAndClosesPrevious(t *testing.T) {
	r := registry.New()
	h1 := registrytest.NewConn("c1", "bob")
	h2 := registrytest.NewConn("c2", "bob")

	r.Register("bob", h1)
	r.Register("bob", h2)

	got, ok := r.Lookup("bob")
	require.True(t, ok)
	assert.Same(t, h2, got)
	assert.Equal(t, 1, h1.CloseCount(), "superseded handle should be closed")
	assert.Equal(t, 0, h2.CloseCount())
	assert.Equal(t, 1, r.ConnectedCount())

	_, found := r.FindUserByConnectionID("c1")
	assert.False(t, found, "superseded connection id should no longer resolve")
}

func TestRegisterSameHandleTwiceDoesNotClose(t *testing.T) {
	r := registry.New()
	h := registrytest.NewConn("c1", "bob")

	r.Register("bob", h)
	r.Register("bob", h)

	assert.Equal(t, 0, h.CloseCount())
	assert.True(t, r.IsConnected("bob"))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := registry.New()
	r.Register("bob", registrytest.NewConn("c1", "bob"))

	r.Unregister("bob")
	r.Unregister("bob")
	r.Unregister("nobody")

	assert.False(t, r.IsConnected("bob"))
	assert.Equal(t, 0, r.ConnectedCount())
}

func TestFindUserByConnectionID(t *testing.T) {
	r := registry.New()
	r.Register("bob", registrytest.NewConn("c1", "bob"))

	user, ok := r.FindUserByConnectionID("c1")
	require.True(t, ok)
	assert.Equal(t, "bob", user)

	_, ok = r.FindUserByConnectionID("missing")
	assert.False(t, ok)
}

func TestUnregisterConnectionIgnoresStaleClose(t *testing.T) {
	r := registry.New()
	old := registrytest.NewConn("c1", "bob")
	fresh := registrytest.NewConn("c2", "bob")

	r.Register("bob", old)
	r.Register("bob", fresh)

	// Close callback from the superseded session arrives late
	assert.False(t, r.UnregisterConnection("c1"))
	assert.True(t, r.IsConnected("bob"))

	assert.True(t, r.UnregisterConnection("c2"))
	assert.False(t, r.IsConnected("bob"))
	assert.False(t, r.UnregisterConnection("c2"))
}

func TestCloseAll(t *testing.T) {
	r := registry.New()
	conns := []*registrytest.Conn{
		registrytest.NewConn("c1", "alice"),
		registrytest.NewConn("c2", "bob"),
	}
	for _, c := range conns {
		r.Register(c.UserID(), c)
	}

	assert.Len(t, r.Connections(), 2)
	assert.Equal(t, 2, r.CloseAll())
	assert.Equal(t, 0, r.ConnectedCount())
	for _, c := range conns {
		assert.Equal(t, 1, c.CloseCount())
	}
}

// TestLastCallWins checks that connectivity always mirrors the final
// register/unregister call for a user.
func TestLastCallWins(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		r := registry.New()
		var last registry.Connection
		for i := 0; i < 1+rng.Intn(10); i++ {
			if rng.Intn(2) == 0 {
				last = registrytest.NewConn(fmt.Sprintf("c-%d-%d", round, i), "u")
				r.Register("u", last)
			} else {
				last = nil
				r.Unregister("u")
			}
		}

		got, ok := r.Lookup("u")
		if last == nil {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Same(t, last, got)
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := registry.New()
	const users = 50
	const iterations = 200

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("user-%d", u)
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				for i := 0; i < iterations; i++ {
					connID := fmt.Sprintf("%s-%d-%d", userID, worker, i)
					r.Register(userID, registrytest.NewConn(connID, userID))
					_, _ = r.Lookup(userID)
					if i%3 == 0 {
						r.UnregisterConnection(connID)
					}
				}
			}(w)
		}
	}
	wg.Wait()

	// Every entry left behind must be consistent in both directions
	for _, conn := range r.Connections() {
		user, ok := r.FindUserByConnectionID(conn.ID())
		require.True(t, ok)
		assert.Equal(t, conn.UserID(), user)

		live, ok := r.Lookup(user)
		require.True(t, ok)
		assert.Equal(t, conn.ID(), live.ID())
	}
	assert.LessOrEqual(t, r.ConnectedCount(), users)
}
