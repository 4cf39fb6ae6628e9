// Package storagetest holds the behaviour every storage.Store must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/devcollab/notifyd/internal/notification"
	"github.com/devcollab/notifyd/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory builds a fresh, empty store for one subtest
type Factory func(t *testing.T) storage.Store

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newNotification(recipient string, createdAt time.Time) *notification.Notification {
	return &notification.Notification{
		Subject:     notification.SubjectApplicationCreated,
		RecipientID: recipient,
		Payload:     map[string]any{"projectId": "p-1"},
		Channels:    notification.DefaultChannels(),
		CreatedAt:   createdAt,
	}
}

// Run exercises the full Store contract against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAssignsIdentity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.Create(ctx, newNotification("bob", time.Time{}))
		require.NoError(t, err)
		assert.NotEmpty(t, n.ID)
		assert.False(t, n.CreatedAt.IsZero())
		assert.Nil(t, n.ReadAt)

		found, err := s.FindByID(ctx, n.ID)
		require.NoError(t, err)
		assert.Equal(t, n.ID, found.ID)
		assert.Equal(t, "bob", found.RecipientID)
		assert.Equal(t, notification.SubjectApplicationCreated, found.Subject)
		assert.Equal(t, "p-1", found.Payload["projectId"])
		assert.Nil(t, found.SenderID)
		assert.ElementsMatch(t, notification.DefaultChannels(), found.Channels)
	})

	t.Run("CreateKeepsProvidedID", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		in := newNotification("bob", base)
		in.ID = "fixed-id"
		sender := "alice"
		in.SenderID = &sender

		n, err := s.Create(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "fixed-id", n.ID)

		found, err := s.FindByID(ctx, "fixed-id")
		require.NoError(t, err)
		require.NotNil(t, found.SenderID)
		assert.Equal(t, "alice", *found.SenderID)
		assert.True(t, found.CreatedAt.Equal(base))

		_, err = s.Create(ctx, in)
		assert.Error(t, err, "duplicate id must be rejected")
	})

	t.Run("CreateRejectsMissingRecipient", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Create(context.Background(), newNotification("", base))
		assert.ErrorIs(t, err, notification.ErrValidation)
	})

	t.Run("FindByIDUnknown", func(t *testing.T) {
		s := newStore(t)

		_, err := s.FindByID(context.Background(), "missing")
		assert.ErrorIs(t, err, notification.ErrNotFound)
	})

	t.Run("FindUnreadNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var ids []string
		for i := 0; i < 3; i++ {
			n, err := s.Create(ctx, newNotification("bob", base.Add(time.Duration(i)*time.Minute)))
			require.NoError(t, err)
			ids = append(ids, n.ID)
		}
		_, err := s.Create(ctx, newNotification("alice", base))
		require.NoError(t, err)

		unread, err := s.FindUnreadByUser(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, unread, 3)
		assert.Equal(t, []string{ids[2], ids[1], ids[0]}, collectIDs(unread))
	})

	t.Run("FindUnreadTiesBrokenByInsertion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.Create(ctx, newNotification("bob", base))
		require.NoError(t, err)
		second, err := s.Create(ctx, newNotification("bob", base))
		require.NoError(t, err)

		unread, err := s.FindUnreadByUser(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{second.ID, first.ID}, collectIDs(unread))
	})

	t.Run("FindUnreadUnknownUserIsEmpty", func(t *testing.T) {
		s := newStore(t)

		unread, err := s.FindUnreadByUser(context.Background(), "nobody")
		require.NoError(t, err)
		assert.NotNil(t, unread)
		assert.Empty(t, unread)
	})

	t.Run("MarkReadIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.Create(ctx, newNotification("bob", base))
		require.NoError(t, err)

		readAt := base.Add(time.Hour)
		updated, changed, err := s.MarkRead(ctx, n.ID, readAt)
		require.NoError(t, err)
		assert.True(t, changed)
		require.NotNil(t, updated.ReadAt)
		assert.True(t, updated.ReadAt.Equal(readAt))

		again, changed, err := s.MarkRead(ctx, n.ID, readAt.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, changed)
		require.NotNil(t, again.ReadAt)
		assert.True(t, again.ReadAt.Equal(readAt), "read timestamp must not move")

		found, err := s.FindByID(ctx, n.ID)
		require.NoError(t, err)
		require.NotNil(t, found.ReadAt)
		assert.True(t, found.ReadAt.Equal(readAt))

		unread, err := s.FindUnreadByUser(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, unread)
	})

	t.Run("MarkReadUnknown", func(t *testing.T) {
		s := newStore(t)

		_, _, err := s.MarkRead(context.Background(), "missing", base)
		assert.ErrorIs(t, err, notification.ErrNotFound)
	})

	t.Run("MarkAllRead", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var bobIDs []string
		for i := 0; i < 3; i++ {
			n, err := s.Create(ctx, newNotification("bob", base.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
			bobIDs = append(bobIDs, n.ID)
		}
		_, _, err := s.MarkRead(ctx, bobIDs[0], base.Add(time.Minute))
		require.NoError(t, err)
		_, err = s.Create(ctx, newNotification("alice", base))
		require.NoError(t, err)

		changed, err := s.MarkAllRead(ctx, "bob", base.Add(time.Hour))
		require.NoError(t, err)
		assert.ElementsMatch(t, bobIDs[1:], changed)

		first, err := s.FindByID(ctx, bobIDs[0])
		require.NoError(t, err)
		require.NotNil(t, first.ReadAt)
		assert.True(t, first.ReadAt.Equal(base.Add(time.Minute)), "already-read record keeps its timestamp")

		changed, err = s.MarkAllRead(ctx, "bob", base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, changed)

		count, err := s.CountUnread(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, count, "other users are untouched")
	})

	t.Run("CountUnread", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		count, err := s.CountUnread(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		var last *notification.Notification
		for i := 0; i < 4; i++ {
			n, err := s.Create(ctx, newNotification("bob", base.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
			last = n
		}
		_, _, err = s.MarkRead(ctx, last.ID, base.Add(time.Hour))
		require.NoError(t, err)

		count, err = s.CountUnread(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("ConcurrentMarkReadAndMarkAllRead", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const total = 20
		ids := make([]string, 0, total)
		for i := 0; i < total; i++ {
			n, err := s.Create(ctx, newNotification("bob", base.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
			ids = append(ids, n.ID)
		}

		var (
			mu      sync.Mutex
			changes = make(map[string]int)
			wg      sync.WaitGroup
		)
		errs := make(chan error, total+1)
		record := func(id string) {
			mu.Lock()
			changes[id]++
			mu.Unlock()
		}

		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, changed, err := s.MarkRead(ctx, id, base.Add(time.Hour))
				if err != nil {
					errs <- err
					return
				}
				if changed {
					record(id)
				}
			}(id)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := s.MarkAllRead(ctx, "bob", base.Add(time.Hour))
			if err != nil {
				errs <- err
				return
			}
			for _, id := range changed {
				record(id)
			}
		}()
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		for _, id := range ids {
			assert.Equal(t, 1, changes[id], "notification %s must change exactly once", id)
		}
		assert.Len(t, changes, total)

		count, err := s.CountUnread(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("ConcurrentCreates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const writers = 8
		const perWriter = 10

		var wg sync.WaitGroup
		errs := make(chan error, writers*perWriter)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					n := newNotification(fmt.Sprintf("user-%d", w%2), time.Time{})
					if _, err := s.Create(ctx, n); err != nil {
						errs <- err
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		total := 0
		for _, user := range []string{"user-0", "user-1"} {
			count, err := s.CountUnread(ctx, user)
			require.NoError(t, err)
			total += count
		}
		assert.Equal(t, writers*perWriter, total)
	})
}

func collectIDs(list []*notification.Notification) []string {
	ids := make([]string, len(list))
	for i, n := range list {
		ids[i] = n.ID
	}
	return ids
}
