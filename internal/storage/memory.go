package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devcollab/notifyd/internal/logging"
	"github.com/devcollab/notifyd/internal/notification"
	"github.com/rs/zerolog"
)

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

type memoryRecord struct {
	n   *notification.Notification
	seq uint64
}

// MemoryStore keeps notifications in process memory. Contents are lost on
// restart; it backs tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
	byUser  map[string][]*memoryRecord
	seq     uint64
	logger  zerolog.Logger
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memoryRecord),
		byUser:  make(map[string][]*memoryRecord),
		logger:  logging.Component("storage-memory"),
	}
}

// Start blocks until ctx is done
func (s *MemoryStore) Start(ctx context.Context) error {
	s.logger.Info().Msg("In-memory notification store started")
	<-ctx.Done()
	return nil
}

// Shutdown is a no-op for the in-memory store
func (s *MemoryStore) Shutdown(ctx context.Context) error {
	return nil
}

// Create stores a copy of n
func (s *MemoryStore) Create(ctx context.Context, n *notification.Notification) (*notification.Notification, error) {
	timer := StartTimer("create")
	defer timer.ObserveDuration()

	if err := CheckRecord(n); err != nil {
		RecordOperation("create", err)
		return nil, err
	}

	stored := Prepare(n, time.Now())

	s.mu.Lock()
	if _, exists := s.records[stored.ID]; exists {
		s.mu.Unlock()
		err := fmt.Errorf("notification %s already exists", stored.ID)
		RecordOperation("create", err)
		return nil, err
	}
	s.seq++
	rec := &memoryRecord{n: stored, seq: s.seq}
	s.records[stored.ID] = rec
	s.byUser[stored.RecipientID] = append(s.byUser[stored.RecipientID], rec)
	s.mu.Unlock()

	RecordOperation("create", nil)
	return stored.Clone(), nil
}

// FindByID returns a copy of the stored notification
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*notification.Notification, error) {
	timer := StartTimer("find_by_id")
	defer timer.ObserveDuration()

	s.mu.RLock()
	rec, ok := s.records[id]
	var out *notification.Notification
	if ok {
		out = rec.n.Clone()
	}
	s.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("%w: %s", notification.ErrNotFound, id)
		RecordOperation("find_by_id", err)
		return nil, err
	}
	RecordOperation("find_by_id", nil)
	return out, nil
}

// FindUnreadByUser returns unread notifications newest first
func (s *MemoryStore) FindUnreadByUser(ctx context.Context, userID string) ([]*notification.Notification, error) {
	timer := StartTimer("find_unread")
	defer timer.ObserveDuration()

	s.mu.RLock()
	unread := make([]*memoryRecord, 0)
	for _, rec := range s.byUser[userID] {
		if !rec.n.IsRead() {
			unread = append(unread, rec)
		}
	}
	sort.Slice(unread, func(i, j int) bool {
		a, b := unread[i], unread[j]
		if !a.n.CreatedAt.Equal(b.n.CreatedAt) {
			return a.n.CreatedAt.After(b.n.CreatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]*notification.Notification, len(unread))
	for i, rec := range unread {
		out[i] = rec.n.Clone()
	}
	s.mu.RUnlock()

	RecordOperation("find_unread", nil)
	return out, nil
}

// CountUnread returns the number of unread notifications for userID
func (s *MemoryStore) CountUnread(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.byUser[userID] {
		if !rec.n.IsRead() {
			count++
		}
	}
	RecordOperation("count_unread", nil)
	return count, nil
}

// MarkRead sets ReadAt once
func (s *MemoryStore) MarkRead(ctx context.Context, id string, at time.Time) (*notification.Notification, bool, error) {
	timer := StartTimer("mark_read")
	defer timer.ObserveDuration()

	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		err := fmt.Errorf("%w: %s", notification.ErrNotFound, id)
		RecordOperation("mark_read", err)
		return nil, false, err
	}
	changed := rec.n.MarkRead(at)
	out := rec.n.Clone()
	s.mu.Unlock()

	RecordOperation("mark_read", nil)
	return out, changed, nil
}

// MarkAllRead marks every unread notification of userID
func (s *MemoryStore) MarkAllRead(ctx context.Context, userID string, at time.Time) ([]string, error) {
	timer := StartTimer("mark_all_read")
	defer timer.ObserveDuration()

	s.mu.Lock()
	changed := make([]string, 0)
	for _, rec := range s.byUser[userID] {
		if rec.n.MarkRead(at) {
			changed = append(changed, rec.n.ID)
		}
	}
	s.mu.Unlock()

	RecordOperation("mark_all_read", nil)
	return changed, nil
}
