package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devcollab/notifyd/internal/logging"
	"github.com/devcollab/notifyd/internal/metrics"
	"github.com/devcollab/notifyd/internal/notification"
	"github.com/devcollab/notifyd/internal/storage"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// Ensure Storage implements storage.Store
var _ storage.Store = (*Storage)(nil)

const (
	// Prefix keys for different record types
	prefixRecords = "n:"
	prefixUnread  = "u:"
	prefixMeta    = "meta:"

	// Key of the insertion sequence
	sequenceKey = prefixMeta + "seq"

	// Sequence lease size
	sequenceBandwidth = 100

	// Transaction retries on write conflicts
	maxConflictRetries = 10
	conflictBackoff    = time.Millisecond

	// Index entries handled per MarkAllRead transaction
	defaultMarkAllBatchSize = 1000
)

// Config contains badger storage configuration
type Config struct {
	// Base directory for data files
	DataDir string

	// InMemory keeps everything in RAM; DataDir is ignored
	InMemory bool

	// Whether to fsync every write
	SyncWrites bool

	// Badger tuning
	MemTableSize  int64
	NumCompactors int

	// Value log garbage collection
	GCInterval     time.Duration
	GCDiscardRatio float64

	// How often the size gauge is refreshed
	MetricsInterval time.Duration

	// Unread index entries committed per MarkAllRead transaction
	MarkAllBatchSize int
}

// DefaultConfig returns a default configuration for Badger-based storage
func DefaultConfig() Config {
	return Config{
		DataDir:         "./data",
		SyncWrites:      true,
		MemTableSize:    64 << 20, // 64MB
		NumCompactors:   4,
		GCInterval:      10 * time.Minute,
		GCDiscardRatio:  0.5,
		MetricsInterval: 15 * time.Second,

		MarkAllBatchSize: defaultMarkAllBatchSize,
	}
}

// record is the persisted form of a notification
type record struct {
	Notification *notification.Notification `json:"notification"`
	Seq          uint64                     `json:"seq"`
}

// Storage persists notifications in Badger. Each notification is stored
// under n:<id>; unread notifications also have an entry in a per-user index
// whose keys sort by creation time and insertion sequence.
type Storage struct {
	config Config
	db     *badger.DB
	seq    *badger.Sequence
	logger zerolog.Logger
}

// NewStorage creates a new Storage instance using Badger
func NewStorage(config Config) (*Storage, error) {
	logger := logging.Component("storage-badger")

	// Apply default configuration values if not provided
	defaults := DefaultConfig()
	if config.GCInterval <= 0 {
		config.GCInterval = defaults.GCInterval
	}
	if config.GCDiscardRatio <= 0 || config.GCDiscardRatio >= 1 {
		config.GCDiscardRatio = defaults.GCDiscardRatio
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = defaults.MetricsInterval
	}
	if config.MarkAllBatchSize <= 0 {
		config.MarkAllBatchSize = defaults.MarkAllBatchSize
	}

	s := &Storage{
		config: config,
		logger: logger,
	}

	if err := s.initBadger(); err != nil {
		return nil, err
	}

	seq, err := s.db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to lease insertion sequence: %w", err)
	}
	s.seq = seq

	return s, nil
}

// initBadger initializes the Badger database
func (s *Storage) initBadger() error {
	var options badger.Options
	if s.config.InMemory {
		options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dbPath := filepath.Join(s.config.DataDir, "badger")

		// Ensure directory exists
		if err := os.MkdirAll(dbPath, 0755); err != nil {
			return fmt.Errorf("failed to create badger directory: %w", err)
		}
		options = badger.DefaultOptions(dbPath)
	}

	options = options.WithLoggingLevel(badger.WARNING) // Reduce logging noise
	options = options.WithSyncWrites(s.config.SyncWrites)
	if s.config.MemTableSize > 0 {
		options = options.WithMemTableSize(s.config.MemTableSize)
	}
	if s.config.NumCompactors > 1 {
		options = options.WithNumCompactors(s.config.NumCompactors)
	}

	db, err := badger.Open(options)
	if err != nil {
		return fmt.Errorf("failed to open Badger: %w", err)
	}

	s.db = db
	return nil
}

// prefixKey adds the appropriate type prefix to a key
func prefixKey(prefix string, key []byte) []byte {
	prefixedKey := make([]byte, len(prefix)+len(key))
	copy(prefixedKey, prefix)
	copy(prefixedKey[len(prefix):], key)
	return prefixedKey
}

// unreadPrefix returns the index prefix for a user. The NUL separator keeps
// one user's range from overlapping another user whose id extends it.
func unreadPrefix(userID string) []byte {
	key := prefixKey(prefixUnread, []byte(userID))
	return append(key, 0)
}

// unreadKey creates the composite index key user/created-at/sequence/id
func unreadKey(userID string, createdAt time.Time, seq uint64, id string) []byte {
	prefix := unreadPrefix(userID)
	key := make([]byte, len(prefix)+16+len(id))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(createdAt.UnixNano()))
	binary.BigEndian.PutUint64(key[len(prefix)+8:], seq)
	copy(key[len(prefix)+16:], id)
	return key
}

// idFromUnreadKey extracts the notification id from an index key
func idFromUnreadKey(prefix, key []byte) string {
	return string(key[len(prefix)+16:])
}

// Start runs value log GC and metrics collection until ctx is done
func (s *Storage) Start(ctx context.Context) error {
	s.logger.Info().
		Bool("in_memory", s.config.InMemory).
		Str("data_dir", s.config.DataDir).
		Msg("Badger notification store started")

	if !s.config.InMemory {
		go s.runPeriodicGC(ctx)
	}
	go s.collectMetrics(ctx)

	<-ctx.Done()
	return nil
}

// runPeriodicGC reclaims value log space
func (s *Storage) runPeriodicGC(ctx context.Context) {
	ticker := time.NewTicker(s.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rewrites := 0
			for {
				// RunValueLogGC returns an error once nothing is left to rewrite
				if err := s.db.RunValueLogGC(s.config.GCDiscardRatio); err != nil {
					break
				}
				rewrites++
			}
			if rewrites > 0 {
				s.logger.Debug().Int("rewrites", rewrites).Msg("Value log GC completed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// collectMetrics periodically reports the database size
func (s *Storage) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()

	m := metrics.GetMetrics()

	for {
		select {
		case <-ticker.C:
			lsm, vlog := s.db.Size()
			m.StorageSize.Set(float64(lsm + vlog))
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown releases the sequence lease and closes the database
func (s *Storage) Shutdown(ctx context.Context) error {
	if err := s.seq.Release(); err != nil {
		s.logger.Error().Err(err).Msg("Error releasing insertion sequence")
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing Badger database")
		return err
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflicts with a
// linear backoff
func (s *Storage) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * conflictBackoff)
	}
	return err
}

// getRecord loads a record inside txn
func getRecord(txn *badger.Txn, id string) (*record, error) {
	item, err := txn.Get(prefixKey(prefixRecords, []byte(id)))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", notification.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to retrieve notification: %w", err)
	}

	var valueData []byte
	err = item.Value(func(val []byte) error {
		valueData = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read notification value: %w", err)
	}

	var rec record
	if err := json.Unmarshal(valueData, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	if rec.Notification == nil {
		return nil, fmt.Errorf("corrupt notification record: %s", id)
	}
	return &rec, nil
}

// putRecord writes a record inside txn
func putRecord(txn *badger.Txn, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return txn.Set(prefixKey(prefixRecords, []byte(rec.Notification.ID)), data)
}

// markRecordRead sets ReadAt on rec and drops its unread index entry
func markRecordRead(txn *badger.Txn, rec *record, at time.Time) (bool, error) {
	n := rec.Notification
	if !n.MarkRead(at) {
		return false, nil
	}
	if err := putRecord(txn, rec); err != nil {
		return false, err
	}
	if err := txn.Delete(unreadKey(n.RecipientID, n.CreatedAt, rec.Seq, n.ID)); err != nil {
		return false, fmt.Errorf("failed to drop unread index entry: %w", err)
	}
	return true, nil
}

// Create persists a new notification
func (s *Storage) Create(ctx context.Context, n *notification.Notification) (*notification.Notification, error) {
	timer := storage.StartTimer("create")
	defer timer.ObserveDuration()

	if err := storage.CheckRecord(n); err != nil {
		storage.RecordOperation("create", err)
		return nil, err
	}

	stored := storage.Prepare(n, time.Now())
	seq, err := s.seq.Next()
	if err != nil {
		storage.RecordOperation("create", err)
		return nil, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	rec := &record{Notification: stored, Seq: seq}

	err = s.update(func(txn *badger.Txn) error {
		_, err := txn.Get(prefixKey(prefixRecords, []byte(stored.ID)))
		if err == nil {
			return fmt.Errorf("notification %s already exists", stored.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check notification: %w", err)
		}

		if err := putRecord(txn, rec); err != nil {
			return err
		}
		if !stored.IsRead() {
			return txn.Set(unreadKey(stored.RecipientID, stored.CreatedAt, seq, stored.ID), nil)
		}
		return nil
	})
	storage.RecordOperation("create", err)
	if err != nil {
		return nil, err
	}

	return stored.Clone(), nil
}

// FindByID retrieves a notification by id
func (s *Storage) FindByID(ctx context.Context, id string) (*notification.Notification, error) {
	timer := storage.StartTimer("find_by_id")
	defer timer.ObserveDuration()

	var rec *record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	storage.RecordOperation("find_by_id", err)
	if err != nil {
		return nil, err
	}
	return rec.Notification, nil
}

// FindUnreadByUser walks the user's unread index newest first
func (s *Storage) FindUnreadByUser(ctx context.Context, userID string) ([]*notification.Notification, error) {
	timer := storage.StartTimer("find_unread")
	defer timer.ObserveDuration()

	result := make([]*notification.Notification, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := unreadPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the end of the prefix range for reverse iteration
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			id := idFromUnreadKey(prefix, it.Item().Key())
			rec, err := getRecord(txn, id)
			if err != nil {
				if errors.Is(err, notification.ErrNotFound) {
					s.logger.Warn().Str("id", id).Msg("Unread index entry without record")
					continue
				}
				return err
			}
			result = append(result, rec.Notification)
		}
		return nil
	})
	storage.RecordOperation("find_unread", err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CountUnread counts index entries without loading records
func (s *Storage) CountUnread(ctx context.Context, userID string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := unreadPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	storage.RecordOperation("count_unread", err)
	return count, err
}

// MarkRead sets ReadAt when unset
func (s *Storage) MarkRead(ctx context.Context, id string, at time.Time) (*notification.Notification, bool, error) {
	timer := storage.StartTimer("mark_read")
	defer timer.ObserveDuration()

	var (
		rec     *record
		changed bool
	)
	err := s.update(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		if err != nil {
			return err
		}
		changed, err = markRecordRead(txn, rec, at)
		return err
	})
	storage.RecordOperation("mark_read", err)
	if err != nil {
		return nil, false, err
	}
	return rec.Notification, changed, nil
}

// MarkAllRead marks every entry in the user's unread index. Entries are
// handled in batches, each committed in its own transaction, so a large
// backlog never exceeds badger's transaction limits.
func (s *Storage) MarkAllRead(ctx context.Context, userID string, at time.Time) ([]string, error) {
	timer := storage.StartTimer("mark_all_read")
	defer timer.ObserveDuration()

	changed := make([]string, 0)
	prefix := unreadPrefix(userID)
	for {
		batch, more, err := s.markReadBatch(prefix, at)
		if err != nil {
			storage.RecordOperation("mark_all_read", err)
			return nil, err
		}
		changed = append(changed, batch...)
		if !more {
			break
		}
	}

	storage.RecordOperation("mark_all_read", nil)
	return changed, nil
}

// markReadBatch marks up to MarkAllBatchSize index entries under prefix in
// one transaction. more reports whether entries may remain.
func (s *Storage) markReadBatch(prefix []byte, at time.Time) (changed []string, more bool, err error) {
	err = s.update(func(txn *badger.Txn) error {
		changed = changed[:0]
		more = false

		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if len(keys) == s.config.MarkAllBatchSize {
				more = true
				break
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for i, key := range keys {
			ok, err := markIndexEntryRead(txn, prefix, key, at)
			if errors.Is(err, badger.ErrTxnTooBig) && i > 0 {
				// Commit what fits; the rest is picked up by the next batch
				if ok {
					changed = append(changed, idFromUnreadKey(prefix, key))
				}
				more = true
				return nil
			}
			if err != nil {
				return err
			}
			if ok {
				changed = append(changed, idFromUnreadKey(prefix, key))
			}
		}
		return nil
	})
	return changed, more, err
}

// markIndexEntryRead marks the record behind an unread index key and drops
// the key. A key whose record is missing or already read is dropped too.
// changed stays true when only the key deletion failed.
func markIndexEntryRead(txn *badger.Txn, prefix, key []byte, at time.Time) (bool, error) {
	rec, err := getRecord(txn, idFromUnreadKey(prefix, key))
	if err != nil && !errors.Is(err, notification.ErrNotFound) {
		return false, err
	}

	changed := false
	if rec != nil && rec.Notification.MarkRead(at) {
		if err := putRecord(txn, rec); err != nil {
			return false, err
		}
		changed = true
	}
	if err := txn.Delete(key); err != nil {
		return changed, err
	}
	return changed, nil
}

// countKeys counts raw keys under prefix
func (s *Storage) countKeys(prefix []byte) int {
	count := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.Valid() && bytes.HasPrefix(it.Item().Key(), prefix); it.Next() {
			count++
		}
		return nil
	})
	return count
}
