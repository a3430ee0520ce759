package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	taskBucket       = "tasks"
	expiryValueBytes = 8
)

// boltStore implements a Store backed by BoltDB. Values are an 8-byte
// big-endian expiry followed by the JSON-encoded Entry.
type boltStore struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	entryTTL        time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(taskBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	store := &boltStore{
		db:              db,
		entryTTL:        opts.EntryTTL,
		cleanupInterval: opts.CleanupInterval,
		now:             time.Now,
	}
	store.lastCleanup.Store(store.now().Unix())
	return store, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Record upserts the entry and refreshes its expiry.
func (b *boltStore) Record(entry Entry) error {
	if b == nil || b.db == nil {
		return nil
	}
	entry.TaskID = strings.TrimSpace(entry.TaskID)
	if entry.TaskID == "" {
		return fmt.Errorf("task id is required")
	}

	now := b.now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(taskBucket))
		if bucket == nil {
			return fmt.Errorf("task bucket missing")
		}

		key := []byte(entry.TaskID)
		if prev, ok := decodeValue(bucket.Get(key), now); ok {
			entry = mergeEntry(prev, entry)
		}
		entry.UpdatedAt = now.UTC()

		value, err := encodeValue(entry, now.Add(b.entryTTL))
		if err != nil {
			return err
		}
		return bucket.Put(key, value)
	})
}

// Lookup returns the live entry for taskID.
func (b *boltStore) Lookup(taskID string) (Entry, bool, error) {
	if b == nil || b.db == nil {
		return Entry{}, false, nil
	}

	now := b.now()
	var (
		entry Entry
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(taskBucket))
		if bucket == nil {
			return fmt.Errorf("task bucket missing")
		}
		entry, found = decodeValue(bucket.Get([]byte(strings.TrimSpace(taskID))), now)
		return nil
	})
	return entry, found, err
}

// List returns all live entries, newest submission first.
func (b *boltStore) List() ([]Entry, error) {
	if b == nil || b.db == nil {
		return nil, nil
	}

	now := b.now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return nil, err
	}

	var entries []Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(taskBucket))
		if bucket == nil {
			return fmt.Errorf("task bucket missing")
		}
		return bucket.ForEach(func(_, v []byte) error {
			if entry, ok := decodeValue(v, now); ok {
				entries = append(entries, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return sortKey(entries[i]).After(sortKey(entries[j]))
	})
	return entries, nil
}

// maybeCleanupExpired removes expired entries on a fixed cadence to avoid unbounded growth.
func (b *boltStore) maybeCleanupExpired(now time.Time) error {
	if b == nil || b.db == nil {
		return nil
	}

	last := time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	last = time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(taskBucket))
		if bucket == nil {
			return fmt.Errorf("task bucket missing")
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			expiry, ok := decodeExpiry(v)
			if !ok || !expiry.After(now) {
				if err := cursor.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		b.lastCleanup.Store(now.Unix())
	}
	return err
}

func mergeEntry(prev, next Entry) Entry {
	if next.TaskType == "" {
		next.TaskType = prev.TaskType
	}
	if next.Priority == "" {
		next.Priority = prev.Priority
	}
	if next.Status == "" {
		next.Status = prev.Status
	}
	if next.SubmittedAt.IsZero() {
		next.SubmittedAt = prev.SubmittedAt
	}
	return next
}

func sortKey(e Entry) time.Time {
	if !e.SubmittedAt.IsZero() {
		return e.SubmittedAt
	}
	return e.UpdatedAt
}

func encodeValue(entry Entry, expiry time.Time) ([]byte, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	buf := make([]byte, expiryValueBytes, expiryValueBytes+len(payload))
	binary.BigEndian.PutUint64(buf, uint64(expiry.Unix()))
	return append(buf, payload...), nil
}

// decodeValue returns the entry if value is well-formed and not expired at now.
func decodeValue(value []byte, now time.Time) (Entry, bool) {
	expiry, ok := decodeExpiry(value)
	if !ok || !expiry.After(now) {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(value[expiryValueBytes:], &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}

// decodeExpiry decodes the expiry time from the stored byte slice.
func decodeExpiry(value []byte) (time.Time, bool) {
	if len(value) < expiryValueBytes {
		return time.Time{}, false
	}
	unix := int64(binary.BigEndian.Uint64(value[:expiryValueBytes]))
	if unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
