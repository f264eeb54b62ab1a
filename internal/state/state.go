// Package state persists the engine's durable data in a bbolt database:
// the offline action queue, the sync run history ring, and lightweight
// conflict references.
package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mpcrae/boardsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second

	// runHistorySize bounds the persisted run ring.
	runHistorySize = 10
)

var (
	appBucket       = []byte("app")
	queueBucket     = []byte("queue")
	runsBucket      = []byte("runs")
	conflictsBucket = []byte("conflicts")

	lastConnectedKey = []byte("last_connected")
)

// Store wraps a bbolt database for all persistent engine state.
type Store struct {
	db *bolt.DB
}

// Open opens a state database at the given path, creating it and all
// buckets if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{appBucket, queueBucket, runsBucket, conflictsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// queueKey builds the bbolt key for a queued item. Keys sort in dequeue
// order: priority rank, then enqueue time, then sequence number, so a
// forward cursor walk yields priority-descending FIFO order directly.
func queueKey(it *models.SyncItem) []byte {
	key := make([]byte, 1+8+8)
	key[0] = byte(it.Priority.Rank())
	binary.BigEndian.PutUint64(key[1:9], uint64(it.EnqueuedAt.UnixNano()))
	binary.BigEndian.PutUint64(key[9:17], it.Seq)

	return key
}

// Enqueue persists a sync item. The item's Seq is assigned from the
// bucket sequence; EnqueuedAt is set to now if zero.
func (s *Store) Enqueue(it *models.SyncItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		it.Seq = seq
		if it.EnqueuedAt.IsZero() {
			it.EnqueuedAt = time.Now().UTC()
		}

		data, err := json.Marshal(it)
		if err != nil {
			return err
		}

		return b.Put(queueKey(it), data)
	})
}

// QueuedItems returns all queued items in dequeue order without
// removing them.
func (s *Store) QueuedItems() ([]models.SyncItem, error) {
	var items []models.SyncItem

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).ForEach(func(k, v []byte) error {
			var it models.SyncItem
			if err := json.Unmarshal(v, &it); err != nil {
				return err
			}

			items = append(items, it)

			return nil
		})
	})

	return items, err
}

// Drain removes and returns all queued items in dequeue order.
func (s *Store) Drain() ([]models.SyncItem, error) {
	var items []models.SyncItem

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket)

		if err := b.ForEach(func(k, v []byte) error {
			var it models.SyncItem
			if err := json.Unmarshal(v, &it); err != nil {
				return err
			}

			items = append(items, it)

			return nil
		}); err != nil {
			return err
		}

		for i := range items {
			if err := b.Delete(queueKey(&items[i])); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

// RemoveQueued deletes a single queued item.
func (s *Store) RemoveQueued(it *models.SyncItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).Delete(queueKey(it))
	})
}

// ClearQueue discards all queued items without attempting delivery.
func (s *Store) ClearQueue() (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket)

		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}

			removed++
		}

		return nil
	})

	return removed, err
}

// QueueLen returns the number of queued items.
func (s *Store) QueueLen() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(queueBucket).Stats().KeyN

		return nil
	})

	return count, err
}

// AppendRun records a finished run summary, trimming the history to the
// last runHistorySize entries.
func (s *Store) AppendRun(run models.SyncRun) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		data, err := json.Marshal(run)
		if err != nil {
			return err
		}

		if err := b.Put(key, data); err != nil {
			return err
		}

		// Trim oldest entries beyond the ring size. Stats are not
		// reliable mid-transaction, so count with a cursor walk.
		count := 0
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}

		excess := count - runHistorySize
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}

			excess--
		}

		return nil
	})
}

// Runs returns the retained run history, oldest first.
func (s *Store) Runs() ([]models.SyncRun, error) {
	var runs []models.SyncRun

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(k, v []byte) error {
			var run models.SyncRun
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}

			runs = append(runs, run)

			return nil
		})
	})

	return runs, err
}

// SaveConflictRef persists a lightweight conflict reference.
func (s *Store) SaveConflictRef(ref models.ConflictRef) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ref)
		if err != nil {
			return err
		}

		return tx.Bucket(conflictsBucket).Put([]byte(ref.ItemID), data)
	})
}

// DeleteConflictRef removes the reference for an item, if present.
func (s *Store) DeleteConflictRef(itemID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conflictsBucket).Delete([]byte(itemID))
	})
}

// ConflictRefs returns all persisted conflict references.
func (s *Store) ConflictRefs() ([]models.ConflictRef, error) {
	var refs []models.ConflictRef

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conflictsBucket).ForEach(func(k, v []byte) error {
			var ref models.ConflictRef
			if err := json.Unmarshal(v, &ref); err != nil {
				return err
			}

			refs = append(refs, ref)

			return nil
		})
	})

	return refs, err
}

// SetLastConnected records the time of the most recent successful connect.
func (s *Store) SetLastConnected(t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(lastConnectedKey, []byte(t.UTC().Format(time.RFC3339Nano)))
	})
}

// LastConnected returns the recorded connect time, or the zero time.
func (s *Store) LastConnected() (time.Time, error) {
	var t time.Time

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(lastConnectedKey)
		if v == nil {
			return nil
		}

		parsed, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return err
		}

		t = parsed

		return nil
	})

	return t, err
}
