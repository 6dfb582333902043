package archive

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketTasks = []byte("tasks")
	bucketIndex = []byte("index")
)

// BoltArchiver stores archived tasks in a bbolt file. Tasks are keyed by a
// big-endian bucket sequence so a cursor walk yields insertion order; a second
// bucket maps task ids to their sequence key.
type BoltArchiver struct {
	db     *bolt.DB
	closed atomic.Bool
}

// BoltConfig holds bbolt archive configuration.
type BoltConfig struct {
	// Path of the database file. Created if missing.
	Path string

	// OpenTimeout bounds waiting for the file lock held by another process.
	// Default: 5 seconds
	OpenTimeout time.Duration
}

// DefaultBoltConfig returns configuration with sensible defaults.
func DefaultBoltConfig() BoltConfig {
	return BoltConfig{
		Path:        "tasks.db",
		OpenTimeout: 5 * time.Second,
	}
}

// NewBoltArchiver opens or creates the archive file.
func NewBoltArchiver(cfg BoltConfig) (*BoltArchiver, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt archive path required")
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBoltConfig().OpenTimeout
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt archive: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTasks); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketIndex)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bolt buckets: %w", err)
	}

	return &BoltArchiver{db: db}, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// AddTask appends a task.
func (a *BoltArchiver) AddTask(ctx context.Context, task ArchivedTask) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if err := task.Validate(); err != nil {
		return err
	}

	return a.db.Update(func(tx *bolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		index := tx.Bucket(bucketIndex)

		if index.Get([]byte(task.ID)) != nil {
			return ErrDuplicateTask
		}
		seq, err := tasks.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		data, err := encodeRecord(task, seq)
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := tasks.Put(key, data); err != nil {
			return err
		}
		return index.Put([]byte(task.ID), key)
	})
}

// RemoveTask deletes a task by id.
func (a *BoltArchiver) RemoveTask(ctx context.Context, id string) error {
	if a.closed.Load() {
		return ErrClosed
	}

	return a.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketIndex)
		key := index.Get([]byte(id))
		if key == nil {
			return nil
		}
		if err := tx.Bucket(bucketTasks).Delete(key); err != nil {
			return err
		}
		return index.Delete([]byte(id))
	})
}

// LoadAllTasks returns every archived task in insertion order. Undecodable
// records are deleted.
func (a *BoltArchiver) LoadAllTasks(ctx context.Context) ([]ArchivedTask, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}

	var (
		out     []ArchivedTask
		corrupt [][]byte
		errs    []error
	)
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			task, _, err := decodeRecord(v)
			if err != nil {
				corrupt = append(corrupt, append([]byte(nil), k...))
				errs = append(errs, fmt.Errorf("record %x: %w", k, err))
				return nil
			}
			out = append(out, task)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if len(corrupt) > 0 {
		if err := a.deleteRecords(corrupt); err != nil {
			errs = append(errs, fmt.Errorf("delete corrupt records: %w", err))
		}
	}
	return out, corruptRecords(errs)
}

// deleteRecords removes records by sequence key together with any index
// entries pointing at them.
func (a *BoltArchiver) deleteRecords(keys [][]byte) error {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[string(k)] = true
	}

	return a.db.Update(func(tx *bolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		for _, k := range keys {
			if err := tasks.Delete(k); err != nil {
				return err
			}
		}

		index := tx.Bucket(bucketIndex)
		var stale [][]byte
		err := index.ForEach(func(id, key []byte) error {
			if drop[string(key)] {
				stale = append(stale, append([]byte(nil), id...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range stale {
			if err := index.Delete(id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database file.
func (a *BoltArchiver) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.db.Close()
}
