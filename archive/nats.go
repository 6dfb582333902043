package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const natsKeyPrefix = "task."

// NATSArchiver stores archived tasks in a NATS JetStream KV bucket.
// Load order follows the KV revision of each entry, which JetStream assigns
// monotonically per bucket.
type NATSArchiver struct {
	kv     jetstream.KeyValue
	config NATSArchiverConfig
	closed atomic.Bool
}

// NATSArchiverConfig holds NATS archive configuration.
type NATSArchiverConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	Bucket string

	// History is the number of revisions to keep per key.
	// Default: 1
	History int

	// MaxValueSize is the maximum value size in bytes.
	// Default: 1MB
	MaxValueSize int32

	// OpTimeout bounds each KV round trip.
	// Default: 5 seconds
	OpTimeout time.Duration
}

// DefaultNATSArchiverConfig returns configuration with sensible defaults.
func DefaultNATSArchiverConfig() NATSArchiverConfig {
	return NATSArchiverConfig{
		Bucket:       "mediatorkit-tasks",
		History:      1,
		MaxValueSize: 1024 * 1024,
		OpTimeout:    5 * time.Second,
	}
}

// NewNATSArchiver creates or binds the KV bucket.
func NewNATSArchiver(cfg NATSArchiverConfig) (*NATSArchiver, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	def := DefaultNATSArchiverConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = def.Bucket
	}
	if cfg.History <= 0 {
		cfg.History = def.History
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		History:      uint8(cfg.History),
		MaxValueSize: cfg.MaxValueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return &NATSArchiver{kv: kv, config: cfg}, nil
}

func natsKey(id string) string { return natsKeyPrefix + id }

// AddTask appends a task.
func (a *NATSArchiver) AddTask(ctx context.Context, task ArchivedTask) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if err := task.Validate(); err != nil {
		return err
	}

	data, err := encodeRecord(task, 0)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.OpTimeout)
	defer cancel()

	if _, err := a.kv.Create(ctx, natsKey(task.ID), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return ErrDuplicateTask
		}
		return fmt.Errorf("kv create: %w", err)
	}
	return nil
}

// RemoveTask deletes a task by id.
func (a *NATSArchiver) RemoveTask(ctx context.Context, id string) error {
	if a.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.OpTimeout)
	defer cancel()

	err := a.kv.Purge(ctx, natsKey(id))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv purge: %w", err)
	}
	return nil
}

// LoadAllTasks returns every archived task ordered by KV revision.
// Undecodable records are purged.
func (a *NATSArchiver) LoadAllTasks(ctx context.Context) ([]ArchivedTask, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, 2*a.config.OpTimeout)
	defer cancel()

	lister, err := a.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer lister.Stop()

	type entry struct {
		task     ArchivedTask
		revision uint64
	}
	var (
		entries []entry
		errs    []error
	)
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, natsKeyPrefix) {
			continue
		}
		kve, err := a.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("kv get %s: %w", key, err)
		}
		task, _, err := decodeRecord(kve.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("key %s: %w", key, err))
			if err := a.kv.Purge(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
				errs = append(errs, fmt.Errorf("kv purge %s: %w", key, err))
			}
			continue
		}
		entries = append(entries, entry{task: task, revision: kve.Revision()})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].revision < entries[j].revision })

	out := make([]ArchivedTask, len(entries))
	for i, e := range entries {
		out[i] = e.task
	}
	return out, corruptRecords(errs)
}

// Close stops using the bucket. The NATS connection stays open; it belongs to
// the caller.
func (a *NATSArchiver) Close() error {
	a.closed.Store(true)
	return nil
}
