// Package lsmkv is the public surface of the storage engine: an embedded,
// single-node, ordered key-value store built on an LSM tree. A DB handle is
// safe for concurrent use from any number of goroutines; sharing the
// pointer is O(1) and duplicates no state. Reads run concurrently with each
// other, writes are serialized, and each read observes a consistent
// snapshot of the MemTable and SSTable set.
package lsmkv

import (
	"time"

	"github.com/lirlia/lsmkv/internal/engine"
	"github.com/lirlia/lsmkv/internal/entry"
	"github.com/lirlia/lsmkv/internal/metrics"
)

// Options is re-exported engine configuration.
type Options = engine.Config

// MetricsSnapshot is a point-in-time copy of the engine counters.
type MetricsSnapshot = metrics.Snapshot

// Stats describes the engine's current shape.
type Stats = engine.Stats

// KV is one key-value pair returned by Scan.
type KV = engine.KV

// Sentinel errors surfaced at the API boundary.
var (
	ErrNotFound        = entry.ErrNotFound
	ErrInvalidArgument = entry.ErrInvalidArgument
	ErrAlreadyOpen     = entry.ErrAlreadyOpen
	ErrClosed          = entry.ErrClosed
)

// DB is a shared-ownership handle over the engine.
type DB struct {
	engine *engine.Engine
}

// DefaultOptions returns the default configuration for dataDir.
func DefaultOptions(dataDir string) Options {
	return engine.DefaultConfig(dataDir)
}

// Open opens (or creates) a store in opts.DataDir, recovering any state a
// previous run left behind. Only one DB may own a data directory at a
// time.
func Open(opts Options) (*DB, error) {
	e, err := engine.Open(opts)
	if err != nil {
		return nil, err
	}
	return &DB{engine: e}, nil
}

// Put stores key → value. The write is durable when Put returns.
func (db *DB) Put(key, value []byte) error {
	return db.engine.Put(key, value, 0)
}

// PutWithTTL stores key → value and expires it ttl from now. After the
// expiry the key reads as absent.
func (db *DB) PutWithTTL(key, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidArgument
	}
	return db.engine.Put(key, value, time.Now().Add(ttl).Unix())
}

// Get returns the value for key, or ErrNotFound if the key is absent,
// deleted, or expired.
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.engine.Get(key)
}

// Delete removes key. Deleting an absent key succeeds.
func (db *DB) Delete(key []byte) error {
	return db.engine.Delete(key)
}

// Scan returns the live pairs with start <= key < end in ascending key
// order. Nil bounds are open; Scan(nil, nil) walks the whole store.
func (db *DB) Scan(start, end []byte) ([]KV, error) {
	return db.engine.Scan(start, end)
}

// Flush forces the MemTable to an SSTable.
func (db *DB) Flush() error {
	return db.engine.Flush()
}

// Compact forces one compaction cycle.
func (db *DB) Compact() error {
	return db.engine.Compact()
}

// Metrics returns a snapshot of the engine's operation counters.
func (db *DB) Metrics() MetricsSnapshot {
	return db.engine.Metrics()
}

// Collector returns a prometheus.Collector over the engine's counters so a
// host process can register the store with its own registry.
func (db *DB) Collector() *metrics.Collector {
	return db.engine.Collector()
}

// Stats returns statistics about the engine.
func (db *DB) Stats() Stats {
	return db.engine.Stats()
}

// Close flushes pending data and releases the data directory.
func (db *DB) Close() error {
	return db.engine.Close()
}
