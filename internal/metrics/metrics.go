package metrics

import (
	"sync/atomic"
)

// Metrics holds the engine's operation counters. All updates are lock-free
// atomic additions so the hot paths never block; Snapshot is O(1).
type Metrics struct {
	Puts         atomic.Uint64
	Gets         atomic.Uint64
	Deletes      atomic.Uint64
	GetHits      atomic.Uint64
	GetMisses    atomic.Uint64
	BytesWritten atomic.Uint64
	BytesRead    atomic.Uint64
	Flushes      atomic.Uint64
	Compactions  atomic.Uint64
	WALFsyncs    atomic.Uint64
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Puts         uint64
	Gets         uint64
	Deletes      uint64
	GetHits      uint64
	GetMisses    uint64
	BytesWritten uint64
	BytesRead    uint64
	Flushes      uint64
	Compactions  uint64
	WALFsyncs    uint64
}

// New creates a zeroed metrics set.
func New() *Metrics {
	return &Metrics{}
}

// Snapshot reads every counter once and returns the copy.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Puts:         m.Puts.Load(),
		Gets:         m.Gets.Load(),
		Deletes:      m.Deletes.Load(),
		GetHits:      m.GetHits.Load(),
		GetMisses:    m.GetMisses.Load(),
		BytesWritten: m.BytesWritten.Load(),
		BytesRead:    m.BytesRead.Load(),
		Flushes:      m.Flushes.Load(),
		Compactions:  m.Compactions.Load(),
		WALFsyncs:    m.WALFsyncs.Load(),
	}
}
