package memtable

import (
	"sync"
	"time"

	"github.com/lirlia/lsmkv/internal/entry"
)

// entryOverhead is the fixed per-entry cost charged to the MemTable byte
// size on top of key and value lengths (node pointers, seq, expiry).
const entryOverhead = 32

// LookupState classifies the result of a MemTable lookup.
type LookupState int

const (
	// Absent means the MemTable holds no entry for the key. The caller
	// must keep searching older containers.
	Absent LookupState = iota
	// Present means a live value was found.
	Present
	// Tombstone means a deletion marker was found; it shadows every older
	// entry for the key, so the search stops here.
	Tombstone
	// Expired means the newest entry for the key has passed its TTL. Like
	// a tombstone it shadows older copies, so the search stops here too.
	Expired
)

// MemTable is the in-memory ordered write buffer. Entries (tombstones
// included) are kept in a skip list in lexicographic key order. Once
// sealed, a MemTable refuses writes but remains readable until its flush
// completes.
type MemTable struct {
	skipList  *SkipList
	mutex     sync.RWMutex
	size      int64
	sealed    bool
	createdAt time.Time
}

// NewMemTable creates an empty MemTable.
func NewMemTable() *MemTable {
	return &MemTable{
		skipList:  NewSkipList(),
		createdAt: time.Now(),
	}
}

// Upsert inserts or replaces the entry for ent.Key and updates the running
// byte size. The caller assigns Seq before calling. Upsert on a sealed
// MemTable returns ErrInternal: the engine must never write to the sealing
// slot.
func (mt *MemTable) Upsert(ent *entry.Entry) error {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	if mt.sealed {
		return entry.ErrInternal
	}

	prev := mt.skipList.Put(ent)
	mt.size += entrySize(ent)
	if prev != nil {
		mt.size -= entrySize(prev)
	}
	return nil
}

func entrySize(ent *entry.Entry) int64 {
	return int64(len(ent.Key)+len(ent.Value)) + entryOverhead
}

// Get looks up key. Tombstones and expired entries are reported with their
// own states so the caller knows to stop searching older containers.
func (mt *MemTable) Get(key entry.Key, now int64) (*entry.Entry, LookupState) {
	mt.mutex.RLock()
	defer mt.mutex.RUnlock()

	ent, found := mt.skipList.Get(key)
	if !found {
		return nil, Absent
	}
	if ent.Expired(now) {
		return ent, Expired
	}
	if ent.Tombstone() {
		return ent, Tombstone
	}
	return ent, Present
}

// Seal marks the MemTable read-only. Subsequent Upsert calls fail.
func (mt *MemTable) Seal() {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()
	mt.sealed = true
}

// Sealed reports whether the MemTable has been sealed.
func (mt *MemTable) Sealed() bool {
	mt.mutex.RLock()
	defer mt.mutex.RUnlock()
	return mt.sealed
}

// ByteSize returns the accounted size in bytes, tombstones included.
func (mt *MemTable) ByteSize() int64 {
	mt.mutex.RLock()
	defer mt.mutex.RUnlock()
	return mt.size
}

// Len returns the number of entries, tombstones included.
func (mt *MemTable) Len() int {
	mt.mutex.RLock()
	defer mt.mutex.RUnlock()
	return mt.skipList.Len()
}

// CreatedAt returns the creation time of the MemTable.
func (mt *MemTable) CreatedAt() time.Time {
	return mt.createdAt
}

// All returns every entry in ascending key order, tombstones and expired
// entries included. Flush uses this to produce the sorted entry stream for
// the SSTable writer.
func (mt *MemTable) All() []*entry.Entry {
	mt.mutex.RLock()
	defer mt.mutex.RUnlock()

	entries := make([]*entry.Entry, 0, mt.skipList.Len())
	it := mt.skipList.NewIterator()
	for {
		ent, ok := it.Next()
		if !ok {
			break
		}
		entries = append(entries, ent)
	}
	return entries
}

// Scan returns the live entries with startKey <= key < endKey in ascending
// order. Tombstones and entries expired at now are skipped. A nil startKey
// or endKey leaves that bound open.
func (mt *MemTable) Scan(startKey, endKey entry.Key, now int64) []*entry.Entry {
	mt.mutex.RLock()
	defer mt.mutex.RUnlock()

	var entries []*entry.Entry
	it := mt.skipList.NewRangeIterator(startKey, endKey)
	for {
		ent, ok := it.Next()
		if !ok {
			break
		}
		if ent.Tombstone() || ent.Expired(now) {
			continue
		}
		entries = append(entries, ent)
	}
	return entries
}

// Range returns every entry (tombstones included) with startKey <= key <
// endKey. The engine's merged scan needs tombstones to shadow older
// containers.
func (mt *MemTable) Range(startKey, endKey entry.Key) []*entry.Entry {
	mt.mutex.RLock()
	defer mt.mutex.RUnlock()

	var entries []*entry.Entry
	it := mt.skipList.NewRangeIterator(startKey, endKey)
	for {
		ent, ok := it.Next()
		if !ok {
			break
		}
		entries = append(entries, ent)
	}
	return entries
}

// PurgeExpired removes the entries for the given keys if they are expired
// at now. It returns the number of entries removed. Used by the background
// sweeper to reclaim memory ahead of the next flush; no-op on a sealed
// MemTable.
func (mt *MemTable) PurgeExpired(keys []entry.Key, now int64) int {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	if mt.sealed {
		return 0
	}

	removed := 0
	for _, key := range keys {
		ent, found := mt.skipList.Get(key)
		if !found || !ent.Expired(now) {
			continue
		}
		if prev := mt.skipList.Remove(key); prev != nil {
			mt.size -= entrySize(prev)
			removed++
		}
	}
	return removed
}

// Stats summarizes the MemTable for the engine's info surface.
type Stats struct {
	EntryCount int
	SizeBytes  int64
	CreatedAt  time.Time
	Age        time.Duration
	Sealed     bool
}

// GetStats returns statistics for the MemTable.
func (mt *MemTable) GetStats() Stats {
	mt.mutex.RLock()
	defer mt.mutex.RUnlock()

	return Stats{
		EntryCount: mt.skipList.Len(),
		SizeBytes:  mt.size,
		CreatedAt:  mt.createdAt,
		Age:        time.Since(mt.createdAt),
		Sealed:     mt.sealed,
	}
}
