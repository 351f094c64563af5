package ttl

import (
	"container/heap"
	"sync"
)

// Index tracks entry expirations beside the MemTable. It is a min-heap
// ordered by expiry timestamp, so the earliest expiration is always at the
// front. The index is advisory: a popped key may have been re-written with
// a later expiry in the meantime, so consumers re-check the authoritative
// container before acting.
type Index struct {
	mu   sync.Mutex
	heap expiryHeap
}

type item struct {
	expiresAt int64
	key       []byte
}

type expiryHeap []item

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expiresAt < h[j].expiresAt }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(item)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// NewIndex creates an empty TTL index.
func NewIndex() *Index {
	return &Index{}
}

// Add records that key expires at expiresAt (unix seconds). A zero
// expiresAt is ignored.
func (ix *Index) Add(key []byte, expiresAt int64) {
	if expiresAt == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	k := make([]byte, len(key))
	copy(k, key)
	heap.Push(&ix.heap, item{expiresAt: expiresAt, key: k})
}

// PopExpired removes and returns the keys whose recorded expiry is at or
// before now. Returned keys may be stale; callers re-check before purging.
func (ix *Index) PopExpired(now int64) [][]byte {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var keys [][]byte
	for ix.heap.Len() > 0 && ix.heap[0].expiresAt <= now {
		it := heap.Pop(&ix.heap).(item)
		keys = append(keys, it.key)
	}
	return keys
}

// NextExpiry returns the earliest recorded expiry, if any.
func (ix *Index) NextExpiry() (int64, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.heap.Len() == 0 {
		return 0, false
	}
	return ix.heap[0].expiresAt, true
}

// Len returns the number of tracked expirations.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.heap.Len()
}

// Reset drops all tracked expirations. Called when the MemTable the index
// shadows is flushed and replaced.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.heap = ix.heap[:0]
}
