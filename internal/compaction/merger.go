package compaction

import (
	"container/heap"
	"fmt"

	"github.com/lirlia/lsmkv/internal/entry"
	"github.com/lirlia/lsmkv/internal/sstable"
)

type mergeItem struct {
	ent    *entry.Entry
	srcIdx int
}

// mergeHeap is a min-heap by key; within a key, higher seq surfaces first
// so the newest entry is always at the front of its key run. Seq is a
// global order across all tables, so no table-level rank is needed.
type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	cmp := entry.Compare(h[i].ent.Key, h[j].ent.Key)
	if cmp != 0 {
		return cmp < 0
	}
	return h[i].ent.Seq > h[j].ent.Seq
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) {
	*h = append(*h, x.(mergeItem))
}

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// KWayMerger merges the sorted entry streams of several SSTables into one
// ascending stream with exactly one entry per key: the one with the
// highest write sequence number.
type KWayMerger struct {
	iters []*sstable.Iterator
	heap  *mergeHeap
}

// NewKWayMerger creates a merger over the given tables. The tables' own
// iterators provide the sorted input streams.
func NewKWayMerger(tables []*sstable.Reader) *KWayMerger {
	merger := &KWayMerger{
		iters: make([]*sstable.Iterator, len(tables)),
		heap:  &mergeHeap{},
	}

	for i, table := range tables {
		merger.iters[i] = table.NewIterator()
		if ent, ok := merger.iters[i].Next(); ok {
			*merger.heap = append(*merger.heap, mergeItem{ent: ent, srcIdx: i})
		}
	}
	heap.Init(merger.heap)

	return merger
}

// HasNext returns true if there are more keys to merge.
func (m *KWayMerger) HasNext() bool {
	return m.heap.Len() > 0
}

// Next returns the winning entry for the next key.
func (m *KWayMerger) Next() (*entry.Entry, error) {
	if !m.HasNext() {
		return nil, fmt.Errorf("no more entries")
	}

	winner := m.pop()

	// 同じキーの古いエントリを読み捨てる
	for m.heap.Len() > 0 && entry.Compare((*m.heap)[0].ent.Key, winner.ent.Key) == 0 {
		m.pop()
	}

	return winner.ent, nil
}

// pop removes the heap front and refills from the iterator it came from.
func (m *KWayMerger) pop() mergeItem {
	item := heap.Pop(m.heap).(mergeItem)

	if ent, ok := m.iters[item.srcIdx].Next(); ok {
		heap.Push(m.heap, mergeItem{ent: ent, srcIdx: item.srcIdx})
	}

	return item
}

// Error returns the first iterator error encountered, if any.
func (m *KWayMerger) Error() error {
	for _, it := range m.iters {
		if err := it.Error(); err != nil {
			return err
		}
	}
	return nil
}
