package memtable

import (
	"math/rand"
	"time"

	"github.com/lirlia/lsmkv/internal/entry"
)

// Skip List の最大レベル数
const MaxLevel = 16

// SkipListNode represents a node in the skip list.
type SkipListNode struct {
	Entry   *entry.Entry
	Forward []*SkipListNode
}

// SkipList is an ordered map from key to entry, keyed by lexicographic
// byte order. A tombstone is stored like any other entry; interpretation
// is up to the caller.
type SkipList struct {
	Header *SkipListNode
	Level  int
	length int
	rnd    *rand.Rand
}

// NewSkipList creates a new skip list.
func NewSkipList() *SkipList {
	header := &SkipListNode{
		Forward: make([]*SkipListNode, MaxLevel),
	}

	return &SkipList{
		Header: header,
		Level:  0,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// randomLevel generates a random level for new nodes.
func (sl *SkipList) randomLevel() int {
	level := 0
	for level < MaxLevel-1 && sl.rnd.Float32() < 0.5 {
		level++
	}
	return level
}

// Put inserts or replaces the entry for its key. The previous entry (or
// nil) is returned so the caller can maintain byte accounting.
func (sl *SkipList) Put(ent *entry.Entry) *entry.Entry {
	// update[i] は level i でのpredecessor node
	update := make([]*SkipListNode, MaxLevel)
	current := sl.Header

	// 各レベルで挿入位置を探す
	for i := sl.Level; i >= 0; i-- {
		for current.Forward[i] != nil && entry.Compare(current.Forward[i].Entry.Key, ent.Key) < 0 {
			current = current.Forward[i]
		}
		update[i] = current
	}

	current = current.Forward[0]

	// 既存のキーの場合はエントリを置き換える
	if current != nil && entry.Compare(current.Entry.Key, ent.Key) == 0 {
		prev := current.Entry
		current.Entry = ent
		return prev
	}

	newLevel := sl.randomLevel()

	if newLevel > sl.Level {
		for i := sl.Level + 1; i <= newLevel; i++ {
			update[i] = sl.Header
		}
		sl.Level = newLevel
	}

	newNode := &SkipListNode{
		Entry:   ent,
		Forward: make([]*SkipListNode, newLevel+1),
	}

	for i := 0; i <= newLevel; i++ {
		newNode.Forward[i] = update[i].Forward[i]
		update[i].Forward[i] = newNode
	}

	sl.length++
	return nil
}

// Get returns the entry stored for key, tombstones included.
func (sl *SkipList) Get(key entry.Key) (*entry.Entry, bool) {
	current := sl.Header

	for i := sl.Level; i >= 0; i-- {
		for current.Forward[i] != nil && entry.Compare(current.Forward[i].Entry.Key, key) < 0 {
			current = current.Forward[i]
		}
	}

	current = current.Forward[0]

	if current != nil && entry.Compare(current.Entry.Key, key) == 0 {
		return current.Entry, true
	}

	return nil, false
}

// Remove physically unlinks the node for key. It returns the removed entry
// (or nil). Used by the TTL sweeper to reclaim memory; logical deletion is
// a tombstone Put.
func (sl *SkipList) Remove(key entry.Key) *entry.Entry {
	update := make([]*SkipListNode, MaxLevel)
	current := sl.Header

	for i := sl.Level; i >= 0; i-- {
		for current.Forward[i] != nil && entry.Compare(current.Forward[i].Entry.Key, key) < 0 {
			current = current.Forward[i]
		}
		update[i] = current
	}

	current = current.Forward[0]
	if current == nil || entry.Compare(current.Entry.Key, key) != 0 {
		return nil
	}

	for i := 0; i <= sl.Level; i++ {
		if update[i].Forward[i] != current {
			break
		}
		update[i].Forward[i] = current.Forward[i]
	}

	// 先頭レベルが空になったら縮める
	for sl.Level > 0 && sl.Header.Forward[sl.Level] == nil {
		sl.Level--
	}

	sl.length--
	return current.Entry
}

// Len returns the number of entries, tombstones included.
func (sl *SkipList) Len() int {
	return sl.length
}

// Iterator walks the skip list in ascending key order. It exposes every
// stored entry; filtering of tombstones or expired entries is done by the
// caller.
type Iterator struct {
	current *SkipListNode
	endKey  entry.Key // exclusive; nil means unbounded
}

// NewIterator creates an iterator positioned before the first entry.
func (sl *SkipList) NewIterator() *Iterator {
	return &Iterator{current: sl.Header}
}

// NewRangeIterator creates an iterator positioned before the first entry
// with key >= startKey. Iteration stops before endKey (exclusive); a nil
// endKey means unbounded.
func (sl *SkipList) NewRangeIterator(startKey, endKey entry.Key) *Iterator {
	current := sl.Header

	if len(startKey) > 0 {
		// startKey 以上の最初のノードの手前まで進める
		for i := sl.Level; i >= 0; i-- {
			for current.Forward[i] != nil && entry.Compare(current.Forward[i].Entry.Key, startKey) < 0 {
				current = current.Forward[i]
			}
		}
	}

	return &Iterator{current: current, endKey: endKey}
}

// HasNext checks if there are more entries in the iterator.
func (it *Iterator) HasNext() bool {
	next := it.current.Forward[0]
	if next == nil {
		return false
	}
	if it.endKey != nil && entry.Compare(next.Entry.Key, it.endKey) >= 0 {
		return false
	}
	return true
}

// Next advances the iterator and returns the next entry.
func (it *Iterator) Next() (*entry.Entry, bool) {
	if !it.HasNext() {
		return nil, false
	}
	it.current = it.current.Forward[0]
	return it.current.Entry, true
}
