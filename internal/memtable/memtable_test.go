package memtable

import (
	"testing"
	"time"

	"github.com/lirlia/lsmkv/internal/entry"
)

func TestMemTable_BasicOperations(t *testing.T) {
	mt := NewMemTable()
	now := time.Now().Unix()

	err := mt.Upsert(&entry.Entry{Key: []byte("test_key"), Value: []byte("test_value"), Kind: entry.KindPut, Seq: 1})
	if err != nil {
		t.Fatalf("Unexpected error during Upsert: %v", err)
	}

	ent, state := mt.Get([]byte("test_key"), now)
	if state != Present {
		t.Fatalf("Expected Present, got %v", state)
	}
	if string(ent.Value) != "test_value" {
		t.Errorf("Expected value test_value, got %s", ent.Value)
	}

	if _, state := mt.Get([]byte("missing"), now); state != Absent {
		t.Errorf("Expected Absent for missing key, got %v", state)
	}
}

func TestMemTable_TombstoneIsFirstClass(t *testing.T) {
	mt := NewMemTable()
	now := time.Now().Unix()

	mt.Upsert(&entry.Entry{Key: []byte("k"), Value: []byte("v"), Kind: entry.KindPut, Seq: 1})
	mt.Upsert(&entry.Entry{Key: []byte("k"), Kind: entry.KindTombstone, Seq: 2})

	ent, state := mt.Get([]byte("k"), now)
	if state != Tombstone {
		t.Fatalf("Expected Tombstone, got %v", state)
	}
	if ent.Seq != 2 {
		t.Errorf("Expected tombstone seq 2, got %d", ent.Seq)
	}

	// Tombstones occupy space and appear in the flush stream
	if mt.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", mt.Len())
	}
	all := mt.All()
	if len(all) != 1 || !all[0].Tombstone() {
		t.Error("All() should include the tombstone")
	}

	// ...but are invisible to Scan
	if got := mt.Scan(nil, nil, now); len(got) != 0 {
		t.Errorf("Scan should skip tombstones, got %d entries", len(got))
	}
}

func TestMemTable_SizeAccounting(t *testing.T) {
	mt := NewMemTable()

	if mt.ByteSize() != 0 {
		t.Errorf("Expected initial size 0, got %d", mt.ByteSize())
	}

	mt.Upsert(&entry.Entry{Key: []byte("test_key"), Value: []byte("test_value"), Kind: entry.KindPut, Seq: 1})
	expected := int64(len("test_key")+len("test_value")) + entryOverhead
	if mt.ByteSize() != expected {
		t.Errorf("Expected size %d, got %d", expected, mt.ByteSize())
	}

	// Replacing a key accounts the delta, not the sum
	mt.Upsert(&entry.Entry{Key: []byte("test_key"), Value: []byte("longer_test_value"), Kind: entry.KindPut, Seq: 2})
	expected = int64(len("test_key")+len("longer_test_value")) + entryOverhead
	if mt.ByteSize() != expected {
		t.Errorf("Expected size %d after update, got %d", expected, mt.ByteSize())
	}
	if mt.Len() != 1 {
		t.Errorf("Expected 1 entry after update, got %d", mt.Len())
	}
}

func TestMemTable_TTL(t *testing.T) {
	mt := NewMemTable()
	now := time.Now().Unix()

	mt.Upsert(&entry.Entry{Key: []byte("eternal"), Value: []byte("v"), Kind: entry.KindPut, Seq: 1})
	mt.Upsert(&entry.Entry{Key: []byte("fresh"), Value: []byte("v"), Kind: entry.KindPut, Seq: 2, ExpiresAt: now + 100})
	mt.Upsert(&entry.Entry{Key: []byte("stale"), Value: []byte("v"), Kind: entry.KindPut, Seq: 3, ExpiresAt: now - 1})

	if _, state := mt.Get([]byte("eternal"), now); state != Present {
		t.Errorf("Expected eternal Present, got %v", state)
	}
	if _, state := mt.Get([]byte("fresh"), now); state != Present {
		t.Errorf("Expected fresh Present, got %v", state)
	}
	if _, state := mt.Get([]byte("stale"), now); state != Expired {
		t.Errorf("Expected stale Expired, got %v", state)
	}

	got := mt.Scan(nil, nil, now)
	if len(got) != 2 {
		t.Fatalf("Scan should skip expired entries, got %d", len(got))
	}
}

func TestMemTable_PurgeExpired(t *testing.T) {
	mt := NewMemTable()
	now := time.Now().Unix()

	mt.Upsert(&entry.Entry{Key: []byte("stale"), Value: []byte("v"), Kind: entry.KindPut, Seq: 1, ExpiresAt: now - 1})
	mt.Upsert(&entry.Entry{Key: []byte("fresh"), Value: []byte("v"), Kind: entry.KindPut, Seq: 2, ExpiresAt: now + 100})

	removed := mt.PurgeExpired([]entry.Key{[]byte("stale"), []byte("fresh"), []byte("missing")}, now)
	if removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}
	if mt.Len() != 1 {
		t.Errorf("Expected 1 entry left, got %d", mt.Len())
	}
	if _, state := mt.Get([]byte("fresh"), now); state != Present {
		t.Error("fresh should survive the purge")
	}
}

func TestMemTable_SealRefusesWrites(t *testing.T) {
	mt := NewMemTable()
	now := time.Now().Unix()

	mt.Upsert(&entry.Entry{Key: []byte("k"), Value: []byte("v"), Kind: entry.KindPut, Seq: 1})
	mt.Seal()

	if !mt.Sealed() {
		t.Error("Expected Sealed() after Seal")
	}

	err := mt.Upsert(&entry.Entry{Key: []byte("k2"), Value: []byte("v2"), Kind: entry.KindPut, Seq: 2})
	if err == nil {
		t.Fatal("Expected error writing to sealed MemTable")
	}

	// Sealed MemTable remains readable
	if _, state := mt.Get([]byte("k"), now); state != Present {
		t.Error("Sealed MemTable should still serve reads")
	}
}

func TestMemTable_RangeIncludesTombstones(t *testing.T) {
	mt := NewMemTable()

	mt.Upsert(&entry.Entry{Key: []byte("a"), Value: []byte("1"), Kind: entry.KindPut, Seq: 1})
	mt.Upsert(&entry.Entry{Key: []byte("b"), Kind: entry.KindTombstone, Seq: 2})
	mt.Upsert(&entry.Entry{Key: []byte("c"), Value: []byte("3"), Kind: entry.KindPut, Seq: 3})

	ents := mt.Range([]byte("a"), []byte("c"))
	if len(ents) != 2 {
		t.Fatalf("Expected 2 entries in [a, c), got %d", len(ents))
	}
	if string(ents[0].Key) != "a" || string(ents[1].Key) != "b" {
		t.Errorf("Unexpected keys: %q, %q", ents[0].Key, ents[1].Key)
	}
	if !ents[1].Tombstone() {
		t.Error("Range should include tombstones")
	}
}
