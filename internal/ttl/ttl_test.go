package ttl

import (
	"testing"
)

func TestIndex_PopExpiredOrder(t *testing.T) {
	ix := NewIndex()

	ix.Add([]byte("c"), 300)
	ix.Add([]byte("a"), 100)
	ix.Add([]byte("b"), 200)
	ix.Add([]byte("eternal"), 0) // 無期限は追跡しない

	if ix.Len() != 3 {
		t.Fatalf("Expected 3 tracked expirations, got %d", ix.Len())
	}

	next, ok := ix.NextExpiry()
	if !ok || next != 100 {
		t.Errorf("Expected next expiry 100, got %d (ok=%v)", next, ok)
	}

	keys := ix.PopExpired(200)
	if len(keys) != 2 {
		t.Fatalf("Expected 2 expired keys at now=200, got %d", len(keys))
	}
	if string(keys[0]) != "a" || string(keys[1]) != "b" {
		t.Errorf("Expected [a b], got [%s %s]", keys[0], keys[1])
	}

	if keys := ix.PopExpired(250); len(keys) != 0 {
		t.Errorf("Expected no expirations at now=250, got %d", len(keys))
	}

	keys = ix.PopExpired(300)
	if len(keys) != 1 || string(keys[0]) != "c" {
		t.Errorf("Expected [c] at now=300, got %v", keys)
	}

	if ix.Len() != 0 {
		t.Errorf("Expected empty index, got %d", ix.Len())
	}
}

func TestIndex_Reset(t *testing.T) {
	ix := NewIndex()
	ix.Add([]byte("a"), 100)
	ix.Add([]byte("b"), 200)

	ix.Reset()

	if ix.Len() != 0 {
		t.Errorf("Expected empty index after Reset, got %d", ix.Len())
	}
	if _, ok := ix.NextExpiry(); ok {
		t.Error("Expected no next expiry after Reset")
	}
}

func TestIndex_CopiesKeys(t *testing.T) {
	ix := NewIndex()

	key := []byte("mutable")
	ix.Add(key, 100)
	key[0] = 'X'

	keys := ix.PopExpired(100)
	if len(keys) != 1 || string(keys[0]) != "mutable" {
		t.Errorf("Index should copy keys; got %q", keys[0])
	}
}
