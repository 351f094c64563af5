package lsmkv

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T, dir string) *DB {
	t.Helper()

	opts := DefaultOptions(dir)
	opts.CompactionInterval = 0
	opts.TTLSweepInterval = 0

	db, err := Open(opts)
	require.NoError(t, err)
	return db
}

func TestDB_BasicRoundTrip(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))

	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	_, err = db.Get([]byte("c"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Delete([]byte("a")))
	_, err = db.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDB_DurabilityAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db := openDB(t, dir)
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key_%02d", i)), []byte(fmt.Sprintf("v%d", i))))
	}
	require.NoError(t, db.Close())

	db = openDB(t, dir)
	defer db.Close()

	for i := 0; i < n; i++ {
		v, err := db.Get([]byte(fmt.Sprintf("key_%02d", i)))
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("v%d", i)), v)
	}
}

func TestDB_PutWithTTL(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()

	require.ErrorIs(t, db.PutWithTTL([]byte("k"), []byte("v"), 0), ErrInvalidArgument)
	require.ErrorIs(t, db.PutWithTTL([]byte("k"), []byte("v"), -time.Second), ErrInvalidArgument)

	require.NoError(t, db.PutWithTTL([]byte("k"), []byte("v"), time.Hour))
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestDB_ScanIsOrdered(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()

	for _, k := range []string{"delta", "alpha", "charlie", "bravo"} {
		require.NoError(t, db.Put([]byte(k), []byte("v")))
	}

	pairs, err := db.Scan(nil, nil)
	require.NoError(t, err)

	var keys []string
	for _, p := range pairs {
		keys = append(keys, string(p.Key))
	}
	require.Equal(t, []string{"alpha", "bravo", "charlie", "delta"}, keys)
}

func TestDB_SingleOwner(t *testing.T) {
	dir := t.TempDir()

	db := openDB(t, dir)
	defer db.Close()

	opts := DefaultOptions(dir)
	_, err := Open(opts)
	require.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestDB_MetricsAndCollector(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	_, err := db.Get([]byte("k"))
	require.NoError(t, err)
	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	snap := db.Metrics()
	require.Equal(t, uint64(1), snap.Puts)
	require.Equal(t, uint64(2), snap.Gets)
	require.Equal(t, uint64(1), snap.GetHits)
	require.Equal(t, uint64(1), snap.GetMisses)

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(db.Collector()))
	families, err := registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestDB_FlushAndCompact(t *testing.T) {
	dir := t.TempDir()

	opts := DefaultOptions(dir)
	opts.CompactionInterval = 0
	opts.TTLSweepInterval = 0
	opts.CompactionFilesPerTier = 2

	db, err := Open(opts)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Flush())
	require.NoError(t, db.Put([]byte("b"), []byte("2")))
	require.NoError(t, db.Flush())

	require.Equal(t, 2, db.Stats().SSTableCount)
	require.NoError(t, db.Compact())
	require.Equal(t, 1, db.Stats().SSTableCount)

	for _, k := range []string{"a", "b"} {
		_, err := db.Get([]byte(k))
		require.NoError(t, err)
	}
}
