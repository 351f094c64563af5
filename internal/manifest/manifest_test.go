package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifest_AddRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m, live, err := Open(dir)
	require.NoError(t, err)
	require.Empty(t, live)

	require.NoError(t, m.Append(Record{Op: OpAdd, FileNum: 1}))
	require.NoError(t, m.Append(Record{Op: OpAdd, FileNum: 2}))
	require.NoError(t, m.Append(Record{Op: OpAdd, FileNum: 3}))
	// コンパクション: 4 を追加してから 1, 2 を除去
	require.NoError(t, m.Append(
		Record{Op: OpAdd, FileNum: 4},
		Record{Op: OpRemove, FileNum: 1},
		Record{Op: OpRemove, FileNum: 2},
	))
	require.NoError(t, m.Close())

	m, live, err = Open(dir)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, []uint64{3, 4}, live)
}

func TestManifest_RepairTruncatesGarbageTail(t *testing.T) {
	dir := t.TempDir()

	m, _, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, m.Append(Record{Op: OpAdd, FileNum: 7}))
	require.NoError(t, m.Close())

	path := filepath.Join(dir, "MANIFEST")
	stat, err := os.Stat(path)
	require.NoError(t, err)
	validLen := stat.Size()

	// Append garbage that never went through Append (no CRC, no CURRENT update)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xba, 0xad, 0xf0, 0x0d, 0x00})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m, live, err := Open(dir)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, []uint64{7}, live)

	stat, err = os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, validLen, stat.Size(), "garbage tail should be truncated")
}

func TestManifest_CurrentBoundsReplay(t *testing.T) {
	dir := t.TempDir()

	m, _, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, m.Append(Record{Op: OpAdd, FileNum: 1}))
	require.NoError(t, m.Close())

	// Rewrite CURRENT to point before the appended record, as if the crash
	// happened between the manifest fsync and the CURRENT install.
	current := filepath.Join(dir, "CURRENT")
	require.NoError(t, os.WriteFile(current, []byte("MANIFEST 0\n"), 0644))

	m, live, err := Open(dir)
	require.NoError(t, err)
	defer m.Close()

	require.Empty(t, live, "records beyond CURRENT must be ignored")
}

func TestManifest_CorruptCurrentIsIgnored(t *testing.T) {
	dir := t.TempDir()

	m, _, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, m.Append(Record{Op: OpAdd, FileNum: 5}))
	require.NoError(t, m.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "CURRENT"), []byte("garbage"), 0644))

	m, live, err := Open(dir)
	require.NoError(t, err)
	defer m.Close()

	// CRC-valid records still load when CURRENT is unreadable
	require.Equal(t, []uint64{5}, live)
}

func TestManifest_AppendAfterReopenContinues(t *testing.T) {
	dir := t.TempDir()

	m, _, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, m.Append(Record{Op: OpAdd, FileNum: 1}))
	require.NoError(t, m.Close())

	m, _, err = Open(dir)
	require.NoError(t, err)
	require.NoError(t, m.Append(Record{Op: OpAdd, FileNum: 2}))
	require.NoError(t, m.Close())

	_, live, err := Open(dir)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, live)
}
