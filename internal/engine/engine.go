package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lirlia/lsmkv/internal/compaction"
	"github.com/lirlia/lsmkv/internal/entry"
	"github.com/lirlia/lsmkv/internal/manifest"
	"github.com/lirlia/lsmkv/internal/memtable"
	"github.com/lirlia/lsmkv/internal/metrics"
	"github.com/lirlia/lsmkv/internal/sstable"
	"github.com/lirlia/lsmkv/internal/ttl"
	"github.com/lirlia/lsmkv/internal/wal"
)

const (
	walDirName  = "wal"
	sstDirName  = "sst"
	lockName    = "LOCK"
)

// Engine is the LSM-tree storage engine. It owns the MemTables, WAL,
// manifest and SSTable set, and arbitrates access with a reader/writer
// lock: many concurrent readers or one writer. All state lives inside the
// instance; one engine owns a data directory at a time, enforced by a lock
// file.
type Engine struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	closed  bool
	active  *memtable.MemTable
	sealing *memtable.MemTable
	// sealingWAL is the retired WAL segment backing the sealing MemTable;
	// it is unlinked once that MemTable's SSTable is durably installed.
	sealingWAL string
	tables     []*sstable.Reader
	wal        *wal.WAL
	manifest   *manifest.Manifest
	ttlIndex   *ttl.Index
	compacting bool

	seq         atomic.Uint64
	nextFileNum uint64

	done chan struct{}
	bg   sync.WaitGroup
}

// Open opens (or creates) the engine in config.DataDir, performing crash
// recovery: the manifest is repaired and loaded, live SSTables are opened,
// the write sequence is recovered from their footers, and WAL segments are
// replayed — older segments are flushed straight to SSTables, the newest
// becomes the active MemTable.
func Open(config Config) (*Engine, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.fillDefaults()

	walDir := filepath.Join(config.DataDir, walDirName)
	sstDir := filepath.Join(config.DataDir, sstDirName)
	for _, dir := range []string{config.DataDir, walDir, sstDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if err := acquireLock(config.DataDir); err != nil {
		return nil, err
	}

	e := &Engine{
		config:   config,
		logger:   config.Logger,
		metrics:  metrics.New(),
		active:   memtable.NewMemTable(),
		ttlIndex: ttl.NewIndex(),
		done:     make(chan struct{}),
	}

	man, liveNums, err := manifest.Open(config.DataDir)
	if err != nil {
		releaseLock(config.DataDir)
		return nil, err
	}
	e.manifest = man

	if err := e.recover(walDir, sstDir, liveNums); err != nil {
		man.Close()
		releaseLock(config.DataDir)
		return nil, err
	}

	e.startBackground()

	e.logger.Info("engine opened",
		"data_dir", config.DataDir,
		"sstables", len(e.tables),
		"memtable_entries", e.active.Len(),
		"next_seq", e.seq.Load()+1)

	return e, nil
}

// acquireLock creates the LOCK file exclusively. Its presence means some
// engine owns the directory.
func acquireLock(dataDir string) error {
	path := filepath.Join(dataDir, lockName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return entry.ErrAlreadyOpen
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer file.Close()

	_, err = fmt.Fprintf(file, "%s %d\n", uuid.NewString(), os.Getpid())
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

func releaseLock(dataDir string) {
	os.Remove(filepath.Join(dataDir, lockName))
}

// recover rebuilds the in-memory state from the manifest, SSTables and WAL.
func (e *Engine) recover(walDir, sstDir string, liveNums []uint64) error {
	if err := e.removeOrphans(sstDir, liveNums); err != nil {
		return err
	}

	if err := e.openTables(sstDir, liveNums); err != nil {
		return err
	}

	var maxSeq uint64
	e.nextFileNum = 1
	for _, table := range e.tables {
		if s := table.Metadata().MaxSeq; s > maxSeq {
			maxSeq = s
		}
		if table.FileNum() >= e.nextFileNum {
			e.nextFileNum = table.FileNum() + 1
		}
	}
	e.seq.Store(maxSeq)

	if err := e.replayWAL(walDir); err != nil {
		return err
	}

	w, err := wal.Open(walDir, e.config.SyncOnWrite)
	if err != nil {
		return err
	}
	e.wal = w

	return nil
}

// removeOrphans unlinks SSTable files that are not in the manifest's live
// set: flush or compaction outputs whose installation never committed.
func (e *Engine) removeOrphans(sstDir string, liveNums []uint64) error {
	live := make(map[uint64]bool, len(liveNums))
	for _, num := range liveNums {
		live[num] = true
	}

	entries, err := os.ReadDir(sstDir)
	if err != nil {
		return fmt.Errorf("failed to read SSTable directory: %w", err)
	}

	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		num, err := sstable.ParseFileName(ent.Name())
		if err != nil {
			continue
		}
		if live[num] {
			continue
		}
		path := filepath.Join(sstDir, ent.Name())
		e.logger.Warn("removing uncommitted sstable", "path", path)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove orphan SSTable: %w", err)
		}
	}
	return nil
}

// openTables opens every live SSTable concurrently. A corrupt footer fails
// the open: the engine never silently drops data files.
func (e *Engine) openTables(sstDir string, liveNums []uint64) error {
	readers := make([]*sstable.Reader, len(liveNums))

	var g errgroup.Group
	for i, num := range liveNums {
		i, num := i, num
		g.Go(func() error {
			reader, err := sstable.Open(filepath.Join(sstDir, sstable.FileName(num)))
			if err != nil {
				return err
			}
			readers[i] = reader
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, r := range readers {
			if r != nil {
				r.Release()
			}
		}
		return err
	}

	sort.Slice(readers, func(i, j int) bool { return readers[i].FileNum() < readers[j].FileNum() })
	e.tables = readers
	return nil
}

// replayWAL applies the WAL segments left over from the previous run.
// Older segments represent MemTables whose flush never completed: they are
// flushed straight to SSTables here. The newest segment is replayed into
// the fresh active MemTable and stays the live segment.
func (e *Engine) replayWAL(walDir string) error {
	segs, err := wal.Segments(walDir)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return nil
	}

	for _, seg := range segs[:len(segs)-1] {
		mt := memtable.NewMemTable()
		if err := e.replaySegment(seg.Path, mt, nil); err != nil {
			return err
		}
		if mt.Len() > 0 {
			if _, err := e.installTable(mt); err != nil {
				return err
			}
		}
		if err := os.Remove(seg.Path); err != nil {
			return fmt.Errorf("failed to remove replayed WAL segment: %w", err)
		}
	}

	newest := segs[len(segs)-1]
	if err := e.replaySegment(newest.Path, e.active, e.ttlIndex); err != nil {
		return err
	}
	if e.active.Len() > 0 {
		e.logger.Info("recovered memtable from WAL", "segment", newest.Path, "entries", e.active.Len())
	}
	return nil
}

// replaySegment re-applies one WAL segment in file order, re-establishing
// seq order by assigning fresh sequence numbers.
func (e *Engine) replaySegment(path string, mt *memtable.MemTable, ttlIndex *ttl.Index) error {
	return wal.Replay(path, func(rec wal.Record) error {
		ent := &entry.Entry{
			Key:       rec.Key,
			Value:     rec.Value,
			Kind:      entry.KindPut,
			Seq:       e.seq.Add(1),
			ExpiresAt: rec.ExpiresAt,
		}
		if rec.Op == wal.OpDelete {
			ent.Kind = entry.KindTombstone
			ent.Value = nil
		}
		if err := mt.Upsert(ent); err != nil {
			return err
		}
		if ttlIndex != nil {
			ttlIndex.Add(rec.Key, rec.ExpiresAt)
		}
		return nil
	})
}

// installTable writes mt's sorted entries to a new SSTable, opens it, and
// records it in the manifest. Caller holds the write lock (or is in Open).
func (e *Engine) installTable(mt *memtable.MemTable) (*sstable.Reader, error) {
	num := e.nextFileNum
	path := e.sstPath(num)

	writer, err := sstable.NewWriter(path, sstable.WriterOptions{
		ExpectedEntries:   e.config.BloomExpectedEntriesPerSSTable,
		FalsePositiveRate: e.config.BloomFalsePositiveRate,
		IndexStride:       e.config.SSTableIndexStride,
	})
	if err != nil {
		return nil, err
	}

	for _, ent := range mt.All() {
		if err := writer.Append(ent); err != nil {
			writer.Abort()
			return nil, err
		}
	}

	written, err := writer.Finish()
	if err != nil {
		return nil, err
	}

	reader, err := sstable.Open(path)
	if err != nil {
		return nil, err
	}

	if err := e.manifest.Append(manifest.Record{Op: manifest.OpAdd, FileNum: num}); err != nil {
		reader.Release()
		return nil, err
	}

	e.nextFileNum++
	e.tables = append(e.tables, reader)
	e.metrics.Flushes.Add(1)
	e.metrics.BytesWritten.Add(uint64(written))

	e.logger.Info("flushed memtable to sstable",
		"path", path, "entries", mt.Len(), "bytes", written)

	return reader, nil
}

func (e *Engine) sstPath(num uint64) string {
	return filepath.Join(e.config.DataDir, sstDirName, sstable.FileName(num))
}

// Put stores key → value. A zero expiresAt means no TTL. The record is
// durable in the WAL before the MemTable is touched.
func (e *Engine) Put(key, value []byte, expiresAt int64) error {
	if err := entry.ValidateKey(key); err != nil {
		return err
	}
	if uint64(len(value)) > entry.MaxValueLen {
		return entry.ErrInvalidArgument
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return entry.ErrClosed
	}

	rec := wal.Record{Op: wal.OpPut, Key: key, Value: value}
	if expiresAt != 0 {
		rec.Op = wal.OpPutTTL
		rec.ExpiresAt = expiresAt
	}

	n, err := e.wal.Append(rec)
	if err != nil {
		return err
	}
	e.metrics.BytesWritten.Add(uint64(n))
	if e.config.SyncOnWrite {
		e.metrics.WALFsyncs.Add(1)
	}

	ent := &entry.Entry{
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
		Kind:      entry.KindPut,
		Seq:       e.seq.Add(1),
		ExpiresAt: expiresAt,
	}
	if err := e.active.Upsert(ent); err != nil {
		return err
	}
	e.ttlIndex.Add(key, expiresAt)
	e.metrics.Puts.Add(1)

	return e.maybeFlushLocked()
}

// Delete writes a tombstone for key. Deleting an absent key is not an
// error: the tombstone still shadows any copy in older containers.
func (e *Engine) Delete(key []byte) error {
	if err := entry.ValidateKey(key); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return entry.ErrClosed
	}

	n, err := e.wal.Append(wal.Record{Op: wal.OpDelete, Key: key})
	if err != nil {
		return err
	}
	e.metrics.BytesWritten.Add(uint64(n))
	if e.config.SyncOnWrite {
		e.metrics.WALFsyncs.Add(1)
	}

	ent := &entry.Entry{
		Key:  append([]byte(nil), key...),
		Kind: entry.KindTombstone,
		Seq:  e.seq.Add(1),
	}
	if err := e.active.Upsert(ent); err != nil {
		return err
	}
	e.metrics.Deletes.Add(1)

	return e.maybeFlushLocked()
}

func (e *Engine) maybeFlushLocked() error {
	if e.active.ByteSize() < e.config.MemTableFlushThresholdBytes {
		return nil
	}
	return e.flushLocked()
}

// flushLocked seals the active MemTable into the sealing slot, rotates the
// WAL, writes the SSTable, installs it in the manifest, and finally
// unlinks the retired WAL segment. On failure the sealing MemTable and its
// WAL segment survive, so no acknowledged write is lost.
func (e *Engine) flushLocked() error {
	if e.sealing == nil {
		if e.active.Len() == 0 {
			return nil
		}

		e.active.Seal()
		oldWAL, err := e.wal.Rotate()
		if err != nil {
			return err
		}
		e.sealing = e.active
		e.sealingWAL = oldWAL
		e.active = memtable.NewMemTable()
		e.ttlIndex.Reset()
	}

	if _, err := e.installTable(e.sealing); err != nil {
		return err
	}

	if err := os.Remove(e.sealingWAL); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("failed to remove retired WAL segment", "path", e.sealingWAL, "error", err)
	}
	e.sealing = nil
	e.sealingWAL = ""
	return nil
}

// Flush forces the active MemTable to an SSTable.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return entry.ErrClosed
	}
	return e.flushLocked()
}

// Get returns the value for key, or ErrNotFound for absent, deleted or
// expired keys. The MemTables are consulted first; SSTables are walked
// from newest to oldest with a Bloom-filter short circuit, and the search
// stops as soon as no older table can hold a newer entry.
func (e *Engine) Get(key []byte) ([]byte, error) {
	if err := entry.ValidateKey(key); err != nil {
		return nil, err
	}

	e.metrics.Gets.Add(1)
	now := time.Now().Unix()

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, entry.ErrClosed
	}
	active := e.active
	sealing := e.sealing
	tables := e.snapshotTablesLocked()
	e.mu.RUnlock()

	defer releaseTables(tables)

	if ent, state := active.Get(key, now); state != memtable.Absent {
		return e.resolve(ent, state)
	}
	if sealing != nil {
		if ent, state := sealing.Get(key, now); state != memtable.Absent {
			return e.resolve(ent, state)
		}
	}

	var best *entry.Entry
	for _, table := range tables {
		if best != nil && best.Seq >= table.Metadata().MaxSeq {
			break
		}
		ent, found, err := table.Get(key)
		if err != nil {
			return nil, err
		}
		if found && (best == nil || ent.Seq > best.Seq) {
			best = ent
		}
	}

	if best == nil || best.Tombstone() || best.Expired(now) {
		e.metrics.GetMisses.Add(1)
		return nil, entry.ErrNotFound
	}

	e.metrics.GetHits.Add(1)
	e.metrics.BytesRead.Add(uint64(len(best.Value)))
	return best.Value, nil
}

func (e *Engine) resolve(ent *entry.Entry, state memtable.LookupState) ([]byte, error) {
	if state != memtable.Present {
		e.metrics.GetMisses.Add(1)
		return nil, entry.ErrNotFound
	}
	e.metrics.GetHits.Add(1)
	e.metrics.BytesRead.Add(uint64(len(ent.Value)))
	return append([]byte(nil), ent.Value...), nil
}

// snapshotTablesLocked copies the table set ordered newest-first by max
// seq, taking a reference on each so compaction cannot unlink a file out
// from under the read.
func (e *Engine) snapshotTablesLocked() []*sstable.Reader {
	tables := make([]*sstable.Reader, len(e.tables))
	copy(tables, e.tables)
	for _, table := range tables {
		table.Retain()
	}
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].Metadata().MaxSeq > tables[j].Metadata().MaxSeq
	})
	return tables
}

func releaseTables(tables []*sstable.Reader) {
	for _, table := range tables {
		table.Release()
	}
}

// KV is one scan result pair.
type KV struct {
	Key   []byte
	Value []byte
}

// Scan returns the live entries with start <= key < end in ascending key
// order: no duplicates, no tombstones, no expired entries. Nil bounds are
// open. The result reflects a consistent snapshot taken at call time.
func (e *Engine) Scan(start, end []byte) ([]KV, error) {
	now := time.Now().Unix()

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, entry.ErrClosed
	}
	active := e.active
	sealing := e.sealing
	tables := e.snapshotTablesLocked()
	e.mu.RUnlock()

	defer releaseTables(tables)

	// 各コンテナから最新の seq を持つエントリだけ残す
	winners := make(map[string]*entry.Entry)
	collect := func(ents []*entry.Entry) {
		for _, ent := range ents {
			k := string(ent.Key)
			if cur, ok := winners[k]; !ok || ent.Seq > cur.Seq {
				winners[k] = ent
			}
		}
	}

	collect(active.Range(start, end))
	if sealing != nil {
		collect(sealing.Range(start, end))
	}

	for _, table := range tables {
		meta := table.Metadata()
		if end != nil && entry.Compare(meta.MinKey, end) >= 0 {
			continue
		}
		if start != nil && len(meta.MaxKey) > 0 && entry.Compare(meta.MaxKey, start) < 0 {
			continue
		}

		it := table.NewIterator()
		for {
			ent, ok := it.Next()
			if !ok {
				break
			}
			if start != nil && entry.Compare(ent.Key, start) < 0 {
				continue
			}
			if end != nil && entry.Compare(ent.Key, end) >= 0 {
				break
			}
			k := string(ent.Key)
			if cur, ok := winners[k]; !ok || ent.Seq > cur.Seq {
				winners[k] = ent
			}
		}
		if err := it.Error(); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(winners))
	for k, ent := range winners {
		if ent.Tombstone() || ent.Expired(now) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]KV, 0, len(keys))
	for _, k := range keys {
		ent := winners[k]
		result = append(result, KV{
			Key:   append([]byte(nil), ent.Key...),
			Value: append([]byte(nil), ent.Value...),
		})
		e.metrics.BytesRead.Add(uint64(len(ent.Value)))
	}
	return result, nil
}

// Compact runs one compaction cycle: if any size tier is full, its files
// are merged into the next tier. The merge itself runs without the engine
// lock; only planning and installation hold it.
func (e *Engine) Compact() error {
	opts := e.compactionOptions()
	now := time.Now().Unix()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return entry.ErrClosed
	}
	if e.compacting {
		e.mu.Unlock()
		return nil
	}

	job := compaction.Plan(e.tables, opts)
	if job == nil {
		e.mu.Unlock()
		return nil
	}

	e.compacting = true
	num := e.nextFileNum
	e.nextFileNum++
	for _, table := range job.Inputs {
		table.Retain()
	}
	e.mu.Unlock()

	outPath := e.sstPath(num)
	result, err := compaction.Execute(job, outPath, now, opts)
	if err != nil {
		e.finishCompaction(job.Inputs, nil, nil)
		return err
	}

	reader, err := sstable.Open(outPath)
	if err != nil {
		os.Remove(outPath)
		e.finishCompaction(job.Inputs, nil, nil)
		return err
	}

	recs := []manifest.Record{{Op: manifest.OpAdd, FileNum: num}}
	for _, table := range job.Inputs {
		recs = append(recs, manifest.Record{Op: manifest.OpRemove, FileNum: table.FileNum()})
	}

	if err := e.finishCompaction(job.Inputs, reader, recs); err != nil {
		return err
	}

	e.metrics.Compactions.Add(1)
	e.metrics.BytesWritten.Add(uint64(result.BytesWritten))

	e.logger.Info("compacted sstables",
		"tier", job.Tier,
		"inputs", len(job.Inputs),
		"output", outPath,
		"entries", result.Entries,
		"drop_tombstones", job.DropTombstones)

	return nil
}

// finishCompaction installs the output (if any) and retires the inputs.
// With a nil output it only rolls back the in-flight state.
func (e *Engine) finishCompaction(inputs []*sstable.Reader, output *sstable.Reader, recs []manifest.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.compacting = false

	if output == nil {
		releaseTables(inputs)
		return nil
	}

	if err := e.manifest.Append(recs...); err != nil {
		output.MarkObsolete()
		output.Release()
		releaseTables(inputs)
		return err
	}

	retired := make(map[*sstable.Reader]bool, len(inputs))
	for _, table := range inputs {
		retired[table] = true
	}

	kept := e.tables[:0]
	for _, table := range e.tables {
		if retired[table] {
			table.MarkObsolete()
			table.Release() // engine's own reference
			continue
		}
		kept = append(kept, table)
	}
	e.tables = append(kept, output)

	releaseTables(inputs) // references taken for the merge
	return nil
}

func (e *Engine) compactionOptions() compaction.Options {
	return compaction.Options{
		BaseSize:          e.config.MemTableFlushThresholdBytes,
		Ratio:             e.config.CompactionTierSizeRatio,
		FilesPerTier:      e.config.CompactionFilesPerTier,
		FalsePositiveRate: e.config.BloomFalsePositiveRate,
		IndexStride:       e.config.SSTableIndexStride,
	}
}

// Metrics returns a point-in-time snapshot of the engine's counters.
func (e *Engine) Metrics() metrics.Snapshot {
	return e.metrics.Snapshot()
}

// Collector returns a prometheus.Collector over the engine's counters.
func (e *Engine) Collector() *metrics.Collector {
	return metrics.NewCollector(e.metrics)
}

// Stats describes the engine's current shape for info surfaces.
type Stats struct {
	MemTable     memtable.Stats
	SSTableCount int
	TierCounts   map[int]int
	NextSeq      uint64
	Metrics      metrics.Snapshot
}

// Stats returns statistics about the engine.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	opts := e.compactionOptions()
	tierCounts := make(map[int]int)
	for _, table := range e.tables {
		tierCounts[compaction.TierOf(table.Size(), opts)]++
	}

	return Stats{
		MemTable:     e.active.GetStats(),
		SSTableCount: len(e.tables),
		TierCounts:   tierCounts,
		NextSeq:      e.seq.Load() + 1,
		Metrics:      e.metrics.Snapshot(),
	}
}

// startBackground launches the compaction checker and the TTL sweeper.
func (e *Engine) startBackground() {
	if e.config.CompactionInterval > 0 {
		e.bg.Add(1)
		go e.compactionLoop()
	}
	if e.config.TTLSweepInterval > 0 {
		e.bg.Add(1)
		go e.sweepLoop()
	}
}

func (e *Engine) compactionLoop() {
	defer e.bg.Done()

	ticker := time.NewTicker(e.config.CompactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.Compact(); err != nil && err != entry.ErrClosed {
				e.logger.Error("background compaction failed", "error", err)
			}
		case <-e.done:
			return
		}
	}
}

// sweepLoop periodically removes expired entries from the active MemTable
// to reclaim memory. Reads never see expired entries either way; this only
// frees space ahead of the next flush.
func (e *Engine) sweepLoop() {
	defer e.bg.Done()

	ticker := time.NewTicker(e.config.TTLSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now().Unix()
			keys := e.ttlIndex.PopExpired(now)
			if len(keys) == 0 {
				continue
			}

			e.mu.Lock()
			removed := 0
			if !e.closed {
				removed = e.active.PurgeExpired(keys, now)
			}
			e.mu.Unlock()

			if removed > 0 {
				e.logger.Debug("swept expired entries", "removed", removed)
			}
		case <-e.done:
			return
		}
	}
}

// Close flushes the MemTable, stops background workers, closes every file,
// fsyncs the data directory and releases the data directory lock. The
// engine is unusable afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.done)
	e.bg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error

	if err := e.flushLocked(); err != nil {
		firstErr = err
	}
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.manifest.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, table := range e.tables {
		if err := table.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.tables = nil

	if dir, err := os.Open(e.config.DataDir); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to open data directory for sync: %w", err)
		}
	} else {
		if err := dir.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to sync data directory: %w", err)
		}
		dir.Close()
	}

	releaseLock(e.config.DataDir)

	e.logger.Info("engine closed", "data_dir", e.config.DataDir)
	return firstErr
}
