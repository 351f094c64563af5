package engine

import (
	"log/slog"
	"time"

	"github.com/lirlia/lsmkv/internal/entry"
)

// Config holds configuration for the storage engine.
type Config struct {
	// DataDir is the directory holding the WAL, SSTables, manifest and
	// lock file. It is created if missing.
	DataDir string

	// MemTableFlushThresholdBytes triggers a flush once the MemTable's
	// accounted byte size reaches it.
	MemTableFlushThresholdBytes int64

	// BloomFalsePositiveRate is the target false positive probability for
	// per-SSTable Bloom filters.
	BloomFalsePositiveRate float64

	// BloomExpectedEntriesPerSSTable sizes the Bloom filter of a freshly
	// flushed SSTable.
	BloomExpectedEntriesPerSSTable uint64

	// CompactionTierSizeRatio is the size growth factor between compaction
	// tiers.
	CompactionTierSizeRatio int64

	// CompactionFilesPerTier is how many files a tier accumulates before
	// being merged into the next tier.
	CompactionFilesPerTier int

	// SSTableIndexStride is the number of entries between sparse index
	// samples.
	SSTableIndexStride int

	// SyncOnWrite fsyncs the WAL on every Put/Delete. Disabling it trades
	// the durability guarantee for throughput.
	SyncOnWrite bool

	// CompactionInterval is the period of the background compaction
	// checker. Zero disables background compaction; Compact() still works.
	CompactionInterval time.Duration

	// TTLSweepInterval is the period of the background sweeper that
	// removes expired entries from the MemTable. Zero disables it; expired
	// entries are still invisible to reads and purged by compaction.
	TTLSweepInterval time.Duration

	// Logger receives structured engine logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration for dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:                        dataDir,
		MemTableFlushThresholdBytes:    4 * 1024 * 1024,
		BloomFalsePositiveRate:         0.01,
		BloomExpectedEntriesPerSSTable: 100_000,
		CompactionTierSizeRatio:        4,
		CompactionFilesPerTier:         4,
		SSTableIndexStride:             16,
		SyncOnWrite:                    true,
		CompactionInterval:             10 * time.Second,
		TTLSweepInterval:               30 * time.Second,
	}
}

func (c *Config) fillDefaults() {
	base := DefaultConfig(c.DataDir)
	if c.MemTableFlushThresholdBytes <= 0 {
		c.MemTableFlushThresholdBytes = base.MemTableFlushThresholdBytes
	}
	if c.BloomFalsePositiveRate <= 0 || c.BloomFalsePositiveRate >= 1 {
		c.BloomFalsePositiveRate = base.BloomFalsePositiveRate
	}
	if c.BloomExpectedEntriesPerSSTable == 0 {
		c.BloomExpectedEntriesPerSSTable = base.BloomExpectedEntriesPerSSTable
	}
	if c.CompactionTierSizeRatio < 2 {
		c.CompactionTierSizeRatio = base.CompactionTierSizeRatio
	}
	if c.CompactionFilesPerTier < 2 {
		c.CompactionFilesPerTier = base.CompactionFilesPerTier
	}
	if c.SSTableIndexStride <= 0 {
		c.SSTableIndexStride = base.SSTableIndexStride
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return entry.ErrInvalidArgument
	}
	return nil
}
