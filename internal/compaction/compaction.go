package compaction

import (
	"fmt"
	"sort"

	"github.com/lirlia/lsmkv/internal/entry"
	"github.com/lirlia/lsmkv/internal/sstable"
)

// Options parameterize size-tiered compaction.
type Options struct {
	// BaseSize is the size of a freshly flushed SSTable (the MemTable
	// flush threshold); tier t holds files smaller than BaseSize * Ratio^(t+1).
	BaseSize int64
	// Ratio is the size growth factor between tiers.
	Ratio int64
	// FilesPerTier is how many files a tier accumulates before its files
	// are merged into the next tier.
	FilesPerTier int
	// Writer options for the merged output.
	FalsePositiveRate float64
	IndexStride       int
}

// Job is one planned compaction: merge Inputs into a single output file.
type Job struct {
	Tier   int
	Inputs []*sstable.Reader
	// DropTombstones is set when the inputs form the oldest live suffix of
	// the table set, so no older copy of any key can survive below them.
	// Tombstones and expired entries are then dropped outright instead of
	// being re-written.
	DropTombstones bool
}

// TierOf returns the tier a file of the given size belongs to.
func TierOf(size int64, opts Options) int {
	tier := 0
	limit := opts.BaseSize * opts.Ratio
	for size >= limit && tier < 62 {
		tier++
		limit *= opts.Ratio
	}
	return tier
}

// Plan groups the live tables into size tiers and returns a job for the
// first tier holding at least FilesPerTier files, or nil when no tier is
// full. Tables must be the complete live set.
func Plan(tables []*sstable.Reader, opts Options) *Job {
	if len(tables) == 0 {
		return nil
	}

	tiers := make(map[int][]*sstable.Reader)
	for _, table := range tables {
		t := TierOf(table.Size(), opts)
		tiers[t] = append(tiers[t], table)
	}

	tierNums := make([]int, 0, len(tiers))
	for t := range tiers {
		tierNums = append(tierNums, t)
	}
	sort.Ints(tierNums)

	for _, t := range tierNums {
		group := tiers[t]
		if len(group) < opts.FilesPerTier {
			continue
		}

		// 古い順 (MaxSeq の小さい順) に FilesPerTier 個だけ選ぶ
		sort.Slice(group, func(i, j int) bool {
			return group[i].Metadata().MaxSeq < group[j].Metadata().MaxSeq
		})
		inputs := group[:opts.FilesPerTier]

		return &Job{
			Tier:           t,
			Inputs:         inputs,
			DropTombstones: isOldestSuffix(inputs, tables),
		}
	}

	return nil
}

// isOldestSuffix reports whether every live table outside the inputs holds
// only entries newer than everything inside the inputs. Only then can a
// tombstone (or expired entry) be dropped: any older copy of its key must
// be inside the merge. Ages are compared via the tables' seq bounds.
func isOldestSuffix(inputs, all []*sstable.Reader) bool {
	inInputs := make(map[*sstable.Reader]bool, len(inputs))
	var maxInputSeq uint64
	for _, t := range inputs {
		inInputs[t] = true
		if s := t.Metadata().MaxSeq; s > maxInputSeq {
			maxInputSeq = s
		}
	}

	for _, t := range all {
		if inInputs[t] {
			continue
		}
		if t.Metadata().MinSeq <= maxInputSeq {
			return false
		}
	}
	return true
}

// Result summarizes an executed merge.
type Result struct {
	Entries      int64
	BytesWritten int64
}

// Execute performs the k-way merge of job.Inputs into outPath. The newest
// entry wins per key; tombstones and TTL-expired entries are dropped when
// the job allows it, and an expired value that cannot be dropped is
// rewritten as a tombstone so older copies stay shadowed.
func Execute(job *Job, outPath string, now int64, opts Options) (Result, error) {
	var expected uint64
	for _, table := range job.Inputs {
		expected += uint64(table.Metadata().EntryCount)
	}

	writer, err := sstable.NewWriter(outPath, sstable.WriterOptions{
		ExpectedEntries:   expected,
		FalsePositiveRate: opts.FalsePositiveRate,
		IndexStride:       opts.IndexStride,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create compaction output: %w", err)
	}

	var result Result
	merger := NewKWayMerger(job.Inputs)

	for merger.HasNext() {
		ent, err := merger.Next()
		if err != nil {
			writer.Abort()
			return Result{}, fmt.Errorf("merge error: %w", err)
		}

		dead := ent.Tombstone()
		expired := ent.Expired(now)

		if dead || expired {
			if job.DropTombstones {
				continue
			}
			if expired && !dead {
				ent = &entry.Entry{
					Key:       ent.Key,
					Kind:      entry.KindTombstone,
					Seq:       ent.Seq,
					ExpiresAt: ent.ExpiresAt,
				}
			}
		}

		if err := writer.Append(ent); err != nil {
			writer.Abort()
			return Result{}, fmt.Errorf("failed to write merged entry: %w", err)
		}
		result.Entries++
	}

	if err := merger.Error(); err != nil {
		writer.Abort()
		return Result{}, err
	}

	written, err := writer.Finish()
	if err != nil {
		return Result{}, fmt.Errorf("failed to finish compaction output: %w", err)
	}
	result.BytesWritten = written

	return result, nil
}
