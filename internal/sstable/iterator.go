package sstable

import (
	"bufio"
	"io"

	"github.com/lirlia/lsmkv/internal/entry"
)

// Iterator walks one SSTable's data block in ascending key order. Every
// physical entry is exposed, tombstones and expired entries included; the
// merge and scan layers decide what survives. Each iterator reads through
// its own section reader, so multiple iterators (and Gets) can run over the
// same table concurrently.
type Iterator struct {
	table   *Reader
	reader  *bufio.Reader
	current *entry.Entry
	err     error
}

// NewIterator creates an iterator positioned at the first entry.
func (r *Reader) NewIterator() *Iterator {
	it := &Iterator{
		table:  r,
		reader: bufio.NewReader(io.NewSectionReader(r.file, 0, r.dataSize)),
	}
	it.advance()
	return it
}

// HasNext checks if there are more entries to iterate.
func (it *Iterator) HasNext() bool {
	return it.current != nil && it.err == nil
}

// Next returns the current entry and advances.
func (it *Iterator) Next() (*entry.Entry, bool) {
	if !it.HasNext() {
		return nil, false
	}
	ent := it.current
	it.advance()
	return ent, true
}

// Peek returns the current entry without advancing.
func (it *Iterator) Peek() (*entry.Entry, bool) {
	if !it.HasNext() {
		return nil, false
	}
	return it.current, true
}

func (it *Iterator) advance() {
	if it.err != nil {
		it.current = nil
		return
	}

	ent, _, err := readEntry(it.reader)
	if err == io.EOF {
		it.current = nil
		it.err = io.EOF
		return
	}
	if err != nil {
		it.current = nil
		it.err = entry.Corruptf(it.table.path, 0, "bad data block entry: %v", err)
		return
	}
	it.current = ent
}

// Error returns any error encountered during iteration. A clean end of
// table is not an error.
func (it *Iterator) Error() error {
	if it.err == io.EOF {
		return nil
	}
	return it.err
}
