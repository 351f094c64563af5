package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/lirlia/lsmkv/internal/entry"
)

// OpType identifies the operation a WAL record carries.
type OpType uint8

const (
	OpPut    OpType = 0x01
	OpDelete OpType = 0x02
	// OpPutTTL is a Put whose value bytes are prefixed with an 8-byte
	// little-endian expiry timestamp (unix seconds).
	OpPutTTL OpType = 0x03
)

// Record is a single logical WAL entry.
type Record struct {
	Op        OpType
	Key       []byte
	Value     []byte
	ExpiresAt int64
}

// On-disk record layout:
//
//	[op:1][klen:4 LE][key:klen][vlen:4 LE][value:vlen][crc32:4 LE]
//
// crc32 is IEEE, computed over all preceding bytes of the record. A Delete
// record has vlen = 0 and no value bytes. A PutTTL record's value field is
// the 8-byte expiry followed by the actual value bytes.
const recordOverhead = 1 + 4 + 4 + 4

// WAL is the write-ahead log. One segment file backs one live MemTable;
// the engine rotates to a fresh segment when the MemTable is flushed.
type WAL struct {
	dirPath     string
	currentFile *os.File
	writer      *bufio.Writer
	mutex       sync.Mutex
	segment     uint64
	size        int64
	syncOnWrite bool
}

// Open finds the newest WAL segment in dirPath (creating the directory and
// an initial segment if needed) and opens it for appending.
func Open(dirPath string, syncOnWrite bool) (*WAL, error) {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &WAL{
		dirPath:     dirPath,
		syncOnWrite: syncOnWrite,
	}

	segs, err := Segments(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list WAL segments: %w", err)
	}

	if len(segs) == 0 {
		if err := w.createSegment(1); err != nil {
			return nil, err
		}
		return w, nil
	}

	latest := segs[len(segs)-1]
	w.segment = latest.Number

	w.currentFile, err = os.OpenFile(latest.Path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL segment: %w", err)
	}
	w.writer = bufio.NewWriter(w.currentFile)

	stat, err := w.currentFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat WAL segment: %w", err)
	}
	w.size = stat.Size()

	return w, nil
}

// Segment describes one WAL segment file on disk.
type Segment struct {
	Path   string
	Number uint64
}

// Segments returns the WAL segments in dirPath ordered oldest first.
func Segments(dirPath string) ([]Segment, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segs []Segment
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if !strings.HasSuffix(name, ".log") {
			continue
		}
		num, err := strconv.ParseUint(strings.TrimSuffix(name, ".log"), 10, 64)
		if err != nil {
			continue
		}
		segs = append(segs, Segment{Path: filepath.Join(dirPath, name), Number: num})
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i].Number < segs[j].Number })
	return segs, nil
}

func segmentName(number uint64) string {
	return fmt.Sprintf("%06d.log", number)
}

// createSegment closes the current segment (if any) and opens a fresh one.
func (w *WAL) createSegment(number uint64) error {
	if w.currentFile != nil {
		w.writer.Flush()
		w.currentFile.Close()
	}

	path := filepath.Join(w.dirPath, segmentName(number))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create WAL segment: %w", err)
	}

	w.currentFile = file
	w.writer = bufio.NewWriter(file)
	w.segment = number
	w.size = 0
	return nil
}

// Append encodes the record, writes it to the active segment and, when
// syncOnWrite is set, flushes and fsyncs before returning. A nil error with
// syncOnWrite enabled means the record is durable. The number of bytes
// appended is returned for accounting.
func (w *WAL) Append(rec Record) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.currentFile == nil {
		return 0, entry.ErrClosed
	}

	data := encode(rec)

	if _, err := w.writer.Write(data); err != nil {
		return 0, fmt.Errorf("failed to write WAL record: %w", err)
	}

	if w.syncOnWrite {
		if err := w.writer.Flush(); err != nil {
			return 0, fmt.Errorf("failed to flush WAL: %w", err)
		}
		if err := w.currentFile.Sync(); err != nil {
			return 0, fmt.Errorf("failed to sync WAL: %w", err)
		}
	}

	w.size += int64(len(data))
	return len(data), nil
}

// encode serializes a record into the on-disk layout.
func encode(rec Record) []byte {
	value := rec.Value
	if rec.Op == OpPutTTL {
		framed := make([]byte, 8+len(rec.Value))
		binary.LittleEndian.PutUint64(framed, uint64(rec.ExpiresAt))
		copy(framed[8:], rec.Value)
		value = framed
	}
	if rec.Op == OpDelete {
		value = nil
	}

	buf := make([]byte, recordOverhead+len(rec.Key)+len(value))
	offset := 0

	buf[offset] = byte(rec.Op)
	offset++

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(rec.Key)))
	offset += 4
	copy(buf[offset:], rec.Key)
	offset += len(rec.Key)

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(value)))
	offset += 4
	copy(buf[offset:], value)
	offset += len(value)

	sum := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:], sum)

	return buf
}

// Sync flushes buffered records and fsyncs the active segment.
func (w *WAL) Sync() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.currentFile == nil {
		return entry.ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	return w.currentFile.Sync()
}

// Rotate fsyncs and closes the active segment, opens the next one, and
// returns the path of the segment that was just retired. The caller unlinks
// the retired segment once the corresponding MemTable is durable on disk.
func (w *WAL) Rotate() (string, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.currentFile == nil {
		return "", entry.ErrClosed
	}

	if err := w.writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush WAL before rotation: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync WAL before rotation: %w", err)
	}

	oldPath := filepath.Join(w.dirPath, segmentName(w.segment))
	if err := w.createSegment(w.segment + 1); err != nil {
		return "", err
	}
	return oldPath, nil
}

// SegmentNumber returns the number of the active segment.
func (w *WAL) SegmentNumber() uint64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.segment
}

// Size returns the byte size appended to the active segment so far.
func (w *WAL) Size() int64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.size
}

// Close flushes, fsyncs and closes the active segment.
func (w *WAL) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.currentFile == nil {
		return nil
	}

	flushErr := w.writer.Flush()
	syncErr := w.currentFile.Sync()
	closeErr := w.currentFile.Close()
	w.currentFile = nil

	if flushErr != nil {
		return flushErr
	}
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// Replay reads one segment sequentially, invoking apply for each record
// that passes its CRC check. Replay stops at the first torn or corrupt
// record and truncates the file to the last valid boundary; a torn tail is
// the expected outcome of a crash mid-write and is not an error.
func Replay(path string, apply func(Record) error) error {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment for replay: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var validOffset int64

	for {
		rec, n, err := decodeNext(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			// 壊れたレコード以降は切り捨てる
			if truncErr := truncateTail(file, validOffset); truncErr != nil {
				return fmt.Errorf("failed to truncate torn WAL tail: %w", truncErr)
			}
			return nil
		}

		if err := apply(rec); err != nil {
			return err
		}
		validOffset += n
	}

	return nil
}

func truncateTail(file *os.File, validOffset int64) error {
	if err := file.Truncate(validOffset); err != nil {
		return err
	}
	return file.Sync()
}

var errTornRecord = errors.New("wal: torn or corrupt record")

// decodeNext reads one record from the reader. It returns io.EOF at a clean
// end of file and errTornRecord for any short read, CRC mismatch or invalid
// header.
func decodeNext(reader *bufio.Reader) (Record, int64, error) {
	opByte, err := reader.ReadByte()
	if err == io.EOF {
		return Record{}, 0, io.EOF
	}
	if err != nil {
		return Record{}, 0, errTornRecord
	}

	op := OpType(opByte)
	if op != OpPut && op != OpDelete && op != OpPutTTL {
		return Record{}, 0, errTornRecord
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(reader, lenBuf[:]); err != nil {
		return Record{}, 0, errTornRecord
	}
	klen := binary.LittleEndian.Uint32(lenBuf[:])
	if klen == 0 {
		return Record{}, 0, errTornRecord
	}

	key := make([]byte, klen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return Record{}, 0, errTornRecord
	}

	if _, err := io.ReadFull(reader, lenBuf[:]); err != nil {
		return Record{}, 0, errTornRecord
	}
	vlen := binary.LittleEndian.Uint32(lenBuf[:])

	value := make([]byte, vlen)
	if _, err := io.ReadFull(reader, value); err != nil {
		return Record{}, 0, errTornRecord
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(reader, crcBuf[:]); err != nil {
		return Record{}, 0, errTornRecord
	}
	expectSum := binary.LittleEndian.Uint32(crcBuf[:])

	sum := crc32.ChecksumIEEE([]byte{byte(op)})
	sum = crc32.Update(sum, crc32.IEEETable, lenBytes(klen))
	sum = crc32.Update(sum, crc32.IEEETable, key)
	sum = crc32.Update(sum, crc32.IEEETable, lenBytes(vlen))
	sum = crc32.Update(sum, crc32.IEEETable, value)
	if sum != expectSum {
		return Record{}, 0, errTornRecord
	}

	rec := Record{Op: op, Key: key, Value: value}
	if op == OpPutTTL {
		if vlen < 8 {
			return Record{}, 0, errTornRecord
		}
		rec.ExpiresAt = int64(binary.LittleEndian.Uint64(value[:8]))
		rec.Value = value[8:]
	}
	if op == OpDelete {
		rec.Value = nil
	}

	total := int64(recordOverhead) + int64(klen) + int64(vlen)
	return rec, total, nil
}

func lenBytes(v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return buf[:]
}
