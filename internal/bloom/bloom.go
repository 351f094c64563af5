package bloom

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/cespare/xxhash/v2"

	"github.com/lirlia/lsmkv/internal/entry"
)

// Filter is a double-hashing Bloom filter. It never reports a false
// negative: every added key answers MayContain = true.
type Filter struct {
	bits    []byte
	numBits uint64
	numHash int
}

// New creates a Bloom filter sized for n expected items at false positive
// probability p.
func New(n uint64, p float64) *Filter {
	numBits, numHash := calculateOptimalParams(n, p)
	return &Filter{
		bits:    make([]byte, (numBits+7)/8),
		numBits: numBits,
		numHash: numHash,
	}
}

// Add adds a key to the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := hashPair(key)
	for i := 0; i < f.numHash; i++ {
		// h1 + i*h2 の組み合わせで複数ハッシュを生成 (Kirsch-Mitzenmacher)
		pos := (h1 + uint64(i)*h2) % f.numBits
		f.bits[pos/8] |= 1 << (pos % 8)
	}
}

// MayContain reports whether the key may have been added. False positives
// occur with probability close to the configured p; false negatives never.
func (f *Filter) MayContain(key []byte) bool {
	if f.numBits == 0 {
		return true
	}
	h1, h2 := hashPair(key)
	for i := 0; i < f.numHash; i++ {
		pos := (h1 + uint64(i)*h2) % f.numBits
		if f.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// hashPair derives the two independent 64-bit hashes used for double
// hashing: xxhash and FNV-1a.
func hashPair(key []byte) (uint64, uint64) {
	h1 := xxhash.Sum64(key)

	h := fnv.New64a()
	h.Write(key)
	h2 := h.Sum64()

	return h1, h2
}

// NumBits returns the size of the bit array.
func (f *Filter) NumBits() uint64 {
	return f.numBits
}

// NumHash returns the number of hash probes per key.
func (f *Filter) NumHash() int {
	return f.numHash
}

// Marshal serializes the filter as [numBits:8 LE][numHash:4 LE][bits].
func (f *Filter) Marshal() []byte {
	out := make([]byte, 12+len(f.bits))
	binary.LittleEndian.PutUint64(out[0:8], f.numBits)
	binary.LittleEndian.PutUint32(out[8:12], uint32(f.numHash))
	copy(out[12:], f.bits)
	return out
}

// Unmarshal reconstructs a filter from Marshal output.
func Unmarshal(data []byte) (*Filter, error) {
	if len(data) < 12 {
		return nil, entry.Corruptf("", 0, "bloom filter header too short: %d bytes", len(data))
	}
	numBits := binary.LittleEndian.Uint64(data[0:8])
	numHash := int(binary.LittleEndian.Uint32(data[8:12]))

	byteCount := (numBits + 7) / 8
	if uint64(len(data)-12) < byteCount {
		return nil, entry.Corruptf("", 0, "bloom filter bit array truncated: want %d bytes, have %d", byteCount, len(data)-12)
	}
	if numHash < 1 || numHash > maxHashCount {
		return nil, entry.Corruptf("", 0, "bloom filter hash count out of range: %d", numHash)
	}

	bits := make([]byte, byteCount)
	copy(bits, data[12:12+byteCount])

	return &Filter{
		bits:    bits,
		numBits: numBits,
		numHash: numHash,
	}, nil
}
