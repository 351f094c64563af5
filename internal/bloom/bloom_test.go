package bloom

import (
	"fmt"
	"testing"
)

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := New(1000, 0.01)

	for i := 0; i < 1000; i++ {
		f.Add([]byte(fmt.Sprintf("key_%d", i)))
	}

	for i := 0; i < 1000; i++ {
		if !f.MayContain([]byte(fmt.Sprintf("key_%d", i))) {
			t.Fatalf("False negative for key_%d", i)
		}
	}
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	f := New(10000, 0.01)

	for i := 0; i < 10000; i++ {
		f.Add([]byte(fmt.Sprintf("member_%d", i)))
	}

	falsePositives := 0
	probes := 10000
	for i := 0; i < probes; i++ {
		if f.MayContain([]byte(fmt.Sprintf("outsider_%d", i))) {
			falsePositives++
		}
	}

	// 理論値 1% に対して余裕を持たせる
	rate := float64(falsePositives) / float64(probes)
	if rate > 0.03 {
		t.Errorf("False positive rate too high: %.4f", rate)
	}
}

func TestFilter_MarshalRoundTrip(t *testing.T) {
	f := New(100, 0.01)
	for i := 0; i < 100; i++ {
		f.Add([]byte(fmt.Sprintf("key_%d", i)))
	}

	restored, err := Unmarshal(f.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if restored.NumBits() != f.NumBits() {
		t.Errorf("Expected %d bits, got %d", f.NumBits(), restored.NumBits())
	}
	if restored.NumHash() != f.NumHash() {
		t.Errorf("Expected %d hashes, got %d", f.NumHash(), restored.NumHash())
	}

	for i := 0; i < 100; i++ {
		if !restored.MayContain([]byte(fmt.Sprintf("key_%d", i))) {
			t.Fatalf("False negative after round trip for key_%d", i)
		}
	}
}

func TestFilter_UnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for short input")
	}

	// Header promising more bits than there are bytes
	f := New(1000, 0.01)
	data := f.Marshal()
	if _, err := Unmarshal(data[:20]); err == nil {
		t.Error("Expected error for truncated bit array")
	}
}

func TestCalculateOptimalParams(t *testing.T) {
	tests := []struct {
		n        uint64
		p        float64
		wantBits uint64
		wantHash int
	}{
		// m = ceil(-n*ln(p)/ln(2)^2), k = ceil(m/n*ln(2))
		{1000, 0.01, 9586, 7},
		{100, 0.1, 480, 4},
		{0, 0.01, 1, 1},
	}

	for _, tt := range tests {
		bits, hashes := calculateOptimalParams(tt.n, tt.p)
		if bits != tt.wantBits {
			t.Errorf("n=%d p=%v: expected %d bits, got %d", tt.n, tt.p, tt.wantBits, bits)
		}
		if hashes != tt.wantHash {
			t.Errorf("n=%d p=%v: expected %d hashes, got %d", tt.n, tt.p, tt.wantHash, hashes)
		}
	}
}

func TestCalculateOptimalParams_HashClamp(t *testing.T) {
	// Absurdly low p pushes k far past the cap
	_, hashes := calculateOptimalParams(10, 1e-30)
	if hashes > maxHashCount {
		t.Errorf("Hash count %d exceeds cap %d", hashes, maxHashCount)
	}
}
