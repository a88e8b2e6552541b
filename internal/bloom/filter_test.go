package bloom

import (
	"fmt"
	"testing"
)

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := NewForCount(1000, DefaultFPR)
	for i := 0; i < 1000; i++ {
		f.AddString(fmt.Sprintf("%032x", i))
		f.AddInt64(int64(i))
	}
	for i := 0; i < 1000; i++ {
		if !f.Contains([]byte(fmt.Sprintf("%032x", i))) {
			t.Fatalf("false negative for event id %d", i)
		}
		if !f.ContainsAnyInt64([]int64{-1, int64(i)}) {
			t.Fatalf("false negative for group id %d", i)
		}
	}
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	f := NewForCount(1000, DefaultFPR)
	for i := 0; i < 1000; i++ {
		f.AddString(fmt.Sprintf("in-%d", i))
	}

	hits := 0
	for i := 0; i < 10000; i++ {
		if f.Contains([]byte(fmt.Sprintf("out-%d", i))) {
			hits++
		}
	}
	if rate := float64(hits) / 10000; rate > 0.05 {
		t.Errorf("false positive rate too high: %.4f", rate)
	}
}

func TestOptimalParameters(t *testing.T) {
	bits, hashes := OptimalParameters(1000, 0.01)
	if bits < 9000 || bits > 10000 {
		t.Errorf("unexpected bit count %d", bits)
	}
	if hashes != 7 {
		t.Errorf("expected 7 hashes, got %d", hashes)
	}
}

func TestEncodeDecode(t *testing.T) {
	f := NewForCount(100, DefaultFPR)
	ids := []string{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}
	for _, id := range ids {
		f.AddString(id)
	}

	decoded, err := Decode(f.Encode())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Count() != 2 || decoded.NumBits() != f.NumBits() || decoded.NumHashes() != f.NumHashes() {
		t.Errorf("header mismatch after decode")
	}
	for _, id := range ids {
		if !decoded.ContainsAnyString([]string{id}) {
			t.Errorf("decoded filter lost %s", id)
		}
	}
}

func TestUnmarshal_Corrupt(t *testing.T) {
	if _, err := Unmarshal([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short data")
	}
	data := NewForCount(10, DefaultFPR).Marshal()
	data[len(data)-1] ^= 0xff
	data = data[:len(data)-1]
	if _, err := Unmarshal(data); err == nil {
		t.Error("expected error for truncated payload")
	}
}
