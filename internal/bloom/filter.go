// Package bloom implements the bloom filters stored alongside each partition.
// The partitioned backend consults them to skip partitions that cannot hold a
// requested event_id or group_id.
package bloom

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultFPR is the target false positive rate for partition filters.
const DefaultFPR = 0.01

// Filter is a murmur3 double-hashing bloom filter. Contains never returns a
// false negative.
type Filter struct {
	mu        sync.RWMutex
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a filter with the given number of bits and hash functions.
// Bits are rounded up to a multiple of 64.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}
	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewForCount sizes a filter for n items at the target false positive rate.
func NewForCount(n int, fpr float64) *Filter {
	return New(OptimalParameters(n, fpr))
}

// OptimalParameters returns m = -n*ln(p)/ln(2)^2 bits and k = (m/n)*ln(2)
// hash functions.
func OptimalParameters(n int, fpr float64) (numBits, numHashes int) {
	if n <= 0 {
		n = 1
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = DefaultFPR
	}
	m := -float64(n) * math.Log(fpr) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil(m / float64(n) * math.Ln2))
	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add inserts an item.
func (f *Filter) Add(item []byte) {
	h1, h2 := murmur3.Sum128(item)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// Contains reports whether item may have been added.
func (f *Filter) Contains(item []byte) bool {
	h1, h2 := murmur3.Sum128(item)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// AddString inserts a string value such as an event id.
func (f *Filter) AddString(s string) { f.Add([]byte(s)) }

// AddInt64 inserts an integer value such as a group id.
func (f *Filter) AddInt64(v int64) { f.Add(int64Key(v)) }

// ContainsAnyString reports whether any of values may be present.
func (f *Filter) ContainsAnyString(values []string) bool {
	for _, v := range values {
		if f.Contains([]byte(v)) {
			return true
		}
	}
	return false
}

// ContainsAnyInt64 reports whether any of values may be present.
func (f *Filter) ContainsAnyInt64(values []int64) bool {
	for _, v := range values {
		if f.Contains(int64Key(v)) {
			return true
		}
	}
	return false
}

func int64Key(v int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return buf[:]
}

// NumBits returns the size of the bit array.
func (f *Filter) NumBits() int { return int(f.numBits) }

// NumHashes returns the number of hash functions.
func (f *Filter) NumHashes() int { return int(f.numHashes) }

// Count returns the number of items added.
func (f *Filter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// FalsePositiveRate estimates (1 - e^(-k*n/m))^k for the current fill.
func (f *Filter) FalsePositiveRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.count == 0 {
		return 0
	}
	k, n, m := float64(f.numHashes), float64(f.count), float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
