package bloom

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

const headerSize = 24

// Encoded is the JSON form of a filter inside a partition sidecar and the
// manifest.
type Encoded struct {
	Algorithm string `json:"algorithm"`
	NumBits   int    `json:"num_bits"`
	NumHashes int    `json:"num_hashes"`
	Count     uint64 `json:"count"`
	// Data is base64 of the 24-byte little-endian header followed by the
	// snappy-compressed bit array
	Data string `json:"data"`
}

// Marshal serializes the filter: numBits, numHashes and count as little-endian
// uint64s, then the snappy-compressed bit array.
func (f *Filter) Marshal() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()

	raw := make([]byte, len(f.bits)*8)
	for i, word := range f.bits {
		binary.LittleEndian.PutUint64(raw[i*8:], word)
	}
	compressed := snappy.Encode(nil, raw)

	buf := make([]byte, headerSize+len(compressed))
	binary.LittleEndian.PutUint64(buf[0:8], f.numBits)
	binary.LittleEndian.PutUint64(buf[8:16], f.numHashes)
	binary.LittleEndian.PutUint64(buf[16:24], f.count)
	copy(buf[headerSize:], compressed)
	return buf
}

// Unmarshal reconstructs a filter produced by Marshal.
func Unmarshal(data []byte) (*Filter, error) {
	if len(data) < headerSize {
		return nil, errors.New("bloom: data too short")
	}
	numBits := binary.LittleEndian.Uint64(data[0:8])
	numHashes := binary.LittleEndian.Uint64(data[8:16])
	count := binary.LittleEndian.Uint64(data[16:24])
	if numBits == 0 || numHashes == 0 || numBits%64 != 0 {
		return nil, fmt.Errorf("bloom: invalid parameters bits=%d hashes=%d", numBits, numHashes)
	}

	raw, err := snappy.Decode(nil, data[headerSize:])
	if err != nil {
		return nil, fmt.Errorf("bloom: snappy decode: %w", err)
	}
	numWords := numBits / 64
	if uint64(len(raw)) != numWords*8 {
		return nil, fmt.Errorf("bloom: expected %d bytes of bits, got %d", numWords*8, len(raw))
	}

	bits := make([]uint64, numWords)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return &Filter{bits: bits, numBits: numBits, numHashes: numHashes, count: count}, nil
}

// Encode returns the JSON-friendly form of the filter.
func (f *Filter) Encode() Encoded {
	return Encoded{
		Algorithm: "murmur3_128",
		NumBits:   f.NumBits(),
		NumHashes: f.NumHashes(),
		Count:     f.Count(),
		Data:      base64.StdEncoding.EncodeToString(f.Marshal()),
	}
}

// Decode reconstructs a filter from its JSON-friendly form.
func Decode(e Encoded) (*Filter, error) {
	data, err := base64.StdEncoding.DecodeString(e.Data)
	if err != nil {
		return nil, fmt.Errorf("bloom: invalid base64: %w", err)
	}
	return Unmarshal(data)
}
