package query

import (
	"strconv"

	"github.com/spaolacci/murmur3"
)

// Fingerprint returns a stable hash of the canonical query text. Equal
// queries share a fingerprint, which makes them easy to correlate in logs.
func Fingerprint(q *Query) string {
	h := murmur3.New64()
	h.Write([]byte(q.String()))
	return strconv.FormatUint(h.Sum64(), 16)
}
