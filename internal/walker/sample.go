package walker

import (
	"hash/fnv"
	"math"
)

// Sampled reports whether rel is kept under rate. Selection hashes the
// relative path with FNV-1a so the same repository always yields the same
// subset.
func Sampled(rel string, rate float64) bool {
	if rate <= 0 || rate >= 1 {
		return true
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(rel))
	return float64(h.Sum64())/math.MaxUint64 < rate
}
