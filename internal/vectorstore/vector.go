package vectorstore

import (
	"encoding/binary"
	"math"
	"sort"
)

// serializeVector converts a float32 slice to a little-endian byte blob
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// CosineDistance returns 1 - cosine similarity. Vectors of different length
// or zero norm are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 2
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2
	}

	return 1 - dotProduct/(math.Sqrt(normA)*math.Sqrt(normB))
}

// sortMatches orders matches by distance, then path, then sequence
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.Entry.Chunk.Path != b.Entry.Chunk.Path {
			return a.Entry.Chunk.Path < b.Entry.Chunk.Path
		}
		return a.Entry.Chunk.Seq < b.Entry.Chunk.Seq
	})
}
