package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/coderag/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrModelMismatch is returned when the store was built with another embedding model
	ErrModelMismatch = errors.New("embedding model mismatch")
	// ErrDimensionMismatch is returned when a vector does not match the store dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrChunkingMismatch is returned when the store was chunked with another size or overlap
	ErrChunkingMismatch = errors.New("chunking mismatch")
	// ErrUnavailable is returned when the backend cannot be reached
	ErrUnavailable = errors.New("vector store unavailable")
)

// Store persists IndexEntries and answers nearest-neighbour queries. It is
// the system of record across runs.
type Store interface {
	// Upsert inserts or replaces entries by ID
	Upsert(ctx context.Context, entries []types.IndexEntry) error

	// ReplacePath swaps every entry of path for entries. Concurrent queries
	// never observe a state where path has lost its old entries without
	// gaining the new ones.
	ReplacePath(ctx context.Context, path string, entries []types.IndexEntry) error

	// DeleteByPath removes every entry of path
	DeleteByPath(ctx context.Context, path string) error

	// Query returns the k entries nearest to vector by cosine distance,
	// ordered by distance, then path, then sequence
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)

	// FileHashes maps each stored path to the content hash it was indexed from
	FileHashes(ctx context.Context) (map[string]string, error)

	// Meta returns the recorded embedding model, ErrNotFound if none
	Meta(ctx context.Context) (Meta, error)

	// SetMeta records the embedding model
	SetMeta(ctx context.Context, meta Meta) error

	// Stats summarizes the store contents
	Stats(ctx context.Context) (Stats, error)

	// Reset removes every entry and the recorded model
	Reset(ctx context.Context) error

	Close() error
}

// Match is one query result
type Match struct {
	Entry    types.IndexEntry
	Distance float64 // cosine distance, 0 = identical direction
}

// Similarity converts the distance to a cosine similarity
func (m Match) Similarity() float64 {
	return 1 - m.Distance
}

// Meta identifies the embedding model and chunk window a store was built with
type Meta struct {
	Provider     string
	Model        string
	Dimension    int
	ChunkSize    int
	ChunkOverlap int
}

// Stats describes store contents
type Stats struct {
	Backend   string
	Entries   int
	Paths     int
	Model     string
	Dimension int
	IndexedAt time.Time // most recent write, zero if empty
}

// EnsureModel records meta on an empty store and rejects a store built with
// a different model, dimension or chunk window. A zero dimension or chunk
// size in meta matches any; a zero value on the store side is filled in.
func EnsureModel(ctx context.Context, s Store, meta Meta) error {
	current, err := s.Meta(ctx)
	if errors.Is(err, ErrNotFound) {
		return s.SetMeta(ctx, meta)
	}
	if err != nil {
		return err
	}
	if current.Model != meta.Model || current.Provider != meta.Provider {
		return fmt.Errorf("%w: store built with %s/%s, configured %s/%s; reindex with --reset",
			ErrModelMismatch, current.Provider, current.Model, meta.Provider, meta.Model)
	}
	if meta.Dimension > 0 && current.Dimension > 0 && current.Dimension != meta.Dimension {
		return fmt.Errorf("%w: store dimension %d, embedder dimension %d", ErrDimensionMismatch, current.Dimension, meta.Dimension)
	}
	if meta.ChunkSize > 0 && current.ChunkSize > 0 &&
		(current.ChunkSize != meta.ChunkSize || current.ChunkOverlap != meta.ChunkOverlap) {
		return fmt.Errorf("%w: store chunked %d/%d, configured %d/%d; reindex with --force or --reset",
			ErrChunkingMismatch, current.ChunkSize, current.ChunkOverlap, meta.ChunkSize, meta.ChunkOverlap)
	}

	changed := false
	if current.Dimension == 0 && meta.Dimension > 0 {
		current.Dimension = meta.Dimension
		changed = true
	}
	if current.ChunkSize == 0 && meta.ChunkSize > 0 {
		current.ChunkSize, current.ChunkOverlap = meta.ChunkSize, meta.ChunkOverlap
		changed = true
	}
	if changed {
		return s.SetMeta(ctx, current)
	}
	return nil
}

// validateEntries checks entries are complete and share one dimension
func validateEntries(entries []types.IndexEntry) (int, error) {
	dim := 0
	for i := range entries {
		e := &entries[i]
		if e.ID == "" || e.Chunk.Path == "" {
			return 0, fmt.Errorf("entry %d: id and path are required", i)
		}
		if len(e.Vector) == 0 {
			return 0, fmt.Errorf("entry %s: empty vector", e.ID)
		}
		if dim == 0 {
			dim = len(e.Vector)
		} else if len(e.Vector) != dim {
			return 0, fmt.Errorf("%w: entry %s has %d, batch has %d", ErrDimensionMismatch, e.ID, len(e.Vector), dim)
		}
	}
	return dim, nil
}
