package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag/pkg/types"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// entriesFor builds one entry per vector for path, all from the same file hash
func entriesFor(path, hash string, vectors ...[]float32) []types.IndexEntry {
	entries := make([]types.IndexEntry, len(vectors))
	for i, v := range vectors {
		entries[i] = types.IndexEntry{
			ID: types.EntryID(path, i, hash),
			Chunk: types.Chunk{
				Path:        path,
				Seq:         i,
				StartLine:   i*10 + 1,
				EndLine:     i*10 + 10,
				StartOffset: i * 100,
				EndOffset:   i*100 + 120,
				StartByte:   i * 100,
				EndByte:     i*100 + 120,
				Content:     fmt.Sprintf("%s chunk %d", path, i),
			},
			Vector:   v,
			Tags:     types.Tags{Language: types.LangGo, Symbols: []string{"Handler"}},
			FileHash: hash,
			ModTime:  time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
			Model:    "test-model",
		}
	}
	return entries
}

func TestOpenSQLiteAppliesMigrations(t *testing.T) {
	store := setupTestStore(t)

	version, err := SchemaVersion(context.Background(), store.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version.String())
}

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/dir/coderag.db"
	store, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening an existing database is a no-op migration
	store, err = OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}

func TestRollbackMigration(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	require.NoError(t, RollbackMigration(ctx, store.db))
	version, err := SchemaVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version.String())

	require.NoError(t, RollbackMigration(ctx, store.db))
	version, err = SchemaVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", version.String())

	require.NoError(t, ApplyMigrations(ctx, store.db))
	version, err = SchemaVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version.String())
}

func TestUpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	require.NoError(t, store.Upsert(ctx, entriesFor("a.go", "h1",
		[]float32{1, 0, 0},
		[]float32{0, 1, 0},
	)))
	require.NoError(t, store.Upsert(ctx, entriesFor("b.go", "h2",
		[]float32{0.9, 0.1, 0},
	)))

	matches, err := store.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "a.go", matches[0].Entry.Chunk.Path)
	assert.Equal(t, 0, matches[0].Entry.Chunk.Seq)
	assert.InDelta(t, 0, matches[0].Distance, 1e-6)
	assert.InDelta(t, 1, matches[0].Similarity(), 1e-6)
	assert.Equal(t, "b.go", matches[1].Entry.Chunk.Path)

	// Entries round-trip without their vectors
	got := matches[0].Entry
	assert.Nil(t, got.Vector)
	assert.Equal(t, "h1", got.FileHash)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, types.LangGo, got.Tags.Language)
	assert.Equal(t, []string{"Handler"}, got.Tags.Symbols)
	assert.Nil(t, got.Tags.Roles)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC), got.ModTime)
	assert.Equal(t, 1, got.Chunk.StartLine)
	assert.Equal(t, 120, got.Chunk.EndOffset)
}

func TestQueryTieBreaksByPathAndSeq(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	same := []float32{0, 1}
	require.NoError(t, store.Upsert(ctx, entriesFor("z.go", "h", same, same)))
	require.NoError(t, store.Upsert(ctx, entriesFor("a.go", "h", same)))

	matches, err := store.Query(ctx, same, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	var order []string
	for _, m := range matches {
		order = append(order, fmt.Sprintf("%s#%d", m.Entry.Chunk.Path, m.Entry.Chunk.Seq))
	}
	assert.Equal(t, []string{"a.go#0", "z.go#0", "z.go#1"}, order)
}

func TestQueryEdgeCases(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	matches, err := store.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches, "empty store")

	require.NoError(t, store.Upsert(ctx, entriesFor("a.go", "h", []float32{1, 0})))

	matches, err = store.Query(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, matches, "k = 0")

	matches, err = store.Query(ctx, nil, 5)
	require.NoError(t, err)
	assert.Empty(t, matches, "empty vector")

	matches, err = store.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches, "other dimension")
}

func TestUpsertValidation(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	mixed := entriesFor("a.go", "h", []float32{1, 0}, []float32{1, 0, 0})
	err := store.Upsert(ctx, mixed)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	noVector := entriesFor("a.go", "h", []float32{1})
	noVector[0].Vector = nil
	assert.Error(t, store.Upsert(ctx, noVector))

	hashes, err := store.FileHashes(ctx)
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestReplacePath(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	require.NoError(t, store.ReplacePath(ctx, "a.go", entriesFor("a.go", "old",
		[]float32{1, 0}, []float32{1, 0}, []float32{1, 0},
	)))
	require.NoError(t, store.ReplacePath(ctx, "b.go", entriesFor("b.go", "keep", []float32{0, 1})))

	// The new version has fewer chunks; the stale third chunk must go
	require.NoError(t, store.ReplacePath(ctx, "a.go", entriesFor("a.go", "new",
		[]float32{1, 0}, []float32{1, 0},
	)))

	matches, err := store.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	var aEntries int
	for _, m := range matches {
		if m.Entry.Chunk.Path == "a.go" {
			aEntries++
			assert.Equal(t, "new", m.Entry.FileHash)
		}
	}
	assert.Equal(t, 2, aEntries)

	hashes, err := store.FileHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.go": "new", "b.go": "keep"}, hashes)

	// Replacing with nothing removes the file
	require.NoError(t, store.ReplacePath(ctx, "a.go", nil))
	hashes, err = store.FileHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b.go": "keep"}, hashes)
}

func TestReplacePathRejectsForeignEntries(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	require.NoError(t, store.ReplacePath(ctx, "a.go", entriesFor("a.go", "h", []float32{1, 0})))

	err := store.ReplacePath(ctx, "a.go", entriesFor("b.go", "h", []float32{1, 0}))
	require.Error(t, err)

	// The failed replacement left the old version intact
	hashes, err := store.FileHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.go": "h"}, hashes)
}

func TestReplacePathConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	require.NoError(t, store.ReplacePath(ctx, "a.go", entriesFor("a.go", "v0", []float32{1, 0}, []float32{1, 0})))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			matches, err := store.Query(ctx, []float32{1, 0}, 10)
			if err == nil && len(matches) != 2 {
				err = fmt.Errorf("reader saw %d entries", len(matches))
			}
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				return
			}
		}
	}()

	for i := 1; i <= 20; i++ {
		hash := fmt.Sprintf("v%d", i)
		require.NoError(t, store.ReplacePath(ctx, "a.go", entriesFor("a.go", hash, []float32{1, 0}, []float32{1, 0})))
	}
	close(stop)
	wg.Wait()

	select {
	case err := <-errs:
		t.Fatal(err)
	default:
	}
}

func TestDeleteByPath(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	require.NoError(t, store.Upsert(ctx, entriesFor("a.go", "h", []float32{1, 0})))
	require.NoError(t, store.Upsert(ctx, entriesFor("b.go", "h", []float32{1, 0})))

	require.NoError(t, store.DeleteByPath(ctx, "a.go"))
	require.NoError(t, store.DeleteByPath(ctx, "missing.go"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.Paths)
}

func TestMetaAndEnsureModel(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	_, err := store.Meta(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	// First run records the model, dimension still unknown
	require.NoError(t, EnsureModel(ctx, store, Meta{Provider: "ollama", Model: "nomic-embed-text"}))
	meta, err := store.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, Meta{Provider: "ollama", Model: "nomic-embed-text"}, meta)

	// The learned dimension is filled in
	require.NoError(t, EnsureModel(ctx, store, Meta{Provider: "ollama", Model: "nomic-embed-text", Dimension: 768}))
	meta, err = store.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, 768, meta.Dimension)

	err = EnsureModel(ctx, store, Meta{Provider: "ollama", Model: "mxbai-embed-large"})
	assert.ErrorIs(t, err, ErrModelMismatch)
	assert.Contains(t, err.Error(), "--reset")

	err = EnsureModel(ctx, store, Meta{Provider: "openai", Model: "nomic-embed-text"})
	assert.ErrorIs(t, err, ErrModelMismatch)

	err = EnsureModel(ctx, store, Meta{Provider: "ollama", Model: "nomic-embed-text", Dimension: 512})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEnsureModelChunking(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	base := Meta{Provider: "ollama", Model: "nomic-embed-text", Dimension: 768}

	withWindow := base
	withWindow.ChunkSize, withWindow.ChunkOverlap = 1024, 128
	require.NoError(t, EnsureModel(ctx, store, withWindow))
	meta, err := store.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, withWindow, meta)

	// callers that do not chunk match any window
	require.NoError(t, EnsureModel(ctx, store, base))

	smaller := withWindow
	smaller.ChunkSize = 512
	err = EnsureModel(ctx, store, smaller)
	assert.ErrorIs(t, err, ErrChunkingMismatch)
	assert.Contains(t, err.Error(), "--reset")

	overlap := withWindow
	overlap.ChunkOverlap = 64
	assert.ErrorIs(t, EnsureModel(ctx, store, overlap), ErrChunkingMismatch)
}

func TestEnsureModelFillsChunking(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	require.NoError(t, store.SetMeta(ctx, Meta{Provider: "local", Model: "local-hash-v1", Dimension: 2}))

	require.NoError(t, EnsureModel(ctx, store, Meta{Provider: "local", Model: "local-hash-v1", Dimension: 2, ChunkSize: 64, ChunkOverlap: 8}))
	meta, err := store.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, 64, meta.ChunkSize)
	assert.Equal(t, 8, meta.ChunkOverlap)
}

func TestStatsAndReset(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Backend: BackendSQLite}, stats)

	require.NoError(t, store.SetMeta(ctx, Meta{Provider: "local", Model: "local-hash-v1", Dimension: 2}))
	require.NoError(t, store.Upsert(ctx, entriesFor("a.go", "h", []float32{1, 0}, []float32{0, 1})))
	require.NoError(t, store.Upsert(ctx, entriesFor("b.go", "h", []float32{1, 1})))

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 2, stats.Paths)
	assert.Equal(t, "local-hash-v1", stats.Model)
	assert.Equal(t, 2, stats.Dimension)
	assert.False(t, stats.IndexedAt.IsZero())

	require.NoError(t, store.Reset(ctx))
	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
	assert.Empty(t, stats.Model)

	_, err = store.Meta(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineDistance(tt.a, tt.b), 1e-6)
		})
	}
}

func TestSerializeVectorRoundTrip(t *testing.T) {
	v := []float32{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, v, deserializeVector(serializeVector(v)))

	blob, err := encodeVector(v)
	require.NoError(t, err)
	assert.Len(t, blob, 16)
}
