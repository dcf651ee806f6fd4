package indexer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag/internal/config"
	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/vectorstore"
	"github.com/dshills/coderag/pkg/types"
)

// mockEmbedder implements embedder.Embedder for testing. Vectors are
// derived from the text so identical chunks embed identically.
type mockEmbedder struct {
	dimension int
	failOn    string // texts containing this fail
	callCount int
	mu        sync.Mutex
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dimension: 8}
}

func (m *mockEmbedder) vector(text string) []float32 {
	v := make([]float32, m.dimension)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	sum := h.Sum64()
	for i := range v {
		v[i] = float32((sum>>(i*8))&0xff) + 1
	}
	return v
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := m.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.callCount++

	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if m.failOn != "" && strings.Contains(text, m.failOn) {
			return nil, fmt.Errorf("%w: refusing %q", embedder.ErrProviderFailed, m.failOn)
		}
		embeddings[i] = &embedder.Embedding{
			Vector:    m.vector(text),
			Dimension: m.dimension,
			Provider:  "mock",
			Model:     "test-v1",
		}
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: embeddings, Provider: "mock", Model: "test-v1"}, nil
}

func (m *mockEmbedder) Dimension() int   { return m.dimension }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "test-v1" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) getCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockEmbedder) setFailOn(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = s
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Chunking.Size = 40
	cfg.Chunking.Overlap = 8
	cfg.Indexing.BatchSize = 2
	cfg.Indexing.MaxAttempts = 1
	cfg.Analysis.Workers = 4
	return cfg
}

func setupTestStore(t testing.TB) vectorstore.Store {
	t.Helper()
	store, err := vectorstore.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func setupIndexer(t testing.TB) (*Indexer, vectorstore.Store, *mockEmbedder) {
	t.Helper()
	store := setupTestStore(t)
	emb := newMockEmbedder()
	idx, err := New(store, emb, testConfig(), nil)
	require.NoError(t, err)
	return idx, store, emb
}

func testFile(path, content string) File {
	return File{Source: types.SourceFile{
		Path:     path,
		Content:  []byte(content),
		Size:     int64(len(content)),
		Language: types.DetectLanguage(path),
		ModTime:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}}
}

const mainGo = `package main

import "fmt"

func main() {
	fmt.Println("hello from the indexer test")
}
`

func TestNew(t *testing.T) {
	cfg := testConfig()
	cfg.Chunking.Overlap = cfg.Chunking.Size

	_, err := New(setupTestStore(t), newMockEmbedder(), cfg, nil)
	assert.Error(t, err)

	idx, _, _ := setupIndexer(t)
	assert.Equal(t, 2, idx.cfg.BatchSize)
	assert.Equal(t, 4, idx.workers)
}

func TestIndexIsDeterministic(t *testing.T) {
	idx, _, _ := setupIndexer(t)
	ctx := context.Background()
	f := testFile("main.go", mainGo)
	rec := &types.StructuralRecord{
		Path:       "main.go",
		Language:   types.LangGo,
		Symbols:    []types.Symbol{{Name: "main", Kind: types.KindFunction, Line: 5}},
		EntryPoint: false,
	}

	chunks, err := idx.chunker.Chunk(f.Source)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2, "file must span several batches")

	first, err := idx.Index(ctx, f.Source, chunks, rec)
	require.NoError(t, err)
	second, err := idx.Index(ctx, f.Source, chunks, rec)
	require.NoError(t, err)

	require.Len(t, first, len(chunks))
	assert.Equal(t, first, second)

	for i, e := range first {
		assert.Equal(t, chunks[i], e.Chunk)
		assert.Equal(t, types.EntryID("main.go", i, f.Source.Hash()), e.ID)
		assert.Equal(t, []string{"main"}, e.Tags.Symbols)
		assert.Equal(t, "test-v1", e.Model)
		assert.Len(t, e.Vector, 8)
	}
}

func TestIndexFilesSkipsUnchanged(t *testing.T) {
	idx, store, emb := setupIndexer(t)
	ctx := context.Background()
	files := []File{testFile("main.go", mainGo), testFile("README.md", "# coderag\n")}

	stats, err := idx.IndexFiles(ctx, files, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 0, stats.FilesUnchanged)
	assert.Positive(t, stats.ChunksCreated)
	calls := emb.getCallCount()

	stats, err = idx.IndexFiles(ctx, files, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesIndexed)
	assert.Equal(t, 2, stats.FilesUnchanged)
	assert.Equal(t, calls, emb.getCallCount(), "unchanged files are not re-embedded")

	stats, err = idx.IndexFiles(ctx, files, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)

	meta, err := store.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, vectorstore.Meta{Provider: "mock", Model: "test-v1", Dimension: 8, ChunkSize: 40, ChunkOverlap: 8}, meta)
}

func TestIndexFilesReplacesChangedFile(t *testing.T) {
	idx, store, _ := setupIndexer(t)
	ctx := context.Background()

	_, err := idx.IndexFiles(ctx, []File{testFile("main.go", mainGo)}, Options{})
	require.NoError(t, err)

	changed := testFile("main.go", "package main\n\nfunc main() {}\n")
	stats, err := idx.IndexFiles(ctx, []File{changed}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)

	hashes, err := store.FileHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, changed.Source.Hash(), hashes["main.go"])

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Entries, "stale chunks of the old version are gone")
}

func TestIndexFilesFailureKeepsPreviousEntries(t *testing.T) {
	idx, store, emb := setupIndexer(t)
	ctx := context.Background()

	original := testFile("main.go", mainGo)
	_, err := idx.IndexFiles(ctx, []File{original, testFile("util.go", "package main\n")}, Options{})
	require.NoError(t, err)
	before, err := store.Stats(ctx)
	require.NoError(t, err)

	emb.setFailOn("BROKEN")
	broken := testFile("main.go", mainGo+"// BROKEN\n")
	stats, err := idx.IndexFiles(ctx, []File{broken, testFile("util.go", "package main\n")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesFailed)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, "main.go", stats.Failures[0].Path)

	hashes, err := store.FileHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, original.Source.Hash(), hashes["main.go"])

	after, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Entries, after.Entries)

	_, err = idx.Reindex(ctx, broken)
	assert.ErrorIs(t, err, types.ErrIndexingFailed)
	var failed *types.IndexingFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "main.go", failed.Path)
	assert.ErrorIs(t, err, embedder.ErrProviderFailed)
}

func TestIndexFilesSkipsUndecodableFiles(t *testing.T) {
	idx, store, _ := setupIndexer(t)
	ctx := context.Background()

	_, err := idx.IndexFiles(ctx, []File{testFile("data.txt", "plain text for now\n")}, Options{})
	require.NoError(t, err)

	binary := testFile("data.txt", "\xff\xfe\x00binary")
	stats, err := idx.IndexFiles(ctx, []File{binary}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesSkipped)
	assert.Equal(t, []string{"data.txt"}, stats.Skipped)
	assert.Equal(t, 0, stats.FilesFailed)

	hashes, err := store.FileHashes(ctx)
	require.NoError(t, err)
	assert.NotContains(t, hashes, "data.txt")
}

func TestIndexFilesPrune(t *testing.T) {
	idx, store, _ := setupIndexer(t)
	ctx := context.Background()

	_, err := idx.IndexFiles(ctx, []File{testFile("a.go", "package a\n"), testFile("b.go", "package b\n")}, Options{})
	require.NoError(t, err)

	stats, err := idx.IndexFiles(ctx, []File{testFile("a.go", "package a\n")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesPruned)

	stats, err = idx.IndexFiles(ctx, []File{testFile("a.go", "package a\n")}, Options{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesPruned)

	hashes, err := store.FileHashes(ctx)
	require.NoError(t, err)
	assert.Len(t, hashes, 1)
	assert.Contains(t, hashes, "a.go")
}

func TestIndexFilesModelMismatch(t *testing.T) {
	idx, store, _ := setupIndexer(t)
	ctx := context.Background()

	require.NoError(t, store.SetMeta(ctx, vectorstore.Meta{Provider: "ollama", Model: "nomic-embed-text", Dimension: 768}))

	_, err := idx.IndexFiles(ctx, []File{testFile("a.go", "package a\n")}, Options{})
	assert.ErrorIs(t, err, vectorstore.ErrModelMismatch)

	require.NoError(t, idx.Reset(ctx))
	stats, err := idx.IndexFiles(ctx, []File{testFile("a.go", "package a\n")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
}

func TestIndexFilesChunkingChange(t *testing.T) {
	idx, store, _ := setupIndexer(t)
	ctx := context.Background()
	files := []File{testFile("main.go", mainGo)}

	_, err := idx.IndexFiles(ctx, files, Options{})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Chunking.Size = 16
	cfg.Chunking.Overlap = 4
	resized, err := New(store, newMockEmbedder(), cfg, nil)
	require.NoError(t, err)

	// unchanged files would otherwise keep the old window
	_, err = resized.IndexFiles(ctx, files, Options{})
	assert.ErrorIs(t, err, vectorstore.ErrChunkingMismatch)

	stats, err := resized.IndexFiles(ctx, files, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 0, stats.FilesUnchanged)

	meta, err := store.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, meta.ChunkSize)
	assert.Equal(t, 4, meta.ChunkOverlap)

	matches, err := store.Query(ctx, newMockEmbedder().vector(mainGo), 100)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.LessOrEqual(t, len([]rune(m.Entry.Chunk.Content)), 16)
	}

	stats, err = resized.IndexFiles(ctx, files, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesUnchanged)

	// the original window is now the stale one
	_, err = idx.IndexFiles(ctx, files, Options{})
	assert.ErrorIs(t, err, vectorstore.ErrChunkingMismatch)
}

func TestIndexFilesInProgress(t *testing.T) {
	idx, _, _ := setupIndexer(t)

	require.True(t, idx.run.TryAcquire())
	_, err := idx.IndexFiles(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrIndexingInProgress)
	assert.ErrorIs(t, idx.Reset(context.Background()), ErrIndexingInProgress)

	idx.run.Release()
	_, err = idx.IndexFiles(context.Background(), nil, Options{})
	assert.NoError(t, err)
}

func TestIndexFilesCancelled(t *testing.T) {
	idx, store, _ := setupIndexer(t)

	_, err := idx.IndexFiles(context.Background(), []File{testFile("a.go", "package a\n")}, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = idx.IndexFiles(ctx, []File{testFile("a.go", "package a // changed\n")}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	// Committed entries are untouched
	hashes, err := store.FileHashes(context.Background())
	require.NoError(t, err)
	assert.Len(t, hashes, 1)
}

func TestPathLocksSerializeWriters(t *testing.T) {
	var locks pathLocks
	var (
		wg      sync.WaitGroup
		active  int
		maxSeen int
		mu      sync.Mutex
	)

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("same.go")
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, locks.locks, "released locks are dropped")
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}
