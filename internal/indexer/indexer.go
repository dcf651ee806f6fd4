package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/coderag/internal/chunker"
	"github.com/dshills/coderag/internal/config"
	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/vectorstore"
	"github.com/dshills/coderag/pkg/types"
)

// ErrIndexingInProgress is returned when an indexing pass is already running
var ErrIndexingInProgress = errors.New("indexing already in progress")

// Indexer embeds chunks and keeps the vector store in step with the
// repository. Each file is replaced in the store as a unit.
type Indexer struct {
	store   vectorstore.Store
	embed   embedder.Embedder
	chunker *chunker.Chunker
	cfg     config.IndexingConfig
	logger  *slog.Logger

	// Worker pool configuration
	workers int

	// inFlight bounds concurrent embedding and store calls across all files
	inFlight *semaphore.Weighted

	run   IndexLock
	paths pathLocks
}

// File is one unit of indexing work: a loaded file and its structural
// record (nil when extraction was not run).
type File struct {
	Source types.SourceFile
	Record *types.StructuralRecord
}

// Options controls an indexing pass
type Options struct {
	// Force re-embeds files whose content hash is unchanged
	Force bool

	// Prune deletes stored paths that are not part of the pass
	Prune bool
}

// Failure records a file whose indexing failed. Its previous entries stay valid.
type Failure struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

// Statistics contains statistics about an indexing pass
type Statistics struct {
	FilesIndexed   int           `json:"filesIndexed" yaml:"files_indexed"`
	FilesUnchanged int           `json:"filesUnchanged" yaml:"files_unchanged"`
	FilesSkipped   int           `json:"filesSkipped" yaml:"files_skipped"` // not decodable as text
	FilesFailed    int           `json:"filesFailed" yaml:"files_failed"`
	FilesPruned    int           `json:"filesPruned" yaml:"files_pruned"`
	ChunksCreated  int           `json:"chunksCreated" yaml:"chunks_created"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
	Failures       []Failure     `json:"failures,omitempty" yaml:"failures,omitempty"`
	Skipped        []string      `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// New creates an Indexer. Chunk size and overlap come from cfg.Chunking and
// stay fixed for the Indexer's lifetime.
func New(store vectorstore.Store, embed embedder.Embedder, cfg config.Config, logger *slog.Logger) (*Indexer, error) {
	ch, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	ic := cfg.Indexing
	if ic.BatchSize <= 0 {
		ic.BatchSize = 32
	}
	ic.BatchSize = min(ic.BatchSize, embedder.MaxBatchSize)
	if ic.MaxInFlight <= 0 {
		ic.MaxInFlight = 4
	}
	if ic.MaxAttempts <= 0 {
		ic.MaxAttempts = 3
	}

	workers := cfg.Analysis.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Indexer{
		store:    store,
		embed:    embed,
		chunker:  ch,
		cfg:      ic,
		logger:   logger,
		workers:  workers,
		inFlight: semaphore.NewWeighted(int64(ic.MaxInFlight)),
	}, nil
}

// meta describes the embedder and chunk window for the store's model guard
func (idx *Indexer) meta() vectorstore.Meta {
	return vectorstore.Meta{
		Provider:     idx.embed.Provider(),
		Model:        idx.embed.Model(),
		Dimension:    idx.embed.Dimension(),
		ChunkSize:    idx.chunker.Size(),
		ChunkOverlap: idx.chunker.Overlap(),
	}
}

// recordChunking stores the indexer's chunk window after a full re-chunk
func (idx *Indexer) recordChunking(ctx context.Context) error {
	current, err := idx.store.Meta(ctx)
	if err != nil {
		return err
	}
	current.ChunkSize, current.ChunkOverlap = idx.chunker.Size(), idx.chunker.Overlap()
	if d := idx.embed.Dimension(); d > 0 {
		current.Dimension = d
	}
	return idx.store.SetMeta(ctx, current)
}

// Index embeds chunks of one file and returns its entries in chunk order.
// Nothing is written to the store.
func (idx *Indexer) Index(ctx context.Context, file types.SourceFile, chunks []types.Chunk, rec *types.StructuralRecord) ([]types.IndexEntry, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	hash := file.Hash()
	tags := types.TagsFor(&file, rec)
	entries := make([]types.IndexEntry, len(chunks))

	for start := 0; start < len(chunks); start += idx.cfg.BatchSize {
		end := min(start+idx.cfg.BatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		if err := idx.inFlight.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		resp, err := idx.embed.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		idx.inFlight.Release(1)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("embed chunks %d-%d: got %d vectors for %d chunks", start, end-1, len(resp.Embeddings), len(texts))
		}

		idx.logger.Debug("embedded batch", "path", file.Path, "from", start, "count", len(texts))

		for i, emb := range resp.Embeddings {
			c := chunks[start+i]
			entries[start+i] = types.IndexEntry{
				ID:       types.EntryID(c.Path, c.Seq, hash),
				Chunk:    c,
				Vector:   emb.Vector,
				Tags:     tags,
				FileHash: hash,
				ModTime:  file.ModTime,
				Model:    emb.Model,
			}
		}
	}
	return entries, nil
}

// Reindex chunks, embeds and atomically replaces the entries of one file.
// Any failure leaves the file's previous entries in place and is reported
// as an *types.IndexingFailedError. A file that is not valid text has its
// entries removed and returns the *types.EncodingError.
func (idx *Indexer) Reindex(ctx context.Context, f File) (int, error) {
	path := f.Source.Path
	unlock := idx.paths.lock(path)
	defer unlock()

	chunks, err := idx.chunker.Chunk(f.Source)
	if err != nil {
		if errors.Is(err, types.ErrEncoding) {
			if derr := idx.writeStore(ctx, func(ctx context.Context) error {
				return idx.store.DeleteByPath(ctx, path)
			}); derr != nil {
				return 0, &types.IndexingFailedError{Path: path, Err: derr}
			}
		}
		return 0, err
	}

	entries, err := idx.Index(ctx, f.Source, chunks, f.Record)
	if err != nil {
		return 0, &types.IndexingFailedError{Path: path, Err: err}
	}

	err = idx.writeStore(ctx, func(ctx context.Context) error {
		return idx.store.ReplacePath(ctx, path, entries)
	})
	if err != nil {
		return 0, &types.IndexingFailedError{Path: path, Err: err}
	}
	return len(entries), nil
}

// Remove deletes every entry of path
func (idx *Indexer) Remove(ctx context.Context, path string) error {
	unlock := idx.paths.lock(path)
	defer unlock()

	return idx.writeStore(ctx, func(ctx context.Context) error {
		return idx.store.DeleteByPath(ctx, path)
	})
}

// writeStore runs a store write under the in-flight limit with a per-attempt
// timeout and exponential backoff.
func (idx *Indexer) writeStore(ctx context.Context, op func(ctx context.Context) error) error {
	if err := idx.inFlight.Acquire(ctx, 1); err != nil {
		return err
	}
	defer idx.inFlight.Release(1)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(idx.cfg.MaxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		attemptCtx := ctx
		if idx.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, idx.cfg.Timeout)
			defer cancel()
		}
		err := op(attemptCtx)
		if err != nil && !transientStoreError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// transientStoreError reports whether a store failure is worth retrying
func transientStoreError(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, vectorstore.ErrDimensionMismatch),
		errors.Is(err, vectorstore.ErrModelMismatch):
		return false
	}
	return true
}

// IndexFiles indexes files concurrently. Files whose stored hash matches
// their content are skipped unless opts.Force is set. Per-file failures are
// collected in the statistics; the returned error is reserved for failures
// of the pass itself (model mismatch, unreachable store, cancellation).
func (idx *Indexer) IndexFiles(ctx context.Context, files []File, opts Options) (*Statistics, error) {
	if !idx.run.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.run.Release()

	startTime := time.Now()
	stats := &Statistics{}

	// A forced pass re-chunks every file, so it may replace a store built
	// with another chunk window
	rechunk := false
	if err := vectorstore.EnsureModel(ctx, idx.store, idx.meta()); err != nil {
		if !opts.Force || !errors.Is(err, vectorstore.ErrChunkingMismatch) {
			return nil, err
		}
		idx.logger.Info("re-chunking every file", "reason", err)
		rechunk = true
	}

	stored, err := idx.store.FileHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored file hashes: %w", err)
	}

	var (
		indexed, unchanged, chunks atomic.Int32
		mu                         sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	for i := range files {
		f := files[i]
		if !opts.Force && stored[f.Source.Path] == f.Source.Hash() {
			unchanged.Add(1)
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			n, err := idx.Reindex(gctx, f)
			switch {
			case err == nil:
				indexed.Add(1)
				chunks.Add(int32(n))
				return nil
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, types.ErrEncoding) {
				idx.logger.Warn("skipping file", "path", f.Source.Path, "error", err)
				stats.Skipped = append(stats.Skipped, f.Source.Path)
				return nil
			}
			idx.logger.Warn("indexing failed", "path", f.Source.Path, "error", err)
			stats.Failures = append(stats.Failures, Failure{Path: f.Source.Path, Error: err.Error()})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if opts.Prune {
		pruned, err := idx.prune(ctx, files, stored)
		if err != nil {
			return nil, err
		}
		stats.FilesPruned = pruned
	}

	switch {
	case !rechunk:
		// The embedder may have learned its dimension during the pass
		if err := vectorstore.EnsureModel(ctx, idx.store, idx.meta()); err != nil {
			return nil, err
		}
	case len(stats.Failures) == 0:
		if err := idx.recordChunking(ctx); err != nil {
			return nil, err
		}
	default:
		// Keep the old window on record so the next forced pass retries
		idx.logger.Warn("re-chunk incomplete, chunk window not recorded", "failed", len(stats.Failures))
	}

	sort.Slice(stats.Failures, func(i, j int) bool { return stats.Failures[i].Path < stats.Failures[j].Path })
	sort.Strings(stats.Skipped)

	stats.FilesIndexed = int(indexed.Load())
	stats.FilesUnchanged = int(unchanged.Load())
	stats.FilesSkipped = len(stats.Skipped)
	stats.FilesFailed = len(stats.Failures)
	stats.ChunksCreated = int(chunks.Load())
	stats.Duration = time.Since(startTime)

	idx.logger.Info("indexing complete",
		"indexed", stats.FilesIndexed,
		"unchanged", stats.FilesUnchanged,
		"skipped", stats.FilesSkipped,
		"failed", stats.FilesFailed,
		"pruned", stats.FilesPruned,
		"chunks", stats.ChunksCreated,
		"duration", stats.Duration)

	return stats, nil
}

// prune deletes stored paths that are absent from files
func (idx *Indexer) prune(ctx context.Context, files []File, stored map[string]string) (int, error) {
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f.Source.Path] = true
	}

	var stale []string
	for path := range stored {
		if !present[path] {
			stale = append(stale, path)
		}
	}
	sort.Strings(stale)

	for _, path := range stale {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := idx.Remove(ctx, path); err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", path, err)
		}
		idx.logger.Debug("pruned stale path", "path", path)
	}
	return len(stale), nil
}

// Reset clears the store so the next pass rebuilds it from scratch
func (idx *Indexer) Reset(ctx context.Context) error {
	if !idx.run.TryAcquire() {
		return ErrIndexingInProgress
	}
	defer idx.run.Release()
	return idx.store.Reset(ctx)
}
