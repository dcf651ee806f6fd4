package retriever

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/coderag/internal/config"
	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/graph"
	"github.com/dshills/coderag/internal/vectorstore"
	"github.com/dshills/coderag/pkg/types"
)

// ErrEmptyQuery is returned for a blank query
var ErrEmptyQuery = errors.New("query cannot be empty")

const (
	cacheSize = 256
	cacheTTL  = 15 * time.Minute
)

// cacheEntry represents cached results with expiration time
type cacheEntry struct {
	results   []types.RankedChunk
	expiresAt time.Time
}

// Retriever answers natural-language queries with ranked chunks: vector
// similarity from the store, re-ranked with structural signals.
type Retriever struct {
	store  vectorstore.Store
	embed  embedder.Embedder
	cfg    config.RetrievalConfig
	logger *slog.Logger

	mu    sync.RWMutex
	graph *graph.Graph

	cache *lru.Cache[[32]byte, *cacheEntry]
	now   func() time.Time
}

// New creates a Retriever. g may be nil, in which case no proximity boost
// is applied until SetGraph is called.
func New(store vectorstore.Store, embed embedder.Embedder, g *graph.Graph, cfg config.Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	rc := cfg.Retrieval
	if rc.K <= 0 {
		rc.K = 8
	}
	if rc.FetchMultiplier <= 0 {
		rc.FetchMultiplier = 3
	}

	return &Retriever{
		store:  store,
		embed:  embed,
		cfg:    rc,
		logger: logger,
		graph:  g,
		cache:  cache,
		now:    time.Now,
	}
}

// SetGraph swaps the dependency graph used for proximity boosts and drops
// cached results.
func (r *Retriever) SetGraph(g *graph.Graph) {
	r.mu.Lock()
	r.graph = g
	r.mu.Unlock()
	r.InvalidateCache()
}

// InvalidateCache drops every cached result. Call it after the index changes.
func (r *Retriever) InvalidateCache() {
	r.cache.Purge()
}

// Retrieve returns up to k chunks for query ordered by score, then path,
// then chunk sequence. k <= 0 uses the configured default. An empty or
// unreachable store fails with types.ErrRetrievalUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]types.RankedChunk, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = r.cfg.K
	}

	key := cacheKey(query, k)
	if entry, ok := r.cache.Get(key); ok {
		if r.now().Before(entry.expiresAt) {
			return copyResults(entry.results), nil
		}
		r.cache.Remove(key)
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	if err := r.checkModel(ctx); err != nil {
		return nil, err
	}

	embedding, err := r.embed.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate query embedding: %w", types.ErrRetrievalUnavailable, err)
	}

	matches, err := r.store.Query(ctx, embedding.Vector, k*r.cfg.FetchMultiplier)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrRetrievalUnavailable, err)
	}
	matches = collapse(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no indexed entries match", types.ErrRetrievalUnavailable)
	}

	results := r.rank(matches)
	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Rank = i + 1
	}

	r.logger.Debug("retrieved", "query_len", len(query), "fetched", len(matches), "returned", len(results))

	r.cache.Add(key, &cacheEntry{results: copyResults(results), expiresAt: r.now().Add(cacheTTL)})
	return results, nil
}

// checkModel refuses to query a store built with another embedding model
func (r *Retriever) checkModel(ctx context.Context) error {
	meta, err := r.store.Meta(ctx)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return fmt.Errorf("%w: store is empty", types.ErrRetrievalUnavailable)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrRetrievalUnavailable, err)
	}
	if meta.Model != r.embed.Model() || meta.Provider != r.embed.Provider() {
		return fmt.Errorf("%w: %w: store built with %s/%s, configured %s/%s; reindex with --reset",
			types.ErrRetrievalUnavailable, vectorstore.ErrModelMismatch,
			meta.Provider, meta.Model, r.embed.Provider(), r.embed.Model())
	}
	return nil
}

// collapse keeps the nearest match per (path, seq). Two generations of one
// file can coexist briefly while a remote store replaces it.
func collapse(matches []vectorstore.Match) []vectorstore.Match {
	type key struct {
		path string
		seq  int
	}
	best := make(map[key]int, len(matches))
	out := make([]vectorstore.Match, 0, len(matches))
	for _, m := range matches {
		k := key{m.Entry.Chunk.Path, m.Entry.Chunk.Seq}
		if i, ok := best[k]; ok {
			if m.Distance < out[i].Distance {
				out[i] = m
			}
			continue
		}
		best[k] = len(out)
		out = append(out, m)
	}
	return out
}

// rank scores matches and sorts them by score, path, then sequence
func (r *Retriever) rank(matches []vectorstore.Match) []types.RankedChunk {
	w := r.cfg.Weights
	proximity := r.proximity(matches)

	var oldest, newest time.Time
	for i, m := range matches {
		mt := m.Entry.ModTime
		if i == 0 || mt.Before(oldest) {
			oldest = mt
		}
		if i == 0 || mt.After(newest) {
			newest = mt
		}
	}
	span := newest.Sub(oldest)

	results := make([]types.RankedChunk, len(matches))
	for i, m := range matches {
		e := m.Entry
		var b types.ScoreBreakdown
		b.Similarity = w.Similarity * m.Similarity()
		if e.Tags.EntryPoint || e.Tags.Config {
			b.Structural = w.Structural
		}
		if hops, ok := proximity[e.Chunk.Path]; ok && hops > 0 {
			b.Proximity = w.Proximity / float64(hops)
		}
		if span > 0 {
			b.Recency = w.Recency * float64(e.ModTime.Sub(oldest)) / float64(span)
		}

		results[i] = types.RankedChunk{
			Chunk:     e.Chunk,
			Tags:      e.Tags,
			FileHash:  e.FileHash,
			Distance:  m.Distance,
			Score:     b.Similarity + b.Structural + b.Proximity + b.Recency,
			Breakdown: b,
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Path != b.Chunk.Path {
			return a.Chunk.Path < b.Chunk.Path
		}
		return a.Chunk.Seq < b.Chunk.Seq
	})
	return results
}

// proximity maps files near the most similar files to their hop distance.
// Seeds map to 0 and earn no boost.
func (r *Retriever) proximity(matches []vectorstore.Match) map[string]int {
	r.mu.RLock()
	g := r.graph
	r.mu.RUnlock()
	if g == nil || r.cfg.SeedCount <= 0 || r.cfg.ProximityHops <= 0 {
		return nil
	}

	// matches arrive ordered by distance
	var seeds []string
	seen := make(map[string]bool)
	for _, m := range matches {
		p := m.Entry.Chunk.Path
		if seen[p] {
			continue
		}
		seen[p] = true
		seeds = append(seeds, p)
		if len(seeds) == r.cfg.SeedCount {
			break
		}
	}
	return g.WithinHops(seeds, r.cfg.ProximityHops)
}

// cacheKey computes a unique hash for a query
func cacheKey(query string, k int) [32]byte {
	return sha256.Sum256([]byte(query + "|" + strconv.Itoa(k)))
}

// copyResults creates a copy of results whose tag slices are not shared
func copyResults(src []types.RankedChunk) []types.RankedChunk {
	dst := make([]types.RankedChunk, len(src))
	for i, rc := range src {
		dst[i] = rc
		dst[i].Tags.Symbols = append([]string(nil), rc.Tags.Symbols...)
		dst[i].Tags.Roles = append([]string(nil), rc.Tags.Roles...)
	}
	return dst
}
