package assembler

import (
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/graph"
	"github.com/dshills/coderag/pkg/types"
)

// DefaultEdgeShare is the fraction of the budget reserved for dependency facts
const DefaultEdgeShare = 0.10

// Assembler builds token-bounded context payloads
type Assembler struct {
	edgeShare float64
	logger    *slog.Logger
}

// New creates an Assembler. edgeShare outside (0, 1) uses DefaultEdgeShare.
func New(edgeShare float64, logger *slog.Logger) *Assembler {
	if edgeShare <= 0 || edgeShare >= 1 {
		edgeShare = DefaultEdgeShare
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{edgeShare: edgeShare, logger: logger}
}

// reserve returns the part of budget set aside for facts
func (a *Assembler) reserve(budget int) int {
	return int(math.Floor(float64(budget) * a.edgeShare))
}

// Assemble packs ranked chunks greedily in rank order, stopping before the
// first chunk that would overflow the chunk budget. A leading chunk that
// alone overflows is cut at a line boundary; when not even its first line
// fits, the payload has no chunks. Edges touching an included file are then
// added as facts within the reserved share, provided their other end is
// among the ranked input or external.
func (a *Assembler) Assemble(ranked []types.RankedChunk, edges []types.DependencyEdge, budget int) types.ContextPayload {
	payload := types.ContextPayload{Budget: budget}
	if budget <= 0 {
		return payload
	}

	factBudget := a.reserve(budget)
	chunkBudget := budget - factBudget

	for i, rc := range ranked {
		tokens := types.EstimateTokens(rc.Chunk.Content)
		if payload.TokensUsed+tokens > chunkBudget {
			if i > 0 {
				break
			}
			pc, ok := truncate(rc, chunkBudget)
			if !ok {
				a.logger.Debug("leading chunk has no line that fits", "path", rc.Chunk.Path, "tokens", tokens)
				break
			}
			payload.Chunks = append(payload.Chunks, pc)
			payload.TokensUsed += pc.Tokens
			payload.Truncated = true
			a.logger.Debug("truncated leading chunk", "path", rc.Chunk.Path, "tokens", tokens, "kept", pc.Tokens)
			break
		}
		payload.Chunks = append(payload.Chunks, types.PayloadChunk{
			Path:      rc.Chunk.Path,
			StartLine: rc.Chunk.StartLine,
			EndLine:   rc.Chunk.EndLine,
			Content:   rc.Chunk.Content,
			Score:     rc.Score,
			Tokens:    tokens,
		})
		payload.TokensUsed += tokens
	}

	included := make(map[string]bool, len(payload.Chunks))
	for _, c := range payload.Chunks {
		included[c.Path] = true
	}
	inputs := make(map[string]bool, len(ranked))
	for _, rc := range ranked {
		inputs[rc.Chunk.Path] = true
	}

	var candidates []types.DependencyEdge
	for _, e := range edges {
		outgoing := included[e.Source] && (e.External || inputs[e.Target])
		incoming := !e.External && included[e.Target] && inputs[e.Source]
		if outgoing || incoming {
			candidates = append(candidates, e)
		}
	}
	payload.Facts, payload.TokensUsed = addFacts(candidates, factBudget, payload.TokensUsed)
	return payload
}

// addFacts appends facts in edge order while they fit in budget
func addFacts(edges []types.DependencyEdge, budget, used int) ([]types.DependencyEdge, int) {
	sorted := append([]types.DependencyEdge(nil), edges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	var facts []types.DependencyEdge
	spent := 0
	for i, e := range sorted {
		if i > 0 && e == sorted[i-1] {
			continue
		}
		tokens := types.EstimateTokens(e.Fact())
		if spent+tokens > budget {
			continue
		}
		facts = append(facts, e)
		spent += tokens
	}
	return facts, used + spent
}

// truncate keeps the longest run of whole leading lines of rc that fits in
// budget. It reports false when the first line alone does not fit.
func truncate(rc types.RankedChunk, budget int) (types.PayloadChunk, bool) {
	maxBytes := budget * types.CharsPerToken
	if maxBytes <= 0 {
		return types.PayloadChunk{}, false
	}

	content := rc.Chunk.Content
	cut := 0
	lines := 0
	for cut < len(content) {
		next := strings.IndexByte(content[cut:], '\n')
		end := len(content)
		if next >= 0 {
			end = cut + next + 1
		}
		if end > maxBytes {
			break
		}
		cut = end
		lines++
	}

	if cut == 0 {
		return types.PayloadChunk{}, false
	}

	kept := content[:cut]
	return types.PayloadChunk{
		Path:      rc.Chunk.Path,
		StartLine: rc.Chunk.StartLine,
		EndLine:   rc.Chunk.StartLine + lines - 1,
		Content:   kept,
		Score:     rc.Score,
		Tokens:    types.EstimateTokens(kept),
		Truncated: true,
	}, true
}

// Structural builds a graph-only payload for when retrieval is unavailable.
// Facts are the edges of the focus files, all of which are repository
// paths; internal targets outside the graph are dropped. The whole budget
// is available to facts.
func (a *Assembler) Structural(g *graph.Graph, focus []string, budget int) types.ContextPayload {
	payload := types.ContextPayload{Budget: budget, Degraded: true}
	if g == nil || budget <= 0 {
		return payload
	}

	var edges []types.DependencyEdge
	for _, p := range focus {
		for _, e := range g.EdgesOf(p) {
			if e.External || g.Has(e.Target) {
				edges = append(edges, e)
			}
		}
	}
	payload.Facts, payload.TokensUsed = addFacts(edges, budget, 0)
	return payload
}

// FocusPaths picks up to n repository files relevant to query without
// vectors: files whose path or declared symbols share words with the query
// rank first, then the most imported files.
func FocusPaths(query string, g *graph.Graph, records map[string]types.StructuralRecord, n int) []string {
	if g == nil || n <= 0 {
		return nil
	}

	terms := make(map[string]bool)
	for _, t := range embedder.Tokenize(query) {
		if len(t) > 2 {
			terms[t] = true
		}
	}

	type scored struct {
		path  string
		score int
	}
	var hits []scored
	for _, p := range g.Nodes() {
		score := 0
		for _, t := range embedder.Tokenize(p) {
			if terms[t] {
				score += 2
			}
		}
		if rec, ok := records[p]; ok {
			for _, name := range rec.SymbolNames() {
				for _, t := range embedder.Tokenize(name) {
					if terms[t] {
						score++
					}
				}
			}
		}
		if score > 0 {
			hits = append(hits, scored{p, score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].path < hits[j].path
	})

	var out []string
	seen := make(map[string]bool)
	for _, h := range hits {
		if len(out) == n {
			return out
		}
		out = append(out, h.path)
		seen[h.path] = true
	}
	for _, hub := range g.Hubs(0) {
		if len(out) == n {
			break
		}
		if !seen[hub.Path] {
			out = append(out, hub.Path)
		}
	}
	return out
}
