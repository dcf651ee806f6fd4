package types

import "sort"

// PayloadChunk is a chunk as it appears in an assembled context
type PayloadChunk struct {
	Path      string
	StartLine int
	EndLine   int
	Content   string
	Score     float64
	Tokens    int
	Truncated bool
}

// ContextPayload is the token-bounded, grounded context handed to inference
type ContextPayload struct {
	Chunks     []PayloadChunk
	Facts      []DependencyEdge
	Budget     int
	TokensUsed int
	Truncated  bool // the leading chunk was cut at a line boundary
	Degraded   bool // built from graph data only
}

// Paths returns the distinct repository paths the payload cites
func (p ContextPayload) Paths() []string {
	seen := make(map[string]bool)
	for _, c := range p.Chunks {
		seen[c.Path] = true
	}
	for _, f := range p.Facts {
		seen[f.Source] = true
		if !f.External {
			seen[f.Target] = true
		}
	}
	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Empty reports whether the payload carries neither chunks nor facts
func (p ContextPayload) Empty() bool {
	return len(p.Chunks) == 0 && len(p.Facts) == 0
}
