// Package graph builds the repository dependency multigraph from
// structural records and answers cross-reference queries over it.
//
// Nodes are repository file paths. Edges point from the importing file to
// the imported file, or to an external package reference when the import
// does not resolve inside the repository. Cycles are valid; every traversal
// keeps a visited set.
package graph

import (
	"log/slog"
	"sort"

	"github.com/dshills/coderag/pkg/types"
)

// Direction selects which edges Neighbors follows
type Direction int

const (
	// Dependencies follows edges out of a file (what it imports)
	Dependencies Direction = iota
	// Dependents follows edges into a file (who imports it)
	Dependents
)

func (d Direction) String() string {
	if d == Dependents {
		return "dependents"
	}
	return "dependencies"
}

// Graph is an immutable dependency multigraph. It is safe for concurrent
// readers.
type Graph struct {
	nodes    []string
	known    map[string]bool
	edges    []types.DependencyEdge
	out      map[string][]types.DependencyEdge
	in       map[string][]types.DependencyEdge
	warnings []types.AmbiguityWarning
}

// Builder configures graph construction
type Builder struct {
	Logger *slog.Logger

	// Paths lists repository files that have no structural record but may
	// still be import targets. Record keys are always known.
	Paths []string
}

// Build resolves every import of every record against the known paths
func Build(records map[string]types.StructuralRecord) *Graph {
	return Builder{}.Build(records)
}

// Build resolves every import of every record against the known paths.
// Ambiguous resolutions are logged at Warn and kept in Warnings.
func (b Builder) Build(records map[string]types.StructuralRecord) *Graph {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Graph{
		known: make(map[string]bool, len(records)+len(b.Paths)),
		out:   make(map[string][]types.DependencyEdge),
		in:    make(map[string][]types.DependencyEdge),
	}
	for p := range records {
		g.known[p] = true
	}
	for _, p := range b.Paths {
		g.known[p] = true
	}
	for p := range g.known {
		g.nodes = append(g.nodes, p)
	}
	sort.Strings(g.nodes)

	res := newResolver(g.nodes, records)
	seen := make(map[types.DependencyEdge]bool)
	add := func(e types.DependencyEdge) {
		if e.Source == e.Target && !e.External {
			return
		}
		if seen[e] {
			return
		}
		seen[e] = true
		g.edges = append(g.edges, e)
	}

	sources := make([]string, 0, len(records))
	for p := range records {
		sources = append(sources, p)
	}
	sort.Strings(sources)

	for _, src := range sources {
		rec := records[src]
		kind := types.EdgeImport
		if rec.Test {
			kind = types.EdgeTestReference
		}
		lang := rec.Language
		if lang == "" {
			lang = types.DetectLanguage(src)
		}

		for _, imp := range rec.Imports {
			r := res.resolve(src, lang, imp.Target)
			if len(r.candidates) > 1 {
				w := types.AmbiguityWarning{
					Source:     src,
					Target:     imp.Target,
					Candidates: r.candidates,
					Chosen:     r.target,
				}
				g.warnings = append(g.warnings, w)
				logger.Warn("ambiguous import resolved",
					"source", src, "import", imp.Target, "candidates", r.candidates, "chosen", r.target)
			}
			if r.target == "" {
				add(types.DependencyEdge{Source: src, Target: imp.Target, Kind: kind, External: true})
				continue
			}
			add(types.DependencyEdge{Source: src, Target: r.target, Kind: kind})
		}

		for _, dep := range rec.Dependencies {
			add(types.DependencyEdge{Source: src, Target: dep, Kind: types.EdgeManifest, External: true})
		}
	}

	sort.Slice(g.edges, func(i, j int) bool { return g.edges[i].Less(g.edges[j]) })
	for _, e := range g.edges {
		g.out[e.Source] = append(g.out[e.Source], e)
		if !e.External {
			g.in[e.Target] = append(g.in[e.Target], e)
		}
	}
	return g
}

// Nodes returns the known repository paths in lexical order
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Has reports whether p is a known repository path
func (g *Graph) Has(p string) bool {
	return g.known[p]
}

// Edges returns every edge ordered by source, target and kind
func (g *Graph) Edges() []types.DependencyEdge {
	return append([]types.DependencyEdge(nil), g.edges...)
}

// EdgesOf returns the edges leaving and entering p
func (g *Graph) EdgesOf(p string) []types.DependencyEdge {
	edges := append([]types.DependencyEdge(nil), g.out[p]...)
	edges = append(edges, g.in[p]...)
	sort.Slice(edges, func(i, j int) bool { return edges[i].Less(edges[j]) })
	return edges
}

// Warnings returns the ambiguity warnings recorded during Build
func (g *Graph) Warnings() []types.AmbiguityWarning {
	return append([]types.AmbiguityWarning(nil), g.warnings...)
}

// Neighbors returns the immediate repository files p depends on, or that
// depend on p, in lexical order. External references are not included.
func (g *Graph) Neighbors(p string, dir Direction) []string {
	var edges []types.DependencyEdge
	if dir == Dependents {
		edges = g.in[p]
	} else {
		edges = g.out[p]
	}

	seen := make(map[string]bool, len(edges))
	var out []string
	for _, e := range edges {
		if e.External {
			continue
		}
		n := e.Target
		if dir == Dependents {
			n = e.Source
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// External returns the external references of p in lexical order
func (g *Graph) External(p string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range g.out[p] {
		if e.External && !seen[e.Target] {
			seen[e.Target] = true
			out = append(out, e.Target)
		}
	}
	sort.Strings(out)
	return out
}

// FanIn counts distinct repository files importing p
func (g *Graph) FanIn(p string) int {
	return len(g.Neighbors(p, Dependents))
}

// FanOut counts distinct repository files p imports
func (g *Graph) FanOut(p string) int {
	return len(g.Neighbors(p, Dependencies))
}
