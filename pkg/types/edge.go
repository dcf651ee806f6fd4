package types

import "fmt"

// EdgeKind distinguishes parallel edges of the dependency multigraph
type EdgeKind string

const (
	EdgeImport        EdgeKind = "import"
	EdgeTestReference EdgeKind = "test-reference"
	EdgeManifest      EdgeKind = "manifest"
)

// DependencyEdge relates a source file to a repository file or an external package
type DependencyEdge struct {
	Source   string   `json:"source" yaml:"source"`
	Target   string   `json:"target" yaml:"target"` // repository path, or the raw reference when External
	Kind     EdgeKind `json:"kind" yaml:"kind"`
	External bool     `json:"external,omitempty" yaml:"external,omitempty"`
}

// Fact renders the edge as a compact one-line statement
func (e DependencyEdge) Fact() string {
	if e.External {
		return fmt.Sprintf("%s -> external:%s (%s)", e.Source, e.Target, e.Kind)
	}
	return fmt.Sprintf("%s -> %s (%s)", e.Source, e.Target, e.Kind)
}

// Less orders edges by source, target, then kind
func (e DependencyEdge) Less(o DependencyEdge) bool {
	if e.Source != o.Source {
		return e.Source < o.Source
	}
	if e.Target != o.Target {
		return e.Target < o.Target
	}
	if e.External != o.External {
		return !e.External
	}
	return e.Kind < o.Kind
}
