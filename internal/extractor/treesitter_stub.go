//go:build !cgo

package extractor

// Without cgo the tree-sitter grammars are unavailable; those languages
// fall through to the heuristic strategy.
func registerTreeSitter(_ *Registry, _ Manifests) {}

// TreeSitterAvailable reports whether tree-sitter strategies are compiled in
const TreeSitterAvailable = false
