package types

import "sort"

// SymbolKind represents the kind of a declared symbol
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindClass     SymbolKind = "class"
	KindStruct    SymbolKind = "struct"
	KindInterface SymbolKind = "interface"
	KindType      SymbolKind = "type"
	KindConst     SymbolKind = "const"
	KindVar       SymbolKind = "var"
)

// Symbol is a declaration found in a source file
type Symbol struct {
	Name     string
	Kind     SymbolKind
	Line     int
	Exported bool
	Receiver string // For methods: receiver type name
}

// Import is an unresolved import/require target as written in the file
type Import struct {
	Target string // e.g. "./utils", "github.com/pkg/errors", "os.path"
	Alias  string
	Line   int
}

// StructuralRecord describes what a file declares and references
type StructuralRecord struct {
	Path       string
	Language   Language
	Symbols    []Symbol
	Imports    []Import
	EntryPoint bool
	Test       bool

	// Dependencies declared by a manifest entry point (package names, not paths)
	Dependencies []string

	// Module is the import path or package name a manifest declares for its
	// directory, e.g. the module line of go.mod
	Module string

	// Naming-convention roles of the declared symbols (service, handler, ...)
	Roles []string

	// Degraded is set when the heuristic strategy produced the record
	Degraded bool
}

// Normalize sorts and de-duplicates the record's sets so records are
// comparable across runs.
func (r *StructuralRecord) Normalize() {
	sort.Slice(r.Symbols, func(i, j int) bool {
		a, b := r.Symbols[i], r.Symbols[j]
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Kind < b.Kind
	})
	syms := r.Symbols[:0]
	for i, s := range r.Symbols {
		if i > 0 && s == r.Symbols[i-1] {
			continue
		}
		syms = append(syms, s)
	}
	r.Symbols = syms

	sort.SliceStable(r.Imports, func(i, j int) bool {
		return r.Imports[i].Target < r.Imports[j].Target
	})
	imps := r.Imports[:0]
	for i, imp := range r.Imports {
		if i > 0 && imp.Target == r.Imports[i-1].Target {
			continue
		}
		imps = append(imps, imp)
	}
	r.Imports = imps

	r.Dependencies = sortedUnique(r.Dependencies)
	r.Roles = sortedUnique(r.Roles)
}

// SymbolNames returns the distinct names of the declared symbols
func (r *StructuralRecord) SymbolNames() []string {
	names := make([]string, 0, len(r.Symbols))
	for _, s := range r.Symbols {
		names = append(names, s.Name)
	}
	return sortedUnique(names)
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return in
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
