//go:build cgo

package extractor

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/coderag/pkg/types"
)

// LanguageSpec describes a tree-sitter backed strategy. ImportQuery captures
// import targets as @import (and optionally the callee as @fn, which must
// be "require"). SymbolQuery captures @def around a declaration and @name
// for its identifier.
type LanguageSpec struct {
	Name        string
	Language    *sitter.Language
	ImportQuery string
	SymbolQuery string
	Extensions  []string

	// NormalizeImport rewrites a captured import into a path-like target
	NormalizeImport func(string) string

	// Exported decides visibility of a declaration node
	Exported func(def *sitter.Node, name string, src []byte) bool
}

// TreeSitter is a strategy backed by a tree-sitter grammar
type TreeSitter struct {
	Manifests
	spec *LanguageSpec
}

// NewTreeSitter creates a tree-sitter strategy from spec
func NewTreeSitter(m Manifests, spec *LanguageSpec) *TreeSitter {
	return &TreeSitter{Manifests: m, spec: spec}
}

// Name implements Extractor
func (t *TreeSitter) Name() string { return t.spec.Name }

func (t *TreeSitter) parse(path string, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(t.spec.Language)

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if tree.RootNode().HasError() {
		tree.Close()
		return nil, fmt.Errorf("%w: %s has syntax errors", ErrMalformed, path)
	}
	return tree, nil
}

// query runs q over the tree and calls fn with each match's captures by name
func (t *TreeSitter) query(tree *sitter.Tree, q string, fn func(map[string]*sitter.Node)) error {
	query, err := sitter.NewQuery([]byte(q), t.spec.Language)
	if err != nil {
		return fmt.Errorf("compile %s query: %w", t.spec.Name, err)
	}
	defer query.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, tree.RootNode())

	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		caps := make(map[string]*sitter.Node, len(m.Captures))
		for _, c := range m.Captures {
			caps[query.CaptureNameForId(c.Index)] = c.Node
		}
		fn(caps)
	}
	return nil
}

// DetectImports implements Extractor
func (t *TreeSitter) DetectImports(path string, src []byte) ([]types.Import, error) {
	tree, err := t.parse(path, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var imports []types.Import
	err = t.query(tree, t.spec.ImportQuery, func(caps map[string]*sitter.Node) {
		node := caps["import"]
		if node == nil {
			return
		}
		if fn := caps["fn"]; fn != nil && fn.Content(src) != "require" {
			return
		}
		target := node.Content(src)
		if t.spec.NormalizeImport != nil {
			target = t.spec.NormalizeImport(target)
		}
		if target == "" {
			return
		}
		imports = append(imports, types.Import{
			Target: target,
			Line:   int(node.StartPoint().Row) + 1,
		})
	})
	return imports, err
}

// DetectSymbols implements Extractor
func (t *TreeSitter) DetectSymbols(path string, src []byte) ([]types.Symbol, error) {
	tree, err := t.parse(path, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var symbols []types.Symbol
	err = t.query(tree, t.spec.SymbolQuery, func(caps map[string]*sitter.Node) {
		def, name := caps["def"], caps["name"]
		if def == nil || name == nil {
			return
		}
		n := name.Content(src)
		sym := types.Symbol{
			Name: n,
			Kind: symbolKind(def.Type()),
			Line: int(def.StartPoint().Row) + 1,
		}
		if t.spec.Exported != nil {
			sym.Exported = t.spec.Exported(def, n, src)
		}
		if sym.Kind == types.KindMethod {
			sym.Receiver = enclosingClass(def, src)
		}
		symbols = append(symbols, sym)
	})
	return symbols, err
}

func symbolKind(nodeType string) types.SymbolKind {
	switch nodeType {
	case "function_definition", "function_declaration", "function_item", "lexical_declaration":
		return types.KindFunction
	case "method_definition", "method_declaration":
		return types.KindMethod
	case "class_definition", "class_declaration":
		return types.KindClass
	case "interface_declaration", "trait_item":
		return types.KindInterface
	case "struct_item":
		return types.KindStruct
	default:
		return types.KindType
	}
}

// enclosingClass returns the name of the nearest class-like ancestor
func enclosingClass(n *sitter.Node, src []byte) string {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "class_declaration", "class_definition", "class", "interface_declaration", "enum_declaration":
			if name := p.ChildByFieldName("name"); name != nil {
				return name.Content(src)
			}
			return ""
		}
	}
	return ""
}

func exportStatementParent(def *sitter.Node, _ string, _ []byte) bool {
	p := def.Parent()
	return p != nil && p.Type() == "export_statement"
}

func pythonExported(_ *sitter.Node, name string, _ []byte) bool {
	return !strings.HasPrefix(name, "_")
}

func childOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil && c.Type() == typ {
			return c
		}
	}
	return nil
}

func javaExported(def *sitter.Node, _ string, src []byte) bool {
	mods := childOfType(def, "modifiers")
	return mods != nil && strings.Contains(mods.Content(src), "public")
}

func rustExported(def *sitter.Node, _ string, _ []byte) bool {
	return childOfType(def, "visibility_modifier") != nil
}

const jsImportQuery = `
	(import_statement source: (string) @import)
	(export_statement source: (string) @import)
	(call_expression function: (identifier) @fn arguments: (arguments (string) @import))
`

// builtinSpecs returns the tree-sitter languages registered by default
func builtinSpecs() []*LanguageSpec {
	tsSymbols := `
		(function_declaration name: (identifier) @name) @def
		(class_declaration name: (type_identifier) @name) @def
		(method_definition name: (property_identifier) @name) @def
		(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @def
		(interface_declaration name: (type_identifier) @name) @def
		(type_alias_declaration name: (type_identifier) @name) @def
	`
	return []*LanguageSpec{
		{
			Name:     "python",
			Language: python.GetLanguage(),
			ImportQuery: `
				(import_statement name: (dotted_name) @import)
				(import_statement name: (aliased_import name: (dotted_name) @import))
				(import_from_statement module_name: (dotted_name) @import)
				(import_from_statement module_name: (relative_import) @import)
			`,
			SymbolQuery: `
				(function_definition name: (identifier) @name) @def
				(class_definition name: (identifier) @name) @def
			`,
			Extensions:      []string{".py", ".pyi"},
			NormalizeImport: pythonImport,
			Exported:        pythonExported,
		},
		{
			Name:        "javascript",
			Language:    javascript.GetLanguage(),
			ImportQuery: jsImportQuery,
			SymbolQuery: `
				(function_declaration name: (identifier) @name) @def
				(class_declaration name: (identifier) @name) @def
				(method_definition name: (property_identifier) @name) @def
				(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @def
			`,
			Extensions:      []string{".js", ".jsx", ".mjs", ".cjs"},
			NormalizeImport: trimQuotes,
			Exported:        exportStatementParent,
		},
		{
			Name:            "typescript",
			Language:        typescript.GetLanguage(),
			ImportQuery:     jsImportQuery,
			SymbolQuery:     tsSymbols,
			Extensions:      []string{".ts", ".mts", ".cts"},
			NormalizeImport: trimQuotes,
			Exported:        exportStatementParent,
		},
		{
			Name:            "tsx",
			Language:        tsx.GetLanguage(),
			ImportQuery:     jsImportQuery,
			SymbolQuery:     tsSymbols,
			Extensions:      []string{".tsx"},
			NormalizeImport: trimQuotes,
			Exported:        exportStatementParent,
		},
		{
			Name:     "java",
			Language: java.GetLanguage(),
			ImportQuery: `
				(import_declaration (scoped_identifier) @import)
				(import_declaration (identifier) @import)
			`,
			SymbolQuery: `
				(class_declaration name: (identifier) @name) @def
				(interface_declaration name: (identifier) @name) @def
				(enum_declaration name: (identifier) @name) @def
				(method_declaration name: (identifier) @name) @def
			`,
			Extensions: []string{".java"},
			Exported:   javaExported,
		},
		{
			Name:     "rust",
			Language: rust.GetLanguage(),
			ImportQuery: `
				(use_declaration argument: (_) @import)
				(extern_crate_declaration name: (identifier) @import)
			`,
			SymbolQuery: `
				(function_item name: (identifier) @name) @def
				(struct_item name: (type_identifier) @name) @def
				(enum_item name: (type_identifier) @name) @def
				(trait_item name: (type_identifier) @name) @def
			`,
			Extensions:      []string{".rs"},
			NormalizeImport: rustImport,
			Exported:        rustExported,
		},
	}
}

func registerTreeSitter(r *Registry, m Manifests) {
	for _, spec := range builtinSpecs() {
		r.Register(NewTreeSitter(m, spec), spec.Extensions...)
	}
}

// TreeSitterAvailable reports whether tree-sitter strategies are compiled in
const TreeSitterAvailable = true
