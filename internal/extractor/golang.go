package extractor

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/dshills/coderag/pkg/types"
)

// Go extracts structure from Go source with go/parser
type Go struct {
	Manifests
}

// NewGo creates the Go strategy
func NewGo(m Manifests) *Go {
	return &Go{Manifests: m}
}

// Name implements Extractor
func (g *Go) Name() string { return "go" }

// DetectImports implements Extractor
func (g *Go) DetectImports(path string, src []byte) ([]types.Import, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ImportsOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	imports := make([]types.Import, 0, len(file.Imports))
	for _, imp := range file.Imports {
		target, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		spec := types.Import{
			Target: target,
			Line:   fset.Position(imp.Pos()).Line,
		}
		if imp.Name != nil {
			spec.Alias = imp.Name.Name
		}
		imports = append(imports, spec)
	}
	return imports, nil
}

// DetectSymbols implements Extractor
func (g *Go) DetectSymbols(path string, src []byte) ([]types.Symbol, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	v := &goSymbols{fset: fset}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			v.funcDecl(d)
		case *ast.GenDecl:
			v.genDecl(d)
		}
	}
	return v.symbols, nil
}

type goSymbols struct {
	fset    *token.FileSet
	symbols []types.Symbol
}

func (v *goSymbols) add(name string, kind types.SymbolKind, pos token.Pos, receiver string) {
	if name == "_" {
		return
	}
	v.symbols = append(v.symbols, types.Symbol{
		Name:     name,
		Kind:     kind,
		Line:     v.fset.Position(pos).Line,
		Exported: token.IsExported(name),
		Receiver: receiver,
	})
}

func (v *goSymbols) funcDecl(fn *ast.FuncDecl) {
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		v.add(fn.Name.Name, types.KindMethod, fn.Pos(), receiverType(fn.Recv.List[0].Type))
		return
	}
	v.add(fn.Name.Name, types.KindFunction, fn.Pos(), "")
}

func (v *goSymbols) genDecl(gd *ast.GenDecl) {
	for _, spec := range gd.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			kind := types.KindType
			switch s.Type.(type) {
			case *ast.StructType:
				kind = types.KindStruct
			case *ast.InterfaceType:
				kind = types.KindInterface
			}
			v.add(s.Name.Name, kind, s.Pos(), "")
		case *ast.ValueSpec:
			kind := types.KindVar
			if gd.Tok == token.CONST {
				kind = types.KindConst
			}
			for _, name := range s.Names {
				v.add(name.Name, kind, name.Pos(), "")
			}
		}
	}
}

// receiverType extracts the receiver type name, unwrapping pointers and
// type parameters
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}
