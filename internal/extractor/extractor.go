package extractor

import (
	"errors"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/dshills/coderag/pkg/types"
)

// ErrMalformed is returned by a strategy when the source cannot be parsed
var ErrMalformed = errors.New("malformed source")

// Extractor is the capability set of one language strategy
type Extractor interface {
	// Name identifies the strategy in logs and records
	Name() string

	// DetectImports returns the import/require targets written in src
	DetectImports(path string, src []byte) ([]types.Import, error)

	// DetectSymbols returns the declarations found in src
	DetectSymbols(path string, src []byte) ([]types.Symbol, error)

	// DetectEntrypoint reports whether path is a known manifest
	DetectEntrypoint(path string) bool
}

// Manifests is the fixed set of manifest base names. Strategies embed it to
// share entry-point detection.
type Manifests map[string]bool

// NewManifests builds a manifest set from base names
func NewManifests(names []string) Manifests {
	m := make(Manifests, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// DetectEntrypoint reports whether the base name of p is a manifest
func (m Manifests) DetectEntrypoint(p string) bool {
	return m[path.Base(p)]
}

// Registry selects a strategy per file extension. Files without a
// registered extension use the heuristic strategy.
type Registry struct {
	mu        sync.RWMutex
	byExt     map[string]Extractor
	fallback  Extractor
	manifests Manifests
	logger    *slog.Logger
}

// NewRegistry creates a registry with every built-in strategy registered
func NewRegistry(entryPoints []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	m := NewManifests(entryPoints)
	r := &Registry{
		byExt:     make(map[string]Extractor),
		fallback:  NewHeuristic(m),
		manifests: m,
		logger:    logger,
	}
	r.Register(NewGo(m), ".go")
	registerTreeSitter(r, m)
	return r
}

// Register maps extensions (with leading dot) to a strategy
func (r *Registry) Register(e Extractor, exts ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range exts {
		r.byExt[strings.ToLower(ext)] = e
	}
}

// Lookup returns the strategy for p and whether it is a registered one
func (r *Registry) Lookup(p string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byExt[strings.ToLower(path.Ext(p))]; ok {
		return e, true
	}
	return r.fallback, false
}

// Extract builds the structural record of a file. It always returns a
// usable record: when the language strategy fails, imports come from the
// heuristic scan, symbols are empty and the returned error is an
// *types.ExtractionError to be recorded, not propagated.
func (r *Registry) Extract(file types.SourceFile) (types.StructuralRecord, error) {
	rec := types.StructuralRecord{
		Path:     file.Path,
		Language: file.Language,
		Test:     types.IsTestPath(file.Path),
	}
	if rec.Language == "" {
		rec.Language = types.DetectLanguage(file.Path)
	}

	strategy, registered := r.Lookup(file.Path)
	rec.EntryPoint = strategy.DetectEntrypoint(file.Path)
	rec.Degraded = !registered

	var errs []error
	imports, err := strategy.DetectImports(file.Path, file.Content)
	if err != nil {
		errs = append(errs, err)
	}
	symbols, err := strategy.DetectSymbols(file.Path, file.Content)
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 && registered {
		r.logger.Warn("structural extraction degraded to heuristic",
			"path", file.Path, "strategy", strategy.Name(), "error", errors.Join(errs...))
		imports, err = r.fallback.DetectImports(file.Path, file.Content)
		if err != nil {
			imports = nil
		}
		symbols = nil
		rec.Degraded = true
	}
	rec.Imports = imports
	rec.Symbols = symbols

	if rec.EntryPoint {
		manifest, err := ParseManifest(path.Base(file.Path), file.Content)
		if err != nil {
			errs = append(errs, err)
			r.logger.Warn("manifest parse failed", "path", file.Path, "error", err)
		} else {
			rec.Dependencies = manifest.Dependencies
			rec.Module = manifest.Module
		}
	}

	rec.Roles = Roles(rec.Symbols)
	rec.Normalize()

	if len(errs) > 0 {
		return rec, &types.ExtractionError{Path: file.Path, Err: errors.Join(errs...)}
	}
	return rec, nil
}
