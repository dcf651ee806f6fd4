package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/coderag/internal/assembler"
	"github.com/dshills/coderag/internal/config"
	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/extractor"
	"github.com/dshills/coderag/internal/graph"
	"github.com/dshills/coderag/internal/indexer"
	"github.com/dshills/coderag/internal/llm"
	"github.com/dshills/coderag/internal/retriever"
	"github.com/dshills/coderag/internal/vectorstore"
	"github.com/dshills/coderag/internal/walker"
	"github.com/dshills/coderag/pkg/types"
)

var (
	// ErrNotAnalyzed is returned when a query runs before any analysis
	ErrNotAnalyzed = errors.New("repository has not been analyzed")
	// ErrNoLLM is returned when a run needs inference and no client is set
	ErrNoLLM = errors.New("no llm client configured")
)

// maxHubs bounds the hubs listed in a report
const maxHubs = 10

// Deps are the external capabilities a run uses. LLM may be nil for
// analysis-only use.
type Deps struct {
	Store    vectorstore.Store
	Embedder embedder.Embedder
	LLM      llm.Client
}

// Snapshot is the structural state of the last analyzed repository
type Snapshot struct {
	Root    string
	Records map[string]types.StructuralRecord
	Graph   *graph.Graph
	Hashes  map[string]string // path to content hash
}

// Current reports whether a chunk indexed from path with content hash
// fileHash still matches the snapshot
func (s *Snapshot) Current(path, fileHash string) bool {
	if s == nil || s.Graph == nil || !s.Graph.Has(path) {
		return false
	}
	if s.Hashes == nil {
		return true
	}
	h, ok := s.Hashes[path]
	return ok && h == fileHash
}

// Orchestrator drives analysis and edit runs over one repository
type Orchestrator struct {
	cfg       config.Config
	logger    *slog.Logger
	registry  *extractor.Registry
	manifests extractor.Manifests
	indexer   *indexer.Indexer
	retriever *retriever.Retriever
	assembler *assembler.Assembler
	prompts   *llm.PromptBuilder
	llm       llm.Client
	workers   int

	mu   sync.RWMutex
	snap *Snapshot
}

// New wires the pipeline components from cfg and deps
func New(cfg config.Config, deps Deps, logger *slog.Logger) (*Orchestrator, error) {
	if deps.Store == nil || deps.Embedder == nil {
		return nil, errors.New("store and embedder are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	idx, err := indexer.New(deps.Store, deps.Embedder, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexer: %w", err)
	}
	prompts, err := llm.NewPromptBuilder(cfg.LLM.ContextWindow, cfg.LLM.MaxTokens)
	if err != nil {
		return nil, err
	}

	workers := cfg.Analysis.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		registry:  extractor.NewRegistry(cfg.Analysis.EntryPoints, logger),
		manifests: extractor.NewManifests(cfg.Analysis.EntryPoints),
		indexer:   idx,
		retriever: retriever.New(deps.Store, deps.Embedder, nil, cfg, logger),
		assembler: assembler.New(cfg.Context.EdgeShare, logger),
		prompts:   prompts,
		llm:       deps.LLM,
		workers:   workers,
	}, nil
}

// Indexer returns the indexer used by analysis runs
func (o *Orchestrator) Indexer() *indexer.Indexer { return o.indexer }

// Snapshot returns the last analyzed repository, or nil
func (o *Orchestrator) Snapshot() *Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snap
}

func (o *Orchestrator) setSnapshot(s *Snapshot) {
	o.mu.Lock()
	o.snap = s
	o.mu.Unlock()
	o.retriever.SetGraph(s.Graph)
}

// AnalyzeOptions controls an analysis run
type AnalyzeOptions struct {
	// Index embeds chunks into the vector store during cross_reference
	Index bool
	// Force re-embeds unchanged files
	Force bool
	// Write saves the report and graph under the configured output directory
	Write bool
}

// analysis carries state between analysis phases
type analysis struct {
	root     string
	files    []types.SourceFile
	records  map[string]types.StructuralRecord
	graph    *graph.Graph
	mu       sync.Mutex
	failures []FileFailure
}

func (a *analysis) fail(path string, phase Phase, err error) {
	a.mu.Lock()
	a.failures = append(a.failures, FileFailure{Path: path, Phase: phase, Code: types.ErrorCode(err), Error: err.Error()})
	a.mu.Unlock()
}

// Analyze runs the analysis phases over root. A report is always returned;
// the error is a *types.PhaseAbortError when a phase failed.
func (o *Orchestrator) Analyze(ctx context.Context, root string, opts AnalyzeOptions) (*Report, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}
	report := &Report{Run: newRun(absRoot)}
	a := &analysis{root: absRoot}
	rn := &runner{logger: o.logger.With("run", report.ID)}

	err = rn.runAll(ctx, []step{
		{PhaseDirectoryStructure, func(ctx context.Context) error {
			stats, err := o.directoryStructure(ctx, a)
			report.Directory = stats
			return err
		}},
		{PhaseDependencyGraph, func(ctx context.Context) error {
			summary, err := o.dependencyGraph(ctx, a)
			report.Graph = summary
			return err
		}},
		{PhaseInterfaceMapping, func(context.Context) error {
			report.Interfaces = interfaceMapping(a.records)
			return nil
		}},
		{PhaseCrossReference, func(ctx context.Context) error {
			xref, err := o.crossReference(ctx, a, opts)
			report.CrossReference = xref
			return err
		}},
	})

	sort.Slice(a.failures, func(i, j int) bool { return a.failures[i].Path < a.failures[j].Path })
	report.Failures = a.failures
	report.finish(rn, err)

	if a.graph != nil {
		hashes := make(map[string]string, len(a.files))
		for i := range a.files {
			hashes[a.files[i].Path] = a.files[i].Hash()
		}
		o.setSnapshot(&Snapshot{Root: absRoot, Records: a.records, Graph: a.graph, Hashes: hashes})
	}
	if opts.Write {
		if werr := o.writeAnalysis(report, a.graph); werr != nil {
			o.logger.Error("failed to write report", "error", werr)
			if err == nil {
				err = werr
			}
		}
	}
	return report, err
}

func (o *Orchestrator) writeAnalysis(report *Report, g *graph.Graph) error {
	dir := o.cfg.Output.Dir
	if dir == "" {
		dir = "output"
	}
	if g != nil && o.cfg.Output.DependencyGraph {
		p, err := WriteGraph(dir, g)
		if err != nil {
			return err
		}
		report.Artifacts = append(report.Artifacts, p)
	}
	written, err := WriteReport(dir, OverviewName, report)
	if err != nil {
		return err
	}
	report.Artifacts = append(report.Artifacts, written...)
	return nil
}

// directoryStructure walks and loads the repository
func (o *Orchestrator) directoryStructure(ctx context.Context, a *analysis) (*DirectoryStats, error) {
	ac := o.cfg.Analysis
	res, err := walker.Walk(ctx, a.root, walker.Options{
		Ignore:     ac.Ignore,
		MaxSize:    ac.MaxSizeBytes(),
		SampleRate: ac.SampleRate,
		Manifests:  ac.EntryPoints,
		Workers:    o.workers,
	})
	if err != nil {
		return nil, err
	}

	files, unreadable, err := walker.Load(ctx, res.Files, o.workers)
	if err != nil {
		return nil, err
	}
	skipped := append(res.Skipped, unreadable...)
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Path < skipped[j].Path })
	for _, s := range skipped {
		o.logger.Debug("file skipped", "path", s.Path, "reason", s.Reason)
	}

	stats := &DirectoryStats{Languages: make(map[types.Language]int), Skipped: skipped}
	for _, f := range files {
		stats.TotalFiles++
		stats.TotalSize += f.Size
		stats.Languages[f.Language]++
		if o.manifests.DetectEntrypoint(f.Path) {
			stats.EntryPoints = append(stats.EntryPoints, f.Path)
		}
	}
	stats.HumanSize = humanize.Bytes(uint64(stats.TotalSize))

	if len(files) == 0 {
		return stats, abortf(PhaseDirectoryStructure, fmt.Sprintf("no files survived filtering (%d skipped)", len(skipped)))
	}
	a.files = files
	o.logger.Info("repository loaded", "files", len(files), "skipped", len(skipped), "size", stats.HumanSize)
	return stats, nil
}

// dependencyGraph extracts every file in parallel, then builds the graph
// once all records are in.
func (o *Orchestrator) dependencyGraph(ctx context.Context, a *analysis) (*GraphSummary, error) {
	records := make(map[string]types.StructuralRecord, len(a.files))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := range a.files {
		f := a.files[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := o.registry.Extract(f)
			if err != nil {
				a.fail(f.Path, PhaseDependencyGraph, err)
			}
			mu.Lock()
			records[f.Path] = rec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	gr := graph.Builder{Logger: o.logger}.Build(records)
	a.records = records
	a.graph = gr

	summary := &GraphSummary{
		Files:    len(gr.Nodes()),
		Hubs:     gr.Hubs(maxHubs),
		External: gr.ExternalUsage(),
	}
	for _, e := range gr.Edges() {
		summary.Edges++
		if e.External {
			summary.ExternalEdges++
		} else {
			summary.InternalEdges++
		}
	}
	for _, w := range gr.Warnings() {
		summary.Warnings = append(summary.Warnings, w.Error())
	}
	return summary, nil
}

// interfaceMapping collects exported symbols and roles per file
func interfaceMapping(records map[string]types.StructuralRecord) *InterfaceMap {
	m := &InterfaceMap{
		ByRole:      make(map[string][]string),
		SymbolKinds: make(map[types.SymbolKind]int),
	}
	for _, p := range sortedKeys(records) {
		rec := records[p]
		fi := FileInterface{Path: p, Language: rec.Language, EntryPoint: rec.EntryPoint, Roles: rec.Roles}
		for _, s := range rec.Symbols {
			m.SymbolKinds[s.Kind]++
			if s.Exported {
				fi.Exports = append(fi.Exports, s.Name)
			}
		}
		for _, role := range rec.Roles {
			m.ByRole[role] = append(m.ByRole[role], p)
		}
		if len(fi.Exports) > 0 || len(fi.Roles) > 0 || fi.EntryPoint {
			m.Files = append(m.Files, fi)
		}
	}
	return m
}

// crossReference links files to their neighbors and indexes the snapshot.
// An unreachable store degrades the run instead of aborting it.
func (o *Orchestrator) crossReference(ctx context.Context, a *analysis, opts AnalyzeOptions) (*CrossReference, error) {
	xref := &CrossReference{}
	for _, p := range a.graph.Nodes() {
		deps := a.graph.Neighbors(p, graph.Dependencies)
		dependents := a.graph.Neighbors(p, graph.Dependents)
		if len(deps) == 0 && len(dependents) == 0 {
			continue
		}
		ref := CrossRef{Path: p, Dependencies: deps}
		for _, d := range dependents {
			if types.IsTestPath(d) {
				ref.Tests = append(ref.Tests, d)
			} else {
				ref.Dependents = append(ref.Dependents, d)
			}
		}
		xref.Files = append(xref.Files, ref)
	}

	if !opts.Index {
		return xref, nil
	}

	work := make([]indexer.File, len(a.files))
	for i, f := range a.files {
		rec := a.records[f.Path]
		work[i] = indexer.File{Source: f, Record: &rec}
	}
	stats, err := o.indexer.IndexFiles(ctx, work, indexer.Options{Force: opts.Force, Prune: true})
	if err != nil {
		if ctx.Err() != nil {
			return xref, err
		}
		o.logger.Warn("indexing unavailable, retrieval will use structure only", "error", err)
		xref.Degraded = err.Error()
		return xref, nil
	}
	xref.Indexing = stats
	for _, f := range stats.Failures {
		a.fail(f.Path, PhaseCrossReference, &types.IndexingFailedError{Path: f.Path, Err: errors.New(f.Error)})
	}
	for _, p := range stats.Skipped {
		a.fail(p, PhaseCrossReference, fmt.Errorf("%w: not decodable as text", types.ErrEncoding))
	}
	o.retriever.InvalidateCache()
	return xref, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
