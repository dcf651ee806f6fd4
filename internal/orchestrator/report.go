package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dshills/coderag/internal/graph"
	"github.com/dshills/coderag/internal/indexer"
	"github.com/dshills/coderag/internal/llm"
	"github.com/dshills/coderag/internal/walker"
	"github.com/dshills/coderag/pkg/types"
)

// Output file names
const (
	OverviewName   = "architectural_overview"
	SuggestionName = "edit_suggestion"
	GraphFileName  = "dependency_graph.gv"
)

// FileFailure is a non-fatal per-file error
type FileFailure struct {
	Path  string `json:"path" yaml:"path"`
	Phase Phase  `json:"phase" yaml:"phase"`
	Code  string `json:"code" yaml:"code"`
	Error string `json:"error" yaml:"error"`
}

// Abort describes why a run stopped early
type Abort struct {
	Phase    string `json:"phase" yaml:"phase"`
	Furthest string `json:"furthestCompleted" yaml:"furthest_completed"`
	Reason   string `json:"reason" yaml:"reason"`
}

// Run is common to every report
type Run struct {
	ID         string        `json:"runId" yaml:"run_id"`
	Root       string        `json:"root" yaml:"root"`
	StartedAt  time.Time     `json:"startedAt" yaml:"started_at"`
	FinishedAt time.Time     `json:"finishedAt" yaml:"finished_at"`
	Phases     []PhaseResult `json:"phases" yaml:"phases"`
	Failures   []FileFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	Aborted    *Abort        `json:"aborted,omitempty" yaml:"aborted,omitempty"`
}

func newRun(root string) Run {
	return Run{ID: uuid.New().String(), Root: root, StartedAt: time.Now()}
}

// finish records phase results and the abort, if any
func (r *Run) finish(rn *runner, err error) {
	r.FinishedAt = time.Now()
	r.Phases = rn.results
	var abort *types.PhaseAbortError
	if errors.As(err, &abort) {
		r.Aborted = &Abort{Phase: abort.Phase, Furthest: abort.Furthest, Reason: abort.Reason}
	}
}

// Completed reports whether every phase completed
func (r *Run) Completed() bool {
	return r.Aborted == nil
}

// DirectoryStats summarizes the files that survived filtering
type DirectoryStats struct {
	TotalFiles  int                    `json:"totalFiles" yaml:"total_files"`
	TotalSize   int64                  `json:"totalSize" yaml:"total_size"`
	HumanSize   string                 `json:"humanSize" yaml:"human_size"`
	Languages   map[types.Language]int `json:"languages" yaml:"languages"`
	EntryPoints []string               `json:"entryPoints" yaml:"entry_points"`
	Skipped     []walker.Skipped       `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// GraphSummary summarizes the dependency graph
type GraphSummary struct {
	Files         int                 `json:"files" yaml:"files"`
	Edges         int                 `json:"edges" yaml:"edges"`
	InternalEdges int                 `json:"internalEdges" yaml:"internal_edges"`
	ExternalEdges int                 `json:"externalEdges" yaml:"external_edges"`
	Hubs          []graph.Hub         `json:"hubs" yaml:"hubs"`
	External      map[string][]string `json:"externalDependencies,omitempty" yaml:"external_dependencies,omitempty"`
	Warnings      []string            `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// FileInterface is the public surface of one file
type FileInterface struct {
	Path       string         `json:"path" yaml:"path"`
	Language   types.Language `json:"language" yaml:"language"`
	EntryPoint bool           `json:"entryPoint,omitempty" yaml:"entry_point,omitempty"`
	Exports    []string       `json:"exports,omitempty" yaml:"exports,omitempty"`
	Roles      []string       `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// InterfaceMap groups public surfaces by file and by role
type InterfaceMap struct {
	Files       []FileInterface          `json:"files" yaml:"files"`
	ByRole      map[string][]string      `json:"byRole,omitempty" yaml:"by_role,omitempty"`
	SymbolKinds map[types.SymbolKind]int `json:"symbolKinds,omitempty" yaml:"symbol_kinds,omitempty"`
}

// CrossRef links one file to the files around it
type CrossRef struct {
	Path         string   `json:"path" yaml:"path"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Dependents   []string `json:"dependents,omitempty" yaml:"dependents,omitempty"`
	Tests        []string `json:"tests,omitempty" yaml:"tests,omitempty"`
}

// CrossReference is the cross_reference phase result
type CrossReference struct {
	Files    []CrossRef          `json:"files" yaml:"files"`
	Indexing *indexer.Statistics `json:"indexing,omitempty" yaml:"indexing,omitempty"`
	Degraded string              `json:"degraded,omitempty" yaml:"degraded,omitempty"`
}

// Report is the architectural overview of an analysis run
type Report struct {
	Run            `yaml:",inline"`
	Directory      *DirectoryStats `json:"directoryStructure,omitempty" yaml:"directory_structure,omitempty"`
	Graph          *GraphSummary   `json:"dependencyGraph,omitempty" yaml:"dependency_graph,omitempty"`
	Interfaces     *InterfaceMap   `json:"interfaceMapping,omitempty" yaml:"interface_mapping,omitempty"`
	CrossReference *CrossReference `json:"crossReference,omitempty" yaml:"cross_reference,omitempty"`
	Artifacts      []string        `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// FileHit counts how often a file was cited
type FileHit struct {
	Path string `json:"path" yaml:"path"`
	Hits int    `json:"hits" yaml:"hits"`
}

// ContextSummary describes an assembled payload
type ContextSummary struct {
	Files      []FileHit `json:"files" yaml:"files"`
	Chunks     int       `json:"chunks" yaml:"chunks"`
	Facts      int       `json:"facts" yaml:"facts"`
	Budget     int       `json:"budget" yaml:"budget"`
	TokensUsed int       `json:"tokensUsed" yaml:"tokens_used"`
	Truncated  bool      `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	Degraded   bool      `json:"degraded,omitempty" yaml:"degraded,omitempty"`
}

// Answer is the result of an interactive query
type Answer struct {
	Question string         `json:"question" yaml:"question"`
	Content  string         `json:"answer" yaml:"answer"`
	Context  ContextSummary `json:"context" yaml:"context"`
	Model    string         `json:"model,omitempty" yaml:"model,omitempty"`
}

// Pattern is the structural shape of a file in the edit context
type Pattern struct {
	Path    string   `json:"path" yaml:"path"`
	Roles   []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Exports []string `json:"exports,omitempty" yaml:"exports,omitempty"`
	Similar []string `json:"similar,omitempty" yaml:"similar,omitempty"` // files sharing a role
}

// Impact lists what an edit to Target can reach
type Impact struct {
	Target     string         `json:"target" yaml:"target"`
	Dependents map[string]int `json:"dependents,omitempty" yaml:"dependents,omitempty"` // path to hops
	Tests      []string       `json:"tests,omitempty" yaml:"tests,omitempty"`
	External   []string       `json:"external,omitempty" yaml:"external,omitempty"`
}

// EditReport is the result of an edit run
type EditReport struct {
	Run         `yaml:",inline"`
	Instruction string          `json:"instruction" yaml:"instruction"`
	Template    llm.Template    `json:"template" yaml:"template"`
	Context     *ContextSummary `json:"context,omitempty" yaml:"context,omitempty"`
	Patterns    []Pattern       `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	Impact      *Impact         `json:"impact,omitempty" yaml:"impact,omitempty"`
	Suggestion  *llm.Response   `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// WriteReport writes v as <name>.yaml and <name>.json under dir and returns
// the written paths.
func WriteReport(dir, name string, v any) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	yamlData, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode yaml report: %w", err)
	}
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode json report: %w", err)
	}

	yamlPath := filepath.Join(dir, name+".yaml")
	jsonPath := filepath.Join(dir, name+".json")
	if err := os.WriteFile(yamlPath, yamlData, 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(jsonPath, append(jsonData, '\n'), 0o644); err != nil {
		return nil, err
	}
	return []string{yamlPath, jsonPath}, nil
}

// WriteGraph writes g in DOT format to dir/dependency_graph.gv
func WriteGraph(dir string, g *graph.Graph) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	p := filepath.Join(dir, GraphFileName)
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if err := g.WriteDOT(f); err != nil {
		_ = f.Close()
		return "", err
	}
	return p, f.Close()
}
