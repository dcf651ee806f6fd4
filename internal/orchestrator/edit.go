package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/dshills/coderag/internal/assembler"
	"github.com/dshills/coderag/internal/graph"
	"github.com/dshills/coderag/internal/llm"
	"github.com/dshills/coderag/pkg/types"
)

const (
	// topFiles bounds the cited files listed with an answer
	topFiles = 5
	// focusFiles bounds the files used for a structural-only payload
	focusFiles = 5
	// impactHops bounds how far impact analysis follows dependents
	impactHops = 2
)

// gathered is the context_gathering result
type gathered struct {
	payload types.ContextPayload
	summary ContextSummary
}

// gather retrieves and assembles context for question. When retrieval is
// unavailable it falls back to a structural payload built from the graph.
func (o *Orchestrator) gather(ctx context.Context, snap *Snapshot, question string, k, budget int) (*gathered, error) {
	if budget <= 0 {
		budget = o.cfg.ContextBudget()
	}

	var (
		payload types.ContextPayload
		hits    = make(map[string]int)
	)
	ranked, err := o.retriever.Retrieve(ctx, question, k)
	if err == nil {
		ranked = current(snap, ranked)
		if len(ranked) == 0 {
			err = fmt.Errorf("%w: no indexed chunk matches the analyzed files", types.ErrRetrievalUnavailable)
		}
	}
	if err == nil {
		payload = o.assembler.Assemble(ranked, snap.Graph.Edges(), budget)
		if len(payload.Chunks) == 0 {
			err = fmt.Errorf("%w: no ranked chunk fits the context budget", types.ErrRetrievalUnavailable)
		}
	}
	switch {
	case err == nil:
		for _, rc := range ranked {
			hits[rc.Chunk.Path]++
		}
	case errors.Is(err, types.ErrRetrievalUnavailable):
		o.logger.Warn("retrieval unavailable, using structural context", "error", err)
		focus := assembler.FocusPaths(question, snap.Graph, snap.Records, focusFiles)
		payload = o.assembler.Structural(snap.Graph, focus, budget)
		for _, f := range payload.Facts {
			hits[f.Source]++
		}
	default:
		return nil, err
	}

	if payload.Empty() {
		return nil, abortf(PhaseContextGathering, llm.ErrNoContext.Error())
	}

	return &gathered{
		payload: payload,
		summary: ContextSummary{
			Files:      topHits(hits, payload.Paths(), topFiles),
			Chunks:     len(payload.Chunks),
			Facts:      len(payload.Facts),
			Budget:     payload.Budget,
			TokensUsed: payload.TokensUsed,
			Truncated:  payload.Truncated,
			Degraded:   payload.Degraded,
		},
	}, nil
}

// current drops chunks of files that are gone from the snapshot or changed
// since they were indexed
func current(snap *Snapshot, ranked []types.RankedChunk) []types.RankedChunk {
	var out []types.RankedChunk
	for _, rc := range ranked {
		if snap.Current(rc.Chunk.Path, rc.FileHash) {
			out = append(out, rc)
		}
	}
	return out
}

// topHits orders payload paths by hit count, then path, and keeps n
func topHits(hits map[string]int, paths []string, n int) []FileHit {
	out := make([]FileHit, 0, len(paths))
	for _, p := range paths {
		if hits[p] > 0 {
			out = append(out, FileHit{Path: p, Hits: hits[p]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hits != out[j].Hits {
			return out[i].Hits > out[j].Hits
		}
		return out[i].Path < out[j].Path
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// requireSnapshot returns the analyzed snapshot or ErrNotAnalyzed
func (o *Orchestrator) requireSnapshot() (*Snapshot, error) {
	snap := o.Snapshot()
	if snap == nil {
		return nil, ErrNotAnalyzed
	}
	return snap, nil
}

// QueryRequest is an interactive question
type QueryRequest struct {
	Question string
	K        int // retrieval depth; configured default when <= 0
	Budget   int // context tokens; derived from the LLM window when <= 0
}

// Query answers a question over the analyzed repository with the
// file_change prompt.
func (o *Orchestrator) Query(ctx context.Context, req QueryRequest) (*Answer, error) {
	question := req.Question
	if strings.TrimSpace(question) == "" {
		return nil, errors.New("question cannot be empty")
	}
	snap, err := o.requireSnapshot()
	if err != nil {
		return nil, err
	}
	if o.llm == nil {
		return nil, ErrNoLLM
	}

	g, err := o.gather(ctx, snap, question, req.K, req.Budget)
	if err != nil {
		return nil, err
	}

	resp, err := o.complete(ctx, PromptRequest{Template: llm.TemplateFileChange, Question: question}, g.payload)
	if err != nil {
		return nil, err
	}
	return &Answer{Question: question, Content: resp.Content, Context: g.summary, Model: resp.Model}, nil
}

// PromptRequest names the prompt an edit run renders
type PromptRequest struct {
	Template llm.Template
	Question string
	Target   string
}

// complete renders the prompt and asks the model. A prompt that overflows
// the window is rebuilt once from the leading half of the payload.
func (o *Orchestrator) complete(ctx context.Context, req PromptRequest, payload types.ContextPayload) (*llm.Response, error) {
	in := llm.PromptInput{Template: req.Template, Question: req.Question, Target: req.Target, Payload: payload}
	prompt, err := o.prompts.Build(in)
	if errors.Is(err, llm.ErrContextOverflow) && len(payload.Chunks) > 1 {
		o.logger.Warn("prompt exceeds context window, dropping lower ranked chunks", "chunks", len(payload.Chunks))
		in.Payload.Chunks = payload.Chunks[:len(payload.Chunks)/2]
		prompt, err = o.prompts.Build(in)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Debug("prompt built", "template", in.Template, "files", len(prompt.Files), "tokens", prompt.Tokens)
	return o.llm.Complete(ctx, prompt.Request(o.cfg.LLM.MaxTokens, o.cfg.LLM.Temperature))
}

// EditRequest describes a requested change
type EditRequest struct {
	Instruction string
	Template    llm.Template // code_edit when empty
	Target      string       // file the change belongs in; optional
	K           int
	Budget      int
}

// Suggest runs the edit phases for req. A report is always returned; the
// error is a *types.PhaseAbortError when a phase failed.
func (o *Orchestrator) Suggest(ctx context.Context, req EditRequest) (*EditReport, error) {
	if req.Template == "" {
		req.Template = llm.TemplateCodeEdit
	}
	snap, err := o.requireSnapshot()
	if err != nil {
		return nil, err
	}
	if o.llm == nil {
		return nil, ErrNoLLM
	}

	report := &EditReport{Run: newRun(snap.Root), Instruction: req.Instruction, Template: req.Template}
	rn := &runner{logger: o.logger.With("run", report.ID)}
	var g *gathered

	err = rn.runAll(ctx, []step{
		{PhaseContextGathering, func(ctx context.Context) error {
			if strings.TrimSpace(req.Instruction) == "" {
				return abortf(PhaseContextGathering, "instruction cannot be empty")
			}
			var err error
			g, err = o.gather(ctx, snap, req.Instruction, req.K, req.Budget)
			if err != nil {
				return err
			}
			report.Context = &g.summary
			return nil
		}},
		{PhasePatternMatching, func(context.Context) error {
			report.Patterns = patterns(snap, g.payload.Paths())
			return nil
		}},
		{PhaseImpactAnalysis, func(context.Context) error {
			target, err := editTarget(req.Target, g.payload)
			if err != nil {
				return abortf(PhaseImpactAnalysis, err.Error())
			}
			report.Impact = impact(snap.Graph, target)
			return nil
		}},
		{PhaseCodeGeneration, func(ctx context.Context) error {
			resp, err := o.complete(ctx, PromptRequest{
				Template: req.Template,
				Question: req.Instruction,
				Target:   report.Impact.Target,
			}, g.payload)
			if err != nil {
				return err
			}
			report.Suggestion = resp
			return nil
		}},
	})
	report.finish(rn, err)
	return report, err
}

// editTarget picks the file a change belongs in: the requested target when
// it is part of the payload, else the highest ranked payload file.
func editTarget(requested string, payload types.ContextPayload) (string, error) {
	paths := payload.Paths()
	if requested != "" {
		if !slices.Contains(paths, requested) {
			return "", llm.ErrUnknownTarget
		}
		return requested, nil
	}
	if len(payload.Chunks) > 0 {
		return payload.Chunks[0].Path, nil
	}
	return paths[0], nil
}

// patterns describes each payload file and the repository files that share
// one of its roles.
func patterns(snap *Snapshot, paths []string) []Pattern {
	byRole := make(map[string][]string)
	for _, p := range sortedKeys(snap.Records) {
		for _, role := range snap.Records[p].Roles {
			byRole[role] = append(byRole[role], p)
		}
	}

	var out []Pattern
	for _, p := range paths {
		rec, ok := snap.Records[p]
		if !ok {
			continue
		}
		pat := Pattern{Path: p, Roles: rec.Roles}
		for _, s := range rec.Symbols {
			if s.Exported {
				pat.Exports = append(pat.Exports, s.Name)
			}
		}
		similar := make(map[string]bool)
		for _, role := range rec.Roles {
			for _, other := range byRole[role] {
				if other != p {
					similar[other] = true
				}
			}
		}
		pat.Similar = sortedKeys(similar)
		out = append(out, pat)
	}
	return out
}

// impact lists the files that depend on target within impactHops
func impact(g *graph.Graph, target string) *Impact {
	imp := &Impact{Target: target, Dependents: make(map[string]int), External: g.External(target)}
	for p, hops := range g.Reachable(target, graph.Dependents, impactHops) {
		if hops == 0 {
			continue
		}
		if types.IsTestPath(p) {
			imp.Tests = append(imp.Tests, p)
			continue
		}
		imp.Dependents[p] = hops
	}
	sort.Strings(imp.Tests)
	return imp
}

// WriteSuggestion saves an edit report under the configured output directory
func (o *Orchestrator) WriteSuggestion(report *EditReport) ([]string, error) {
	dir := o.cfg.Output.Dir
	if dir == "" {
		dir = "output"
	}
	return WriteReport(dir, SuggestionName, report)
}
