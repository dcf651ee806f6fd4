package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dshills/coderag/pkg/types"
)

// Phase names one step of a run
type Phase string

// Analysis phases
const (
	PhaseDirectoryStructure Phase = "directory_structure"
	PhaseDependencyGraph    Phase = "dependency_graph"
	PhaseInterfaceMapping   Phase = "interface_mapping"
	PhaseCrossReference     Phase = "cross_reference"
)

// Edit phases
const (
	PhaseContextGathering Phase = "context_gathering"
	PhasePatternMatching  Phase = "pattern_matching"
	PhaseImpactAnalysis   Phase = "impact_analysis"
	PhaseCodeGeneration   Phase = "code_generation"
)

var (
	// AnalysisPhases is the order of an analysis run
	AnalysisPhases = []Phase{PhaseDirectoryStructure, PhaseDependencyGraph, PhaseInterfaceMapping, PhaseCrossReference}
	// EditPhases is the order of an edit run
	EditPhases = []Phase{PhaseContextGathering, PhasePatternMatching, PhaseImpactAnalysis, PhaseCodeGeneration}
)

// Phase statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// PhaseResult is the outcome of one phase
type PhaseResult struct {
	Name     Phase         `json:"name" yaml:"name"`
	Status   string        `json:"status" yaml:"status"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// step is a phase and the work it performs
type step struct {
	phase Phase
	run   func(ctx context.Context) error
}

// runner executes steps in order and stops at the first failure
type runner struct {
	logger   *slog.Logger
	results  []PhaseResult
	furthest Phase
}

// runAll runs steps until one fails. A failure is returned as a
// *types.PhaseAbortError naming the furthest completed phase; the phases
// that never ran are recorded as skipped.
func (r *runner) runAll(ctx context.Context, steps []step) error {
	for i, s := range steps {
		start := time.Now()
		r.logger.Info("phase started", "phase", s.phase)

		err := ctx.Err()
		if err == nil {
			err = s.run(ctx)
		}
		res := PhaseResult{Name: s.phase, Duration: time.Since(start)}

		if err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()
			r.results = append(r.results, res)
			for _, rest := range steps[i+1:] {
				r.results = append(r.results, PhaseResult{Name: rest.phase, Status: StatusSkipped})
			}
			r.logger.Error("phase failed", "phase", s.phase, "error", err)
			return r.abort(s.phase, err)
		}

		res.Status = StatusCompleted
		r.results = append(r.results, res)
		r.furthest = s.phase
		r.logger.Info("phase completed", "phase", s.phase, "duration", res.Duration)
	}
	return nil
}

func (r *runner) abort(phase Phase, err error) error {
	var abort *types.PhaseAbortError
	if !errors.As(err, &abort) {
		abort = &types.PhaseAbortError{Phase: string(phase), Reason: err.Error()}
	}
	abort.Phase = string(phase)
	abort.Furthest = string(r.furthest)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(abort, err)
	}
	return abort
}

// abortf is returned by a step for a condition that is fatal to the run
func abortf(phase Phase, reason string) error {
	return &types.PhaseAbortError{Phase: string(phase), Reason: reason}
}
