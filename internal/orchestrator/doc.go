// Package orchestrator runs the analysis and edit pipelines.
//
// An analysis run walks a repository through directory_structure,
// dependency_graph, interface_mapping and cross_reference, keeping the
// resulting structural snapshot for later queries. An edit run goes through
// context_gathering, pattern_matching, impact_analysis and code_generation
// over that snapshot. Per-file problems are recorded in the report and
// skipped; a failed phase aborts the run with a *types.PhaseAbortError that
// names the furthest completed phase. Both runs always return a report.
package orchestrator
