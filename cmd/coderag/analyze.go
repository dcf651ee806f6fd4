package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag/internal/orchestrator"
)

var analyzeNoIndex bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <root>",
	Short: "Analyze a repository and write the architectural overview",
	Long: `Runs directory_structure, dependency_graph, interface_mapping and
cross_reference over the repository, embeds changed files into the vector
store and writes architectural_overview.yaml, architectural_overview.json and
dependency_graph.gv to the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeNoIndex, "no-index", false, "Skip embedding; build the structural report only")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.orch.Analyze(ctx, args[0], orchestrator.AnalyzeOptions{Index: !analyzeNoIndex, Write: true})
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	return err
}

func printReport(w io.Writer, r *orchestrator.Report) {
	fmt.Fprintf(w, "Run %s: %s\n", r.ID, r.Root)
	for _, p := range r.Phases {
		line := fmt.Sprintf("  %-20s %s", p.Name, p.Status)
		if p.Duration > 0 {
			line += fmt.Sprintf(" (%s)", p.Duration.Round(time.Millisecond))
		}
		fmt.Fprintln(w, line)
	}
	if d := r.Directory; d != nil {
		fmt.Fprintf(w, "Files: %d (%s), skipped %d\n", d.TotalFiles, d.HumanSize, len(d.Skipped))
	}
	if g := r.Graph; g != nil {
		fmt.Fprintf(w, "Dependencies: %d internal, %d external, %d warnings\n", g.InternalEdges, g.ExternalEdges, len(g.Warnings))
	}
	if x := r.CrossReference; x != nil && x.Indexing != nil {
		s := x.Indexing
		fmt.Fprintf(w, "Indexed: %d files, %d chunks (%d unchanged, %d failed, %d pruned)\n",
			s.FilesIndexed, s.ChunksCreated, s.FilesUnchanged, s.FilesFailed, s.FilesPruned)
	}
	if len(r.Failures) > 0 {
		fmt.Fprintf(w, "File failures: %d\n", len(r.Failures))
	}
	for _, p := range r.Artifacts {
		fmt.Fprintf(w, "Wrote %s\n", p)
	}
}
