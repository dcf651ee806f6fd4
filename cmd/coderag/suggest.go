package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag/internal/llm"
	"github.com/dshills/coderag/internal/orchestrator"
)

var (
	suggestTemplate string
	suggestTarget   string
	suggestK        int
)

var suggestCmd = &cobra.Command{
	Use:   "suggest <root> <instruction>",
	Short: "Suggest an edit grounded in the repository",
	Long: `Runs context_gathering, pattern_matching, impact_analysis and
code_generation, prints the suggestion and writes edit_suggestion.yaml and
edit_suggestion.json to the output directory.

Templates: code_edit (default), file_change, behavior_addition.`,
	Args: cobra.ExactArgs(2),
	RunE: runSuggest,
}

func init() {
	suggestCmd.Flags().StringVarP(&suggestTemplate, "template", "t", string(llm.TemplateCodeEdit), "Prompt template")
	suggestCmd.Flags().StringVar(&suggestTarget, "target", "", "Repository-relative file the change belongs in")
	suggestCmd.Flags().IntVarP(&suggestK, "k", "k", 0, "Chunks to retrieve (default from config)")
}

func runSuggest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.prepare(ctx, args[0]); err != nil {
		return err
	}
	report, err := a.orch.Suggest(ctx, orchestrator.EditRequest{
		Instruction: args[1],
		Template:    llm.Template(suggestTemplate),
		Target:      suggestTarget,
		K:           suggestK,
	})
	if report == nil {
		return err
	}

	written, werr := a.orch.WriteSuggestion(report)
	if werr != nil {
		a.logger.Error("failed to write suggestion", "error", werr)
	}
	w := cmd.OutOrStdout()
	if report.Suggestion != nil {
		fmt.Fprintln(w, report.Suggestion.Content)
		fmt.Fprintln(w)
	}
	if imp := report.Impact; imp != nil {
		fmt.Fprintf(w, "Target: %s (%d dependents, %d tests)\n", imp.Target, len(imp.Dependents), len(imp.Tests))
	}
	for _, p := range written {
		fmt.Fprintf(w, "Wrote %s\n", p)
	}
	return err
}
