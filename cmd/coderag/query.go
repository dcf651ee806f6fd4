package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag/internal/orchestrator"
)

var (
	queryK      int
	queryBudget int
)

var queryCmd = &cobra.Command{
	Use:   "query <root> <question>",
	Short: "Answer a question using only the repository's files",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryK, "k", "k", 0, "Chunks to retrieve (default from config)")
	queryCmd.Flags().IntVar(&queryBudget, "budget", 0, "Context token budget (default derived from the LLM window)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.prepare(ctx, args[0]); err != nil {
		return err
	}
	answer, err := a.orch.Query(ctx, orchestrator.QueryRequest{Question: args[1], K: queryK, Budget: queryBudget})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, answer.Content)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Most relevant files:")
	for _, f := range answer.Context.Files {
		fmt.Fprintf(w, "  %s (%d)\n", f.Path, f.Hits)
	}
	if answer.Context.Degraded {
		fmt.Fprintln(w, "(structure only: vector index unavailable)")
	}
	return nil
}
