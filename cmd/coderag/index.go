package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag/internal/orchestrator"
)

var (
	indexForce bool
	indexReset bool
)

var indexCmd = &cobra.Command{
	Use:   "index <root>",
	Short: "Embed a repository into the vector store",
	Long: `Chunks and embeds every changed file. Unchanged files are skipped by
content hash and files no longer in the repository are pruned.

Examples:
  coderag index .            # Incremental
  coderag index . --force    # Re-embed every file, also after a chunk size change
  coderag index . --reset    # Rebuild after changing the embedding model`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "Re-embed files even when their content is unchanged")
	indexCmd.Flags().BoolVar(&indexReset, "reset", false, "Delete the stored index and recorded model first")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if indexReset {
		if err := a.orch.Indexer().Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset index: %w", err)
		}
		a.logger.Info("index reset")
	}

	report, err := a.orch.Analyze(ctx, args[0], orchestrator.AnalyzeOptions{Index: true, Force: indexForce})
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	if err != nil {
		return err
	}
	if x := report.CrossReference; x != nil && x.Degraded != "" {
		return fmt.Errorf("indexing failed: %s", x.Degraded)
	}
	return nil
}
