package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag/internal/embedder"
)

var embedCmd = &cobra.Command{
	Use:   "embed <text>",
	Short: "Embed a text with the configured provider",
	Long: `Sends one text to the configured embedding provider and prints the
provider, model, dimension and leading vector values. Useful to check that a
provider is reachable before indexing.`,
	Args: cobra.ExactArgs(1),
	RunE: runEmbed,
}

func runEmbed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	embed, err := embedder.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer embed.Close()

	start := time.Now()
	emb, err := embed.GenerateEmbedding(cmd.Context(), embedder.EmbeddingRequest{Text: args[0]})
	if err != nil {
		return fmt.Errorf("failed to generate embedding: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Provider: %s\n", emb.Provider)
	fmt.Fprintf(w, "Model: %s\n", emb.Model)
	fmt.Fprintf(w, "Dimension: %d\n", emb.Dimension)
	fmt.Fprintf(w, "Took: %s\n", time.Since(start).Round(time.Millisecond))
	head := emb.Vector
	if len(head) > 5 {
		head = head[:5]
	}
	fmt.Fprintf(w, "Vector: %v\n", head)
	return nil
}
