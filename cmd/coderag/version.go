package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag/internal/vectorstore"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "coderag\n")
		fmt.Fprintf(w, "Version: %s\n", version)
		fmt.Fprintf(w, "Build Time: %s\n", buildTime)
		fmt.Fprintf(w, "Build Mode: %s\n", vectorstore.BuildMode)
		fmt.Fprintf(w, "SQLite Driver: %s\n", vectorstore.DriverName)
		fmt.Fprintf(w, "Vector Extension: %v\n", vectorstore.VectorExtensionAvailable)
	},
}
