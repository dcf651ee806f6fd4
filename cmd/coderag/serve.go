package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/coderag/internal/mcp"
	"github.com/dshills/coderag/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools on stdio",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("MCP server starting",
		"version", version,
		"build_mode", vectorstore.BuildMode,
		"driver", vectorstore.DriverName,
		"vector_extension", vectorstore.VectorExtensionAvailable,
		"store", a.cfg.Store.Backend)

	server, err := mcp.NewServer(a.cfg, a.store, a.orch)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("MCP server ready, listening on stdio")
		errChan <- server.Serve(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
		return nil
	case err := <-errChan:
		return err
	}
}
