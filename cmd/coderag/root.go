package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag/internal/config"
	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/llm"
	"github.com/dshills/coderag/internal/orchestrator"
	"github.com/dshills/coderag/internal/vectorstore"
)

var (
	configPath string
	outputDir  string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "coderag",
	Short: "Repository-grounded code analysis and retrieval",
	Long: `coderag analyzes a repository into a dependency graph and a vector index,
then answers questions and suggests edits using only the repository's own files.

Examples:
  coderag analyze .
  coderag index . --force
  coderag query . "where is the session ttl configured?"
  coderag suggest . "add a logout endpoint" --target internal/auth/handler.go
  coderag serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "project.yaml", "Configuration file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "Output directory for reports (default from config: output)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(analyzeCmd, indexCmd, queryCmd, suggestCmd, serveCmd, embedCmd, versionCmd)
}

// loadConfig reads the configuration file and applies flag overrides
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs always go to stderr.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q", cfg.Level)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
}

// app bundles the components a command runs with
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  vectorstore.Store
	embed  embedder.Embedder
	orch   *orchestrator.Orchestrator
}

// openApp loads configuration and opens the store, the embedder and, when
// withLLM is set, the inference client.
func openApp(ctx context.Context, withLLM bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	store, err := vectorstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	embed, err := embedder.New(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	deps := orchestrator.Deps{Store: store, Embedder: embed}
	if withLLM {
		client, err := llm.New(cfg)
		if err != nil {
			_ = embed.Close()
			_ = store.Close()
			return nil, fmt.Errorf("failed to create llm client: %w", err)
		}
		deps.LLM = client
	}

	orch, err := orchestrator.New(cfg, deps, logger)
	if err != nil {
		_ = embed.Close()
		_ = store.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: store, embed: embed, orch: orch}, nil
}

func (a *app) Close() {
	if err := a.embed.Close(); err != nil {
		a.logger.Warn("failed to close embedder", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close vector store", "error", err)
	}
}

// prepare analyzes and indexes root before a query or suggestion
func (a *app) prepare(ctx context.Context, root string) error {
	report, err := a.orch.Analyze(ctx, root, orchestrator.AnalyzeOptions{Index: true})
	if err != nil {
		return err
	}
	if x := report.CrossReference; x != nil && x.Degraded != "" {
		a.logger.Warn("vector index unavailable, answers use structure only", "reason", x.Degraded)
	}
	return nil
}
