package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/coderag/internal/config"
	"github.com/dshills/coderag/internal/orchestrator"
	"github.com/dshills/coderag/internal/vectorstore"
)

const (
	// ServerName is the MCP server name
	ServerName = "coderag"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp   *server.MCPServer
	cfg   config.Config
	store vectorstore.Store
	orch  *orchestrator.Orchestrator

	// runs serializes analysis runs; the snapshot they produce is shared
	runs sync.Mutex
}

// NewServer creates a new MCP server instance over an orchestrator and the
// store it writes to
func NewServer(cfg config.Config, store vectorstore.Store, orch *orchestrator.Orchestrator) (*Server, error) {
	if store == nil || orch == nil {
		return nil, fmt.Errorf("store and orchestrator are required")
	}

	s := &Server{
		mcp:   server.NewMCPServer(ServerName, ServerVersion),
		cfg:   cfg,
		store: store,
		orch:  orch,
	}

	// Register tools
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(queryCodebaseTool(), s.handleQueryCodebase)
	s.mcp.AddTool(analyzeRepositoryTool(), s.handleAnalyzeRepository)
	s.mcp.AddTool(suggestEditTool(), s.handleSuggestEdit)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	return nil
}

// analyze runs an analysis of root under the run lock
func (s *Server) analyze(ctx context.Context, root string, opts orchestrator.AnalyzeOptions) (*orchestrator.Report, error) {
	s.runs.Lock()
	defer s.runs.Unlock()
	return s.orch.Analyze(ctx, root, opts)
}

// ensureAnalyzed analyzes and indexes root unless it is the current snapshot
func (s *Server) ensureAnalyzed(ctx context.Context, root string) error {
	if snap := s.orch.Snapshot(); snap != nil && snap.Root == root {
		return nil
	}
	_, err := s.analyze(ctx, root, orchestrator.AnalyzeOptions{Index: true})
	return err
}
