package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/coderag/internal/indexer"
	"github.com/dshills/coderag/internal/llm"
	"github.com/dshills/coderag/internal/orchestrator"
	"github.com/dshills/coderag/internal/vectorstore"
	"github.com/dshills/coderag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams        = -32602 // Invalid method parameters
	ErrorCodeInternalError        = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress   = -32002 // Another indexing operation is already running
	ErrorCodeNotAnalyzed          = -32003 // Repository not analyzed
	ErrorCodeEmptyQuery           = -32004 // Question or instruction is empty
	ErrorCodePhaseAbort           = -32005 // A run stopped before completing
	ErrorCodeModelMismatch        = -32006 // Store built with another embedding model or chunk window
	ErrorCodeInferenceUnavailable = -32007 // LLM failed or is not configured
)

// handleIndexRepository handles the index_repository tool invocation
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, path, err := pathArgs(request)
	if err != nil {
		return nil, err
	}
	force := getBoolDefault(args, "force", false)

	report, err := s.analyze(ctx, path, orchestrator.AnalyzeOptions{Index: true, Force: force})
	if err != nil {
		return nil, toMCPError("indexing failed", err)
	}

	response := map[string]interface{}{
		"indexed": report.CrossReference.Indexing != nil,
		"run_id":  report.ID,
		"files":   report.Directory.TotalFiles,
	}
	if stats := report.CrossReference.Indexing; stats != nil {
		response["files_indexed"] = stats.FilesIndexed
		response["files_unchanged"] = stats.FilesUnchanged
		response["files_skipped"] = stats.FilesSkipped
		response["files_failed"] = stats.FilesFailed
		response["files_pruned"] = stats.FilesPruned
		response["chunks_created"] = stats.ChunksCreated
		response["duration_ms"] = stats.Duration.Milliseconds()
	}
	if report.CrossReference.Degraded != "" {
		response["degraded"] = report.CrossReference.Degraded
	}
	if n := len(report.Failures); n > 0 {
		// Include first few failures
		if n > 5 {
			response["failures"] = report.Failures[:5]
			response["failure_count"] = n
		} else {
			response["failures"] = report.Failures
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleQueryCodebase handles the query_codebase tool invocation
func (s *Server) handleQueryCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, path, err := pathArgs(request)
	if err != nil {
		return nil, err
	}

	question, ok := args["question"].(string)
	if !ok || question == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "question parameter is required and cannot be empty", map[string]interface{}{
			"param":  "question",
			"reason": "missing or empty",
		})
	}

	k := getIntDefault(args, "k", s.cfg.Retrieval.K)
	if k < 1 || k > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "k must be between 1 and 100", map[string]interface{}{
			"param": "k",
			"value": k,
		})
	}
	budget := getIntDefault(args, "budget", 0)
	if budget < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "budget must be positive", map[string]interface{}{
			"param": "budget",
			"value": budget,
		})
	}

	if err := s.ensureAnalyzed(ctx, path); err != nil {
		return nil, toMCPError("analysis failed", err)
	}
	answer, err := s.orch.Query(ctx, orchestrator.QueryRequest{Question: question, K: k, Budget: budget})
	if err != nil {
		return nil, toMCPError("query failed", err)
	}

	return mcp.NewToolResultText(formatJSON(answer)), nil
}

// handleAnalyzeRepository handles the analyze_repository tool invocation
func (s *Server) handleAnalyzeRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, path, err := pathArgs(request)
	if err != nil {
		return nil, err
	}

	report, err := s.analyze(ctx, path, orchestrator.AnalyzeOptions{Write: true})
	if err != nil && report == nil {
		return nil, toMCPError("analysis failed", err)
	}
	// An aborted run still has a report worth returning
	return mcp.NewToolResultText(formatJSON(report)), nil
}

// handleSuggestEdit handles the suggest_edit tool invocation
func (s *Server) handleSuggestEdit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, path, err := pathArgs(request)
	if err != nil {
		return nil, err
	}

	instruction, ok := args["instruction"].(string)
	if !ok || instruction == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "instruction parameter is required and cannot be empty", map[string]interface{}{
			"param":  "instruction",
			"reason": "missing or empty",
		})
	}

	template := llm.Template(getStringDefault(args, "template", string(llm.TemplateCodeEdit)))
	if !validTemplate(template) {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid template", map[string]interface{}{
			"param":   "template",
			"value":   template,
			"allowed": llm.Templates,
		})
	}

	if err := s.ensureAnalyzed(ctx, path); err != nil {
		return nil, toMCPError("analysis failed", err)
	}
	report, err := s.orch.Suggest(ctx, orchestrator.EditRequest{
		Instruction: instruction,
		Template:    template,
		Target:      getStringDefault(args, "target", ""),
	})
	if err != nil && report == nil {
		return nil, toMCPError("suggestion failed", err)
	}

	return mcp.NewToolResultText(formatJSON(report)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed": stats.Entries > 0,
		"store": map[string]interface{}{
			"backend":   stats.Backend,
			"entries":   stats.Entries,
			"paths":     stats.Paths,
			"model":     stats.Model,
			"dimension": stats.Dimension,
		},
		"config": map[string]interface{}{
			"embedding_model": s.cfg.Embedding.Model,
			"llm_model":       s.cfg.LLM.Model,
			"chunk_size":      s.cfg.Chunking.Size,
			"chunk_overlap":   s.cfg.Chunking.Overlap,
		},
	}
	if !stats.IndexedAt.IsZero() {
		response["store"].(map[string]interface{})["last_indexed_at"] = stats.IndexedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if snap := s.orch.Snapshot(); snap != nil {
		response["repository"] = map[string]interface{}{
			"root":  snap.Root,
			"files": len(snap.Records),
			"edges": len(snap.Graph.Edges()),
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// pathArgs extracts the arguments map and the validated repository path
func pathArgs(request mcp.CallToolRequest) (map[string]interface{}, string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	// Validate path exists and is accessible
	if err := validatePath(path); err != nil {
		return nil, "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	return args, filepath.Clean(path), nil
}

func validTemplate(t llm.Template) bool {
	for _, known := range llm.Templates {
		if t == known {
			return true
		}
	}
	return false
}

// toMCPError maps pipeline errors onto MCP error codes
func toMCPError(message string, err error) error {
	data := map[string]interface{}{
		"error": err.Error(),
		"code":  types.ErrorCode(err),
	}

	var abort *types.PhaseAbortError
	switch {
	case errors.Is(err, indexer.ErrIndexingInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, message, data)
	case errors.Is(err, orchestrator.ErrNotAnalyzed):
		return newMCPError(ErrorCodeNotAnalyzed, message, data)
	case errors.Is(err, vectorstore.ErrModelMismatch), errors.Is(err, vectorstore.ErrChunkingMismatch):
		return newMCPError(ErrorCodeModelMismatch, message, data)
	case errors.Is(err, orchestrator.ErrNoLLM), errors.Is(err, llm.ErrProviderFailed):
		return newMCPError(ErrorCodeInferenceUnavailable, message, data)
	case errors.As(err, &abort):
		data["phase"] = abort.Phase
		data["furthest_completed"] = abort.Furthest
		data["reason"] = abort.Reason
		return newMCPError(ErrorCodePhaseAbort, message, data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path exists and is a readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	// Check if path is absolute
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	// Check if path exists
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	// Check if it's a directory
	if !info.IsDir() {
		return ErrNotDirectory
	}

	// Check if directory is readable
	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
