package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/coderag/internal/llm"
)

// indexRepositoryTool returns the tool definition for index_repository
func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Analyze a repository and embed its chunks into the vector store",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository root",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-embed every file ignoring stored content hashes",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// queryCodebaseTool returns the tool definition for query_codebase
func queryCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "query_codebase",
		Description: "Answer a question about a repository using only files retrieved from it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository root",
				},
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Natural language question",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of chunks to retrieve (1-100)",
					"minimum":     1,
					"maximum":     100,
				},
				"budget": map[string]interface{}{
					"type":        "integer",
					"description": "Token budget for the assembled context",
					"minimum":     1,
				},
			},
			Required: []string{"path", "question"},
		},
	}
}

// analyzeRepositoryTool returns the tool definition for analyze_repository
func analyzeRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "analyze_repository",
		Description: "Build the architectural overview of a repository: languages, dependency graph, interfaces and cross references",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository root",
				},
			},
			Required: []string{"path"},
		},
	}
}

// suggestEditTool returns the tool definition for suggest_edit
func suggestEditTool() mcp.Tool {
	templates := make([]string, len(llm.Templates))
	for i, t := range llm.Templates {
		templates[i] = string(t)
	}
	return mcp.Tool{
		Name:        "suggest_edit",
		Description: "Suggest a change grounded in the repository's own files",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository root",
				},
				"instruction": map[string]interface{}{
					"type":        "string",
					"description": "The change to make",
				},
				"template": map[string]interface{}{
					"type":        "string",
					"description": "Prompt template",
					"enum":        templates,
					"default":     string(llm.TemplateCodeEdit),
				},
				"target": map[string]interface{}{
					"type":        "string",
					"description": "Repository-relative file the change belongs in",
				},
			},
			Required: []string{"path", "instruction"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report vector store statistics and the analyzed repository",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
