// Package mcp implements the Model Context Protocol (MCP) server for coderag.
//
// The MCP server exposes five tools to coding assistants:
//   - index_repository: analyze a repository and embed its chunks
//   - query_codebase: answer a question from retrieved repository files
//   - analyze_repository: build the architectural overview report
//   - suggest_edit: run the edit phases and return a grounded suggestion
//   - get_status: report vector store statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started with:
//
//	coderag serve
//
// It listens on stdin and writes responses to stdout, so all logging goes to
// stderr.
//
// # Tool: query_codebase
//
//	Request:
//	{
//	  "name": "query_codebase",
//	  "arguments": {
//	    "path": "/path/to/repo",
//	    "question": "where is the session ttl configured?",
//	    "k": 8
//	  }
//	}
//
//	Response:
//	{
//	  "question": "where is the session ttl configured?",
//	  "answer": "config.yaml line 2 sets auth.ttl ...",
//	  "context": {
//	    "files": [{"path": "config.yaml", "hits": 2}],
//	    "chunks": 5,
//	    "facts": 3,
//	    "budget": 2560,
//	    "tokensUsed": 1830
//	  }
//	}
//
// A repository is analyzed and indexed on first use; later calls for the
// same path reuse the snapshot until index_repository or analyze_repository
// runs again.
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "coderag": {
//	      "command": "/usr/local/bin/coderag",
//	      "args": ["serve", "--config", "/path/to/project.yaml"]
//	    }
//	  }
//	}
//
// # Error Handling
//
// Handlers return *MCPError values:
//   - -32602: invalid params (missing or invalid arguments)
//   - -32603: internal error
//   - -32002: indexing in progress
//   - -32003: repository not analyzed
//   - -32004: empty question or instruction
//   - -32005: run aborted; data names the phase and the furthest completed phase
//   - -32006: store built with another embedding model
//   - -32007: inference unavailable
//
// analyze_repository and suggest_edit return the report of an aborted run
// as a result rather than an error.
package mcp
