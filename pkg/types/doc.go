// Package types provides shared type definitions for the coderag pipeline.
//
// The types here flow between every stage of indexing and retrieval:
//
//	SourceFile ──► Chunk ──────────────┐
//	     │                             ├──► IndexEntry ──► RankedChunk ──► ContextPayload
//	     └──────► StructuralRecord ────┘          ▲
//	                     │                        │
//	                     └──► DependencyEdge ─────┘
//
// # Chunks
//
// A Chunk is a character window over one file. Chunks of a file overlap by a
// fixed number of characters and re-tile the original content exactly:
//
//	content := types.Reassemble(chunks) // == string(file.Content)
//
// # Structural records and edges
//
// StructuralRecord holds what a file declares (symbols), what it references
// (imports) and whether it is a manifest entry point. DependencyEdge is the
// resolved form of a reference: a file-to-file edge, or an edge to an external
// package when nothing in the repository matches.
//
// # Errors
//
// The pipeline error taxonomy lives in errors.go. Per-file errors
// (EncodingError, ExtractionError, IndexingFailedError) are accumulated into
// run summaries; PhaseAbortError stops a run. All of them match their sentinel
// with errors.Is:
//
//	if errors.Is(err, types.ErrRetrievalUnavailable) {
//	    // answer from the dependency graph only
//	}
package types
