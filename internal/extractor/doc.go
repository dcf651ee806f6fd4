// Package extractor derives structural records from source files.
//
// A Registry keyed on file extension selects one Extractor strategy per
// file. Built-in strategies:
//
//   - Go: go/parser AST walk
//   - Python, JavaScript, TypeScript/TSX, Java, Rust: tree-sitter queries
//     (cgo builds only)
//   - everything else: regex import scanning with an empty symbol set
//
// Entry points are recognized by manifest base name. Manifests are also
// parsed for their declared dependencies and module name.
//
// Extraction never fails a run. A strategy error degrades the record to the
// heuristic import scan and is returned as *types.ExtractionError for the
// caller to record.
//
//	reg := extractor.NewRegistry(cfg.Analysis.EntryPoints, logger)
//	rec, err := reg.Extract(file)
//	if err != nil {
//	    summary.Warnings = append(summary.Warnings, err.Error())
//	}
package extractor
