package types

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy
var (
	ErrEncoding             = errors.New("content is not decodable text")
	ErrExtraction           = errors.New("structural extraction failed")
	ErrResolutionAmbiguity  = errors.New("ambiguous import resolution")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrIndexingFailed       = errors.New("indexing failed")
	ErrPhaseAbort           = errors.New("phase aborted")
)

// Domain errors for type validation
var (
	ErrMissingPath  = errors.New("path is required")
	ErrInvalidRank  = errors.New("rank must be >= 1")
	ErrEmptyContent = errors.New("content cannot be empty")
)

// Stable error codes carried in reports and MCP responses
const (
	CodeEncoding             = "ENCODING_ERROR"
	CodeExtraction           = "EXTRACTION_ERROR"
	CodeResolutionAmbiguity  = "RESOLUTION_AMBIGUITY"
	CodeRetrievalUnavailable = "RETRIEVAL_UNAVAILABLE"
	CodeIndexingFailed       = "INDEXING_FAILED"
	CodePhaseAbort           = "PHASE_ABORT"
	CodeInternal             = "INTERNAL_ERROR"
)

// ErrorCode maps an error onto its stable code
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEncoding):
		return CodeEncoding
	case errors.Is(err, ErrExtraction):
		return CodeExtraction
	case errors.Is(err, ErrResolutionAmbiguity):
		return CodeResolutionAmbiguity
	case errors.Is(err, ErrRetrievalUnavailable):
		return CodeRetrievalUnavailable
	case errors.Is(err, ErrIndexingFailed):
		return CodeIndexingFailed
	case errors.Is(err, ErrPhaseAbort):
		return CodePhaseAbort
	default:
		return CodeInternal
	}
}

// EncodingError reports a file whose content cannot be decoded as text
type EncodingError struct {
	Path   string
	Offset int // byte offset of the first invalid sequence
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s: %v (invalid byte at offset %d)", e.Path, ErrEncoding, e.Offset)
}

func (e *EncodingError) Is(target error) bool { return target == ErrEncoding }

// ExtractionError reports a structural extraction failure for one file
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Path, ErrExtraction, e.Err)
}

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

func (e *ExtractionError) Unwrap() error { return e.Err }

// AmbiguityWarning records an import that matched several repository files
type AmbiguityWarning struct {
	Source     string
	Target     string
	Candidates []string
	Chosen     string
}

func (w *AmbiguityWarning) Error() string {
	return fmt.Sprintf("%s: import %q matched %d files, chose %s", w.Source, w.Target, len(w.Candidates), w.Chosen)
}

func (w *AmbiguityWarning) Is(target error) bool { return target == ErrResolutionAmbiguity }

// IndexingFailedError reports a store write that failed after retries.
// Entries previously committed for Path remain valid.
type IndexingFailedError struct {
	Path string
	Err  error
}

func (e *IndexingFailedError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Path, ErrIndexingFailed, e.Err)
}

func (e *IndexingFailedError) Is(target error) bool { return target == ErrIndexingFailed }

func (e *IndexingFailedError) Unwrap() error { return e.Err }

// PhaseAbortError stops a run; Furthest is the last phase that completed
type PhaseAbortError struct {
	Phase    string
	Furthest string
	Reason   string
}

func (e *PhaseAbortError) Error() string {
	furthest := e.Furthest
	if furthest == "" {
		furthest = "none"
	}
	return fmt.Sprintf("%v in %s (furthest completed: %s): %s", ErrPhaseAbort, e.Phase, furthest, e.Reason)
}

func (e *PhaseAbortError) Is(target error) bool { return target == ErrPhaseAbort }
