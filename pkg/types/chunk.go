package types

import (
	"errors"
	"strings"
)

// CharsPerToken is the heuristic used for token estimation
const CharsPerToken = 4

// Chunk is one overlapping character window of a SourceFile
type Chunk struct {
	// Identification
	Path string
	Seq  int // 0-based position within the file

	// Location
	StartLine   int // 1-based, inclusive
	EndLine     int // 1-based, inclusive
	StartOffset int // character offset, inclusive
	EndOffset   int // character offset, exclusive
	StartByte   int
	EndByte     int

	// Characters shared with the previous chunk of the same file
	Overlap int

	Content string
}

// Validate checks chunk location invariants
func (c *Chunk) Validate() error {
	if c.Path == "" {
		return errors.New("chunk path is required")
	}
	if c.Seq < 0 {
		return errors.New("sequence index must be non-negative")
	}
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}
	if c.StartOffset > c.EndOffset || c.StartByte > c.EndByte {
		return errors.New("start offset must be before or equal to end offset")
	}
	if c.Overlap < 0 || c.Overlap > c.EndOffset-c.StartOffset {
		return errors.New("overlap out of range")
	}
	return nil
}

// TokenCount estimates the number of tokens in the chunk content
func (c *Chunk) TokenCount() int {
	return EstimateTokens(c.Content)
}

// EstimateTokens estimates tokens as ceil(bytes / CharsPerToken)
func EstimateTokens(s string) int {
	return (len(s) + CharsPerToken - 1) / CharsPerToken
}

// Reassemble rebuilds file content from its ordered chunks by dropping
// each chunk's overlap with its predecessor.
func Reassemble(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(trimRunes(c.Content, c.Overlap))
	}
	return b.String()
}

func trimRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[i:]
		}
		n--
	}
	return ""
}
