package chunker

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/dshills/coderag/pkg/types"
)

const (
	// DefaultSize is the default window length in characters
	DefaultSize = 1024

	// DefaultOverlap is the default number of characters shared by adjacent windows
	DefaultOverlap = 128
)

// ErrInvalidWindow is returned when size and overlap violate 0 <= overlap < size
var ErrInvalidWindow = errors.New("chunk size must be positive and overlap must satisfy 0 <= overlap < size")

// Chunker splits file content into overlapping character windows. Size and
// overlap are fixed for the lifetime of a Chunker so that every file of an
// indexing run is tiled the same way.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker with the given window size and overlap
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidWindow, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window size
func (c *Chunker) Size() int { return c.size }

// Overlap returns the window overlap
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits a file into windows of c.size characters advancing by
// size-overlap. The final window may be shorter. Content that is not valid
// UTF-8 text fails with an EncodingError.
func (c *Chunker) Chunk(file types.SourceFile) ([]types.Chunk, error) {
	return Chunk(file, c.size, c.overlap)
}

// Chunk is the functional form of Chunker.Chunk
func Chunk(file types.SourceFile, size, overlap int) ([]types.Chunk, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidWindow, size, overlap)
	}
	if offset, ok := validText(file.Content); !ok {
		return nil, &types.EncodingError{Path: file.Path, Offset: offset}
	}

	// byteAt[i] is the byte offset of character i; byteAt[n] == len(content)
	content := file.Content
	byteAt := make([]int, 0, len(content)+1)
	for i := range string(content) {
		byteAt = append(byteAt, i)
	}
	n := len(byteAt)
	byteAt = append(byteAt, len(content))

	step := size - overlap
	chunks := make([]types.Chunk, 0, n/step+1)
	prevEnd := 0
	for start := 0; ; start += step {
		end := min(start+size, n)
		sb, eb := byteAt[start], byteAt[end]

		ch := types.Chunk{
			Path:        file.Path,
			Seq:         len(chunks),
			StartOffset: start,
			EndOffset:   end,
			StartByte:   sb,
			EndByte:     eb,
			Content:     string(content[sb:eb]),
		}
		if len(chunks) > 0 {
			ch.Overlap = prevEnd - start
		}
		ch.StartLine, ch.EndLine = lineSpan(content, sb, eb)
		chunks = append(chunks, ch)

		if end == n {
			break
		}
		prevEnd = end
	}
	return chunks, nil
}

// lineSpan returns the 1-based line range covered by content[start:end].
// A trailing newline closes the last line rather than opening a new one.
func lineSpan(content []byte, start, end int) (int, int) {
	first := 1 + bytes.Count(content[:start], []byte{'\n'})
	span := content[start:end]
	if len(span) > 0 && span[len(span)-1] == '\n' {
		span = span[:len(span)-1]
	}
	return first, first + bytes.Count(span, []byte{'\n'})
}

// validText reports whether content is decodable text: valid UTF-8 without
// NUL bytes. On failure it returns the byte offset of the first bad byte.
func validText(content []byte) (int, bool) {
	if i := bytes.IndexByte(content, 0); i >= 0 {
		return i, false
	}
	if utf8.Valid(content) {
		return 0, true
	}
	for i := 0; i < len(content); {
		r, w := utf8.DecodeRune(content[i:])
		if r == utf8.RuneError && w == 1 {
			return i, false
		}
		i += w
	}
	return 0, false
}

// ExpectedCount returns the number of windows produced for a text of n
// characters: ceil((n-overlap)/(size-overlap)) when n > size, else 1.
func ExpectedCount(n, size, overlap int) int {
	if n <= size {
		return 1
	}
	step := size - overlap
	return (n - overlap + step - 1) / step
}
