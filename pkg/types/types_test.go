package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReassemble(t *testing.T) {
	chunks := []Chunk{
		{Content: "hello wor", Overlap: 0},
		{Content: "world, h", Overlap: 3},
		{Content: ", héllo", Overlap: 3}, // overlap is counted in characters
	}
	assert.Equal(t, "hello world, héllo", Reassemble(chunks))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestChunkValidate(t *testing.T) {
	c := Chunk{Path: "a.go", StartLine: 1, EndLine: 2, EndOffset: 10, EndByte: 10, Content: "x"}
	require.NoError(t, c.Validate())

	bad := c
	bad.StartLine = 3
	assert.Error(t, bad.Validate())

	bad = c
	bad.Overlap = 11
	assert.Error(t, bad.Validate())
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]Language{
		"main.go":           LangGo,
		"src/app.TSX":       LangTypeScript,
		"lib/util.py":       LangPython,
		"config/app.yml":    LangYAML,
		"README":            LangUnknown,
		"deep/dir/Foo.java": LangJava,
	}
	for path, want := range tests {
		assert.Equal(t, want, DetectLanguage(path), path)
	}
}

func TestIsTestPath(t *testing.T) {
	assert.True(t, IsTestPath("pkg/a_test.go"))
	assert.True(t, IsTestPath("test_app.py"))
	assert.True(t, IsTestPath("src/__tests__/x.js"))
	assert.True(t, IsTestPath("web/button.spec.ts"))
	assert.False(t, IsTestPath("pkg/testing.go"))
}

func TestIsConfigPath(t *testing.T) {
	assert.True(t, IsConfigPath("deploy/values.yaml"))
	assert.True(t, IsConfigPath("Dockerfile"))
	assert.False(t, IsConfigPath("main.go"))
}

func TestNormalize(t *testing.T) {
	rec := StructuralRecord{
		Symbols: []Symbol{{Name: "B", Line: 2}, {Name: "A", Line: 1}, {Name: "B", Line: 2}},
		Imports: []Import{{Target: "os"}, {Target: "fmt"}, {Target: "os"}},
		Roles:   []string{"service", "handler", "service"},
	}
	rec.Normalize()

	assert.Equal(t, []Symbol{{Name: "A", Line: 1}, {Name: "B", Line: 2}}, rec.Symbols)
	assert.Equal(t, []Import{{Target: "fmt"}, {Target: "os"}}, rec.Imports)
	assert.Equal(t, []string{"handler", "service"}, rec.Roles)
}

func TestEntryIDStable(t *testing.T) {
	a := EntryID("a.go", 0, "h1")
	assert.Equal(t, a, EntryID("a.go", 0, "h1"))
	assert.NotEqual(t, a, EntryID("a.go", 1, "h1"))
	assert.NotEqual(t, a, EntryID("a.go", 0, "h2"))
	assert.Len(t, a, 32)
}

func TestErrorTaxonomy(t *testing.T) {
	wrapped := fmt.Errorf("pass: %w", &IndexingFailedError{Path: "a.go", Err: errors.New("disk full")})
	assert.True(t, errors.Is(wrapped, ErrIndexingFailed))
	assert.Equal(t, CodeIndexingFailed, ErrorCode(wrapped))

	abort := &PhaseAbortError{Phase: "directory_structure", Reason: "no files"}
	assert.True(t, errors.Is(abort, ErrPhaseAbort))
	assert.Contains(t, abort.Error(), "furthest completed: none")

	assert.Equal(t, CodeEncoding, ErrorCode(&EncodingError{Path: "x.bin"}))
	assert.Equal(t, CodeInternal, ErrorCode(errors.New("boom")))
	assert.Equal(t, "", ErrorCode(nil))
}

func TestPayloadPaths(t *testing.T) {
	p := ContextPayload{
		Chunks: []PayloadChunk{{Path: "b.go"}, {Path: "a.go"}},
		Facts: []DependencyEdge{
			{Source: "a.go", Target: "b.go", Kind: EdgeImport},
			{Source: "a.go", Target: "react", Kind: EdgeImport, External: true},
		},
	}
	assert.Equal(t, []string{"a.go", "b.go"}, p.Paths())
	assert.False(t, p.Empty())
	assert.True(t, ContextPayload{Budget: 10}.Empty())
}
