package assembler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag/internal/graph"
	"github.com/dshills/coderag/pkg/types"
)

func ranked(path string, seq int, content string, score float64) types.RankedChunk {
	return types.RankedChunk{
		Chunk: types.Chunk{
			Path:      path,
			Seq:       seq,
			StartLine: 10,
			EndLine:   10 + strings.Count(content, "\n"),
			Content:   content,
		},
		Score: score,
	}
}

func importEdge(src, dst string) types.DependencyEdge {
	return types.DependencyEdge{Source: src, Target: dst, Kind: types.EdgeImport}
}

func externalEdge(src, dst string) types.DependencyEdge {
	return types.DependencyEdge{Source: src, Target: dst, Kind: types.EdgeImport, External: true}
}

// checkInvariants asserts the budget and grounding properties of a payload
func checkInvariants(t *testing.T, p types.ContextPayload, input []types.RankedChunk) {
	t.Helper()
	assert.LessOrEqual(t, p.TokensUsed, p.Budget)

	sum := 0
	for _, c := range p.Chunks {
		sum += c.Tokens
	}
	for _, f := range p.Facts {
		sum += types.EstimateTokens(f.Fact())
	}
	assert.Equal(t, sum, p.TokensUsed)

	allowed := make(map[string]bool)
	for _, rc := range input {
		allowed[rc.Chunk.Path] = true
	}
	for _, path := range p.Paths() {
		assert.True(t, allowed[path], "payload cites %s which is not in the input", path)
	}
}

func TestAssembleGreedyInRankOrder(t *testing.T) {
	a := New(0.10, nil)
	input := []types.RankedChunk{
		ranked("a.go", 0, strings.Repeat("a", 160), 0.9), // 40 tokens
		ranked("b.go", 0, strings.Repeat("b", 160), 0.8), // 40 tokens
		ranked("c.go", 0, strings.Repeat("c", 8), 0.7),   // 2 tokens
	}

	// 100 total leaves 90 for chunks; all three fit
	p := a.Assemble(input, nil, 100)
	require.Len(t, p.Chunks, 3)
	assert.Equal(t, 82, p.TokensUsed)
	assert.False(t, p.Truncated)
	checkInvariants(t, p, input)

	// 80 total: 72 for chunks; stops before b.go and does not skip ahead to c.go
	p = a.Assemble(input, nil, 80)
	require.Len(t, p.Chunks, 1)
	assert.Equal(t, "a.go", p.Chunks[0].Path)
	checkInvariants(t, p, input)
}

func TestAssembleTruncatesOversizedLeadingChunk(t *testing.T) {
	a := New(0.10, nil)
	var b strings.Builder
	for i := range 20 {
		fmt.Fprintf(&b, "line %02d of a long function body\n", i) // 32 bytes
	}
	input := []types.RankedChunk{ranked("big.go", 0, b.String(), 1), ranked("small.go", 0, "x", 0.5)}

	p := a.Assemble(input, nil, 50) // 45 tokens = 180 bytes for chunks
	require.Len(t, p.Chunks, 1)
	c := p.Chunks[0]
	assert.True(t, p.Truncated)
	assert.True(t, c.Truncated)
	assert.Equal(t, 5*32, len(c.Content), "five whole lines fit in 180 bytes")
	assert.True(t, strings.HasSuffix(c.Content, "\n"))
	assert.Equal(t, 10, c.StartLine)
	assert.Equal(t, 14, c.EndLine)
	checkInvariants(t, p, input)
}

func TestAssembleNeverCutsMidLine(t *testing.T) {
	a := New(0.10, nil)
	tests := []struct {
		name    string
		content string
	}{
		{"long first line", strings.Repeat("x", 400) + "\nnext\n"},
		{"single multibyte line", strings.Repeat("é", 200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := []types.RankedChunk{ranked("min.js", 0, tt.content, 1)}
			p := a.Assemble(input, nil, 20) // 18 tokens = 72 bytes
			assert.Empty(t, p.Chunks)
			assert.False(t, p.Truncated)
			assert.True(t, p.Empty())
			assert.Zero(t, p.TokensUsed)
			checkInvariants(t, p, input)
		})
	}
}

func TestAssembleTruncatedChunkEndsOnLine(t *testing.T) {
	a := New(0.10, nil)
	input := []types.RankedChunk{ranked("a.py", 0, "short\n"+strings.Repeat("y", 400)+"\n", 1)}

	p := a.Assemble(input, nil, 20)
	require.Len(t, p.Chunks, 1)
	assert.Equal(t, "short\n", p.Chunks[0].Content)
	assert.Equal(t, 10, p.Chunks[0].EndLine)
	assert.True(t, p.Truncated)
	checkInvariants(t, p, input)
}

func TestAssembleFacts(t *testing.T) {
	a := New(0.10, nil)
	input := []types.RankedChunk{
		ranked("api/handler.go", 0, "package api", 0.9),
		ranked("store/db.go", 0, "package store", 0.8),
		ranked("never/fits.go", 0, strings.Repeat("z", 4000), 0.1),
	}
	edges := []types.DependencyEdge{
		importEdge("api/handler.go", "store/db.go"),
		importEdge("api/handler.go", "secret/unlisted.go"), // target outside the input
		externalEdge("store/db.go", "database/sql"),
		importEdge("other/file.go", "store/db.go"), // source outside the input
		importEdge("never/fits.go", "store/db.go"), // ranked dependent of an included file
		importEdge("never/fits.go", "api/other.go"), // touches no included file
		importEdge("api/handler.go", "store/db.go"),
	}

	p := a.Assemble(input, edges, 400)
	require.Len(t, p.Chunks, 2)
	assert.Equal(t, []types.DependencyEdge{
		importEdge("api/handler.go", "store/db.go"),
		importEdge("never/fits.go", "store/db.go"),
		externalEdge("store/db.go", "database/sql"),
	}, p.Facts)
	checkInvariants(t, p, input)
}

func TestAssembleKeepsDependentFacts(t *testing.T) {
	a := New(0.10, nil)
	input := []types.RankedChunk{
		ranked("store/db.go", 0, "package store", 0.9),
		ranked("api/handler.go", 0, strings.Repeat("h", 4000), 0.8),
	}
	edges := []types.DependencyEdge{importEdge("api/handler.go", "store/db.go")}

	p := a.Assemble(input, edges, 200)
	require.Len(t, p.Chunks, 1)
	assert.Equal(t, "store/db.go", p.Chunks[0].Path)
	assert.Equal(t, edges, p.Facts)
	checkInvariants(t, p, input)
}

func TestAssembleFactsRespectReserve(t *testing.T) {
	a := New(0.10, nil)
	input := []types.RankedChunk{ranked("a.go", 0, "package a", 1)}
	var edges []types.DependencyEdge
	for i := range 50 {
		edges = append(edges, externalEdge("a.go", fmt.Sprintf("github.com/example/dependency%02d", i)))
	}

	p := a.Assemble(input, edges, 200)
	factTokens := 0
	for _, f := range p.Facts {
		factTokens += types.EstimateTokens(f.Fact())
	}
	assert.NotEmpty(t, p.Facts)
	assert.Less(t, len(p.Facts), 50)
	assert.LessOrEqual(t, factTokens, 20)
	checkInvariants(t, p, input)
}

func TestAssembleEdgeCases(t *testing.T) {
	a := New(0, nil)
	assert.Equal(t, DefaultEdgeShare, a.edgeShare)

	p := a.Assemble(nil, nil, 100)
	assert.True(t, p.Empty())
	assert.Equal(t, 100, p.Budget)

	p = a.Assemble([]types.RankedChunk{ranked("a.go", 0, "package a", 1)}, nil, 0)
	assert.True(t, p.Empty())
	assert.Zero(t, p.TokensUsed)
}

func TestAssembleNeverExceedsBudget(t *testing.T) {
	a := New(0.10, nil)
	var input []types.RankedChunk
	var edges []types.DependencyEdge
	for i := range 30 {
		path := fmt.Sprintf("pkg%d/file.go", i)
		input = append(input, ranked(path, 0, strings.Repeat("line\n", i*7+1), float64(30-i)))
		if i > 0 {
			edges = append(edges, importEdge(path, fmt.Sprintf("pkg%d/file.go", i-1)))
		}
	}

	for budget := 1; budget <= 600; budget += 7 {
		p := a.Assemble(input, edges, budget)
		checkInvariants(t, p, input)
	}
}

func testGraph() (*graph.Graph, map[string]types.StructuralRecord) {
	records := map[string]types.StructuralRecord{
		"src/auth/login.py": {
			Path:     "src/auth/login.py",
			Language: types.LangPython,
			Imports:  []types.Import{{Target: "src.db.session"}, {Target: "bcrypt"}},
			Symbols:  []types.Symbol{{Name: "LoginHandler", Kind: types.KindClass}},
		},
		"src/db/session.py": {Path: "src/db/session.py", Language: types.LangPython},
		"src/api/routes.py": {
			Path:     "src/api/routes.py",
			Language: types.LangPython,
			Imports:  []types.Import{{Target: "src.db.session"}},
		},
	}
	return graph.Build(records), records
}

func TestStructuralFallback(t *testing.T) {
	g, records := testGraph()
	a := New(0.10, nil)

	focus := FocusPaths("how does login work", g, records, 2)
	require.NotEmpty(t, focus)
	assert.Equal(t, "src/auth/login.py", focus[0])
	assert.Equal(t, "src/db/session.py", focus[1], "most imported file fills the rest")

	p := a.Structural(g, focus, 100)
	assert.True(t, p.Degraded)
	assert.Empty(t, p.Chunks)
	assert.NotEmpty(t, p.Facts)
	assert.LessOrEqual(t, p.TokensUsed, 100)
	for _, path := range p.Paths() {
		assert.True(t, g.Has(path), "%s is a repository path", path)
	}

	assert.True(t, a.Structural(nil, focus, 100).Empty())
	assert.Nil(t, FocusPaths("anything", nil, records, 3))
}

func TestFocusPathsWithoutMatchesUsesHubs(t *testing.T) {
	g, records := testGraph()
	assert.Equal(t, []string{"src/db/session.py"}, FocusPaths("zzz", g, records, 3))
}
