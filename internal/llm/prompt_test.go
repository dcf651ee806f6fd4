package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag/pkg/types"
)

func samplePayload() types.ContextPayload {
	return types.ContextPayload{
		Budget: 2000,
		Chunks: []types.PayloadChunk{
			{Path: "internal/auth/login.go", StartLine: 10, EndLine: 12, Content: "func Login() error {\n\treturn nil\n}"},
			{Path: "config/app.yaml", StartLine: 1, EndLine: 2, Content: "auth:\n  ttl: 30m"},
			{Path: "internal/auth/login.go", StartLine: 13, EndLine: 14, Content: "func Logout() {}"},
		},
		Facts: []types.DependencyEdge{
			{Source: "internal/auth/login.go", Target: "golang.org/x/crypto", Kind: types.EdgeImport, External: true},
		},
	}
}

func newBuilder(t *testing.T) *PromptBuilder {
	t.Helper()
	b, err := NewPromptBuilder(4096, 1024)
	require.NoError(t, err)
	return b
}

func TestBuildFileChange(t *testing.T) {
	p, err := newBuilder(t).Build(PromptInput{Question: "How is the session ttl set?", Payload: samplePayload()})
	require.NoError(t, err)

	assert.Equal(t, []string{"config/app.yaml", "internal/auth/login.go"}, p.Files)
	assert.True(t, strings.HasPrefix(p.System, "You are a code change analyst working with THESE EXACT FILES:\n- config/app.yaml\n- internal/auth/login.go\n"))
	assert.Contains(t, p.System, "1. Reference specific file paths from the list above")
	assert.Contains(t, p.System, "- Invent new file paths")
	assert.Contains(t, p.System, "- Mention files not in the list")

	assert.True(t, strings.HasPrefix(p.User, "Code Context:\n"))
	assert.Contains(t, p.User, "### internal/auth/login.go (lines 10-12)")
	assert.Contains(t, p.User, "auth:\n  ttl: 30m")
	assert.Contains(t, p.User, "Dependencies:\n- internal/auth/login.go -> external:golang.org/x/crypto (import)")
	assert.True(t, strings.HasSuffix(p.User, "Question: How is the session ttl set?\n"))
	assert.Positive(t, p.Tokens)
}

func TestBuildTemplates(t *testing.T) {
	b := newBuilder(t)
	for _, name := range Templates {
		t.Run(string(name), func(t *testing.T) {
			p, err := b.Build(PromptInput{
				Template: name,
				Question: "add logout audit",
				Target:   "internal/auth/login.go",
				Payload:  samplePayload(),
			})
			require.NoError(t, err)
			assert.Contains(t, p.System, "- internal/auth/login.go")
			if name != TemplateFileChange {
				assert.Contains(t, p.System, "internal/auth/login.go.")
			}
		})
	}
}

func TestBuildErrors(t *testing.T) {
	b := newBuilder(t)

	t.Run("empty payload", func(t *testing.T) {
		_, err := b.Build(PromptInput{Question: "anything"})
		assert.ErrorIs(t, err, ErrNoContext)
	})

	t.Run("unknown template", func(t *testing.T) {
		_, err := b.Build(PromptInput{Template: "poem", Payload: samplePayload()})
		assert.ErrorIs(t, err, ErrUnknownTemplate)
	})

	t.Run("target outside payload", func(t *testing.T) {
		_, err := b.Build(PromptInput{Template: TemplateCodeEdit, Target: "cmd/new.go", Payload: samplePayload()})
		assert.ErrorIs(t, err, ErrUnknownTarget)
	})

	t.Run("context window", func(t *testing.T) {
		small, err := NewPromptBuilder(200, 150)
		require.NoError(t, err)
		_, err = small.Build(PromptInput{Question: "q", Payload: samplePayload()})
		assert.ErrorIs(t, err, ErrContextOverflow)
	})
}

func TestBuildFactsOnlyPayload(t *testing.T) {
	payload := types.ContextPayload{
		Degraded: true,
		Facts: []types.DependencyEdge{
			{Source: "main.go", Target: "internal/db/db.go", Kind: types.EdgeImport},
		},
	}
	p, err := newBuilder(t).Build(PromptInput{Question: "where is the db opened?", Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, []string{"internal/db/db.go", "main.go"}, p.Files)
	assert.NotContains(t, p.User, "###")
}

func TestOrderFiles(t *testing.T) {
	got := OrderFiles([]string{"b.go", "deploy/values.yml", "a.go", "Cargo.toml"})
	assert.Equal(t, []string{"deploy/values.yml", "Cargo.toml", "b.go", "a.go"}, got)
	assert.Empty(t, OrderFiles(nil))
}

func TestPromptRequest(t *testing.T) {
	req := Prompt{System: "s", User: "u"}.Request(256, 0.2)
	assert.Equal(t, Request{System: "s", User: "u", MaxTokens: 256, Temperature: 0.2}, req)
}
