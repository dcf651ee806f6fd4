package llm

import (
	"embed"
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/dshills/coderag/pkg/types"
)

// Template names a system prompt
type Template string

// Prompt templates
const (
	TemplateFileChange       Template = "file_change"
	TemplateCodeEdit         Template = "code_edit"
	TemplateBehaviorAddition Template = "behavior_addition"
)

// Templates lists the registered system prompt templates
var Templates = []Template{TemplateFileChange, TemplateCodeEdit, TemplateBehaviorAddition}

//go:embed templates/*.tmpl
var templateFS embed.FS

// PromptInput is what a prompt is rendered from
type PromptInput struct {
	Template Template
	Question string
	Target   string
	Payload  types.ContextPayload
}

// Prompt is a rendered request ready for a Client
type Prompt struct {
	System string
	User   string
	Files  []string
	Tokens int
}

// Request converts the prompt into a completion request
func (p Prompt) Request(maxTokens int, temperature float64) Request {
	return Request{System: p.System, User: p.User, MaxTokens: maxTokens, Temperature: temperature}
}

// PromptBuilder renders grounded prompts bounded by a context window
type PromptBuilder struct {
	tmpl          *template.Template
	contextWindow int
	maxTokens     int
}

// NewPromptBuilder parses the embedded templates. contextWindow <= 0
// disables the window check.
func NewPromptBuilder(contextWindow, maxTokens int) (*PromptBuilder, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	return &PromptBuilder{tmpl: tmpl, contextWindow: contextWindow, maxTokens: maxTokens}, nil
}

// Build renders the system and user prompts for in. The file list names
// every payload path exactly once, config files first, then in rank order.
func (b *PromptBuilder) Build(in PromptInput) (Prompt, error) {
	name := in.Template
	if name == "" {
		name = TemplateFileChange
	}
	if !slices.Contains(Templates, name) {
		return Prompt{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	if in.Payload.Empty() {
		return Prompt{}, ErrNoContext
	}

	files := OrderFiles(rankedPaths(in.Payload))
	if in.Target != "" && !slices.Contains(files, in.Target) {
		return Prompt{}, fmt.Errorf("%w: %s", ErrUnknownTarget, in.Target)
	}

	var system strings.Builder
	err := b.tmpl.ExecuteTemplate(&system, string(name)+".tmpl", struct {
		Files  []string
		Target string
	}{files, in.Target})
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to render %s prompt: %w", name, err)
	}

	var user strings.Builder
	err = b.tmpl.ExecuteTemplate(&user, "user.tmpl", struct {
		Chunks   []types.PayloadChunk
		Facts    []types.DependencyEdge
		Question string
	}{in.Payload.Chunks, in.Payload.Facts, in.Question})
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to render user prompt: %w", err)
	}

	p := Prompt{System: system.String(), User: user.String(), Files: files}
	p.Tokens = types.EstimateTokens(p.System) + types.EstimateTokens(p.User)
	if b.contextWindow > 0 && p.Tokens+b.maxTokens > b.contextWindow {
		return Prompt{}, fmt.Errorf("%w: %d prompt tokens + %d completion tokens > %d",
			ErrContextOverflow, p.Tokens, b.maxTokens, b.contextWindow)
	}
	return p, nil
}

// OrderFiles moves config files to the front and keeps the given order
// otherwise.
func OrderFiles(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if types.IsConfigPath(p) {
			out = append(out, p)
		}
	}
	for _, p := range paths {
		if !types.IsConfigPath(p) {
			out = append(out, p)
		}
	}
	return out
}

// rankedPaths lists chunk paths in payload order, then the remaining fact
// paths sorted.
func rankedPaths(p types.ContextPayload) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range p.Chunks {
		if !seen[c.Path] {
			seen[c.Path] = true
			out = append(out, c.Path)
		}
	}
	for _, path := range p.Paths() {
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	return out
}
