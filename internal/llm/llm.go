package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"

	"github.com/dshills/coderag/internal/config"
)

// Provider names
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

var (
	// ErrNoContext is returned when a prompt would carry no grounding context
	ErrNoContext = errors.New("no relevant files found in codebase analysis")
	// ErrContextOverflow is returned when a prompt does not fit the context window
	ErrContextOverflow = errors.New("prompt exceeds context window")
	// ErrUnknownTemplate is returned for a template name that is not registered
	ErrUnknownTemplate = errors.New("unknown prompt template")
	// ErrUnknownTarget is returned when an edit target is not part of the context
	ErrUnknownTarget = errors.New("target file is not part of the context")
	// ErrProviderFailed is returned when the inference service fails
	ErrProviderFailed = errors.New("llm provider failed")
	// ErrUnsupportedProvider is returned for an unknown provider name
	ErrUnsupportedProvider = errors.New("unsupported llm provider")
)

// Request is one chat completion
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Response is a completed answer
type Response struct {
	Content          string `json:"content" yaml:"content"`
	Provider         string `json:"provider" yaml:"provider"`
	Model            string `json:"model" yaml:"model"`
	PromptTokens     int    `json:"promptTokens,omitempty" yaml:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completionTokens,omitempty" yaml:"completion_tokens,omitempty"`
}

// Client is the inference capability
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Provider() string
	Model() string
}

// New creates the client selected by cfg.LLM
func New(cfg config.Config) (Client, error) {
	lc := cfg.LLM
	retry := RetryPolicy{MaxAttempts: cfg.Indexing.MaxAttempts, Timeout: lc.Timeout}

	switch lc.Provider {
	case "", ProviderOllama:
		baseURL := lc.BaseURL
		if baseURL == "" {
			baseURL = cfg.Ollama.BaseURL
		}
		return NewOllamaClient(baseURL, lc.Model, lc.ContextWindow, retry), nil
	case ProviderOpenAI:
		return NewOpenAIClient(lc.APIKey, lc.BaseURL, lc.Model, retry)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, lc.Provider)
	}
}

// StatusError is a non-2xx reply from an HTTP inference service
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm api error %d: %s", e.StatusCode, e.Body)
}

// RetryPolicy bounds attempts and the duration of each attempt
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Timeout     time.Duration
}

func retryable(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode == http.StatusTooManyRequests || status.StatusCode >= 500
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// complete runs op with a per-attempt timeout and exponential backoff
func (p RetryPolicy) complete(ctx context.Context, op func(ctx context.Context) (*Response, error)) (*Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
		b.MaxInterval = 4 * p.Initial
	}
	b.MaxElapsedTime = 0

	attempts := max(p.MaxAttempts, 1)
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	resp, err := backoff.RetryWithData(func() (*Response, error) {
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		resp, err := op(attemptCtx)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	return resp, nil
}
