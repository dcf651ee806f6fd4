package embedder

import (
	"fmt"
	"strings"

	"github.com/dshills/coderag/internal/config"
)

// New creates the embedder selected by cfg.Embedding. Ollama falls back to
// the shared ollama.base_url, and retries follow the indexing limits.
func New(cfg config.Config) (Embedder, error) {
	ec := cfg.Embedding
	var cache *Cache
	if ec.CacheSize > 0 {
		cache = NewCache(ec.CacheSize)
	}

	retry := DefaultRetryPolicy()
	if cfg.Indexing.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Indexing.MaxAttempts
	}
	if cfg.Indexing.Timeout > 0 {
		retry.Timeout = cfg.Indexing.Timeout
	}

	switch strings.ToLower(ec.Provider) {
	case ProviderOllama:
		baseURL := ec.BaseURL
		if baseURL == "" {
			baseURL = cfg.Ollama.BaseURL
		}
		return NewOllamaProvider(baseURL, ec.Model, ec.Dimension, cache, retry)
	case ProviderOpenAI:
		model := ec.Model
		if model == "" || model == DefaultOllamaModel {
			model = DefaultOpenAIModel
		}
		return NewOpenAIProvider(ec.APIKey, ec.BaseURL, model, ec.Dimension, cache, retry)
	case ProviderLocal:
		return NewLocalProvider(ec.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, ec.Provider)
	}
}
