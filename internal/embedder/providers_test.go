package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag/internal/config"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Timeout: time.Second}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i] * b[i])
		na += float64(a[i] * a[i])
		nb += float64(b[i] * b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestLocalProvider(t *testing.T) {
	provider, err := NewLocalProvider(0, NewCache(10))
	require.NoError(t, err)
	defer provider.Close()

	assert.Equal(t, ProviderLocal, provider.Provider())
	assert.Equal(t, LocalDimension, provider.Dimension())
	assert.Equal(t, LocalModel, provider.Model())

	ctx := context.Background()

	t.Run("deterministic", func(t *testing.T) {
		a, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func OpenStore(path string)"})
		require.NoError(t, err)
		fresh, err := NewLocalProvider(0, nil)
		require.NoError(t, err)
		b, err := fresh.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func OpenStore(path string)"})
		require.NoError(t, err)
		assert.Equal(t, a.Vector, b.Vector)
		assert.Len(t, a.Vector, LocalDimension)
	})

	t.Run("shared identifiers are closer", func(t *testing.T) {
		resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{
			"cache entry lookup",
			"func (c *Cache) Lookup(entry string)",
			"http server listen port",
		}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 3)

		near := cosine(resp.Embeddings[0].Vector, resp.Embeddings[1].Vector)
		far := cosine(resp.Embeddings[0].Vector, resp.Embeddings[2].Vector)
		assert.Greater(t, near, far)
	})

	t.Run("punctuation only text", func(t *testing.T) {
		emb, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "{}"})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, cosine(emb.Vector, emb.Vector), 1e-5)
	})

	t.Run("custom dimension", func(t *testing.T) {
		p, err := NewLocalProvider(64, nil)
		require.NoError(t, err)
		emb, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
		require.NoError(t, err)
		assert.Len(t, emb.Vector, 64)
	})

	t.Run("validation errors", func(t *testing.T) {
		_, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{})
		assert.ErrorIs(t, err, ErrEmptyText)
		_, err = provider.GenerateBatch(ctx, BatchEmbeddingRequest{})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := provider.GenerateEmbedding(cctx, EmbeddingRequest{Text: "never embedded before"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTokenize(t *testing.T) {
	assert.Equal(t,
		[]string{"openstore", "open", "store", "path", "string"},
		Tokenize("OpenStore(path string)"))
	assert.Equal(t,
		[]string{"maxsize", "max", "size"},
		Tokenize("max_size"))
	assert.Empty(t, Tokenize("{} ()"))
}

func ollamaServer(t *testing.T, handler func(w http.ResponseWriter, req ollamaEmbedRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeVectors(w http.ResponseWriter, model string, texts []string, dim int) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = make([]float32, dim)
		vecs[i][len(text)%dim] = 1
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Model: model, Embeddings: vecs})
}

func TestOllamaProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("batch in order", func(t *testing.T) {
		var calls atomic.Int32
		srv := ollamaServer(t, func(w http.ResponseWriter, req ollamaEmbedRequest) {
			calls.Add(1)
			assert.Equal(t, "nomic-embed-text", req.Model)
			writeVectors(w, req.Model, req.Input, 768)
		})

		p, err := NewOllamaProvider(srv.URL+"/", "", 0, NewCache(10), fastRetry())
		require.NoError(t, err)
		assert.Equal(t, 768, p.Dimension())

		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "bb"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 2)
		assert.Equal(t, float32(1), resp.Embeddings[0].Vector[1])
		assert.Equal(t, float32(1), resp.Embeddings[1].Vector[2])
		assert.Equal(t, ProviderOllama, resp.Provider)

		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "a"})
		require.NoError(t, err)
		assert.Equal(t, int32(1), calls.Load(), "cached text must not reach the service")
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := ollamaServer(t, func(w http.ResponseWriter, req ollamaEmbedRequest) {
			if calls.Add(1) < 3 {
				http.Error(w, "model loading", http.StatusServiceUnavailable)
				return
			}
			writeVectors(w, req.Model, req.Input, 8)
		})

		p, err := NewOllamaProvider(srv.URL, "custom", 8, nil, fastRetry())
		require.NoError(t, err)
		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls atomic.Int32
		srv := ollamaServer(t, func(w http.ResponseWriter, _ ollamaEmbedRequest) {
			calls.Add(1)
			http.Error(w, "boom", http.StatusInternalServerError)
		})

		p, err := NewOllamaProvider(srv.URL, "custom", 8, nil, fastRetry())
		require.NoError(t, err)
		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProviderFailed)
		var status *StatusError
		require.True(t, errors.As(err, &status))
		assert.Equal(t, http.StatusInternalServerError, status.StatusCode)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := ollamaServer(t, func(w http.ResponseWriter, _ ollamaEmbedRequest) {
			calls.Add(1)
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
		})

		p, err := NewOllamaProvider(srv.URL, "missing", 8, nil, fastRetry())
		require.NoError(t, err)
		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("learns and pins dimension", func(t *testing.T) {
		var dim atomic.Int32
		dim.Store(16)
		srv := ollamaServer(t, func(w http.ResponseWriter, req ollamaEmbedRequest) {
			writeVectors(w, req.Model, req.Input, int(dim.Load()))
		})

		p, err := NewOllamaProvider(srv.URL, "unknown-model", 0, nil, fastRetry())
		require.NoError(t, err)
		assert.Equal(t, 0, p.Dimension())

		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "first"})
		require.NoError(t, err)
		assert.Equal(t, 16, p.Dimension())

		dim.Store(32)
		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "second"})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("requires base url", func(t *testing.T) {
		_, err := NewOllamaProvider("", "", 0, nil, fastRetry())
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})
}

func TestOpenAIProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("maps response indexes", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/embeddings", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"object":"list","model":"custom-embed","usage":{"prompt_tokens":2,"total_tokens":2},"data":[`+
				`{"object":"embedding","index":1,"embedding":[0,1]},`+
				`{"object":"embedding","index":0,"embedding":[1,0]}]}`)
		}))
		defer srv.Close()

		p, err := NewOpenAIProvider("sk-test", srv.URL+"/v1/", "custom-embed", 0, nil, fastRetry())
		require.NoError(t, err)

		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"first", "second"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 2)
		assert.Equal(t, []float32{1, 0}, resp.Embeddings[0].Vector)
		assert.Equal(t, []float32{0, 1}, resp.Embeddings[1].Vector)
		assert.Equal(t, ProviderOpenAI, resp.Provider)
	})

	t.Run("retries rate limits", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit","code":"rate_limit_exceeded"}}`)
				return
			}
			fmt.Fprint(w, `{"object":"list","model":"custom-embed","data":[{"object":"embedding","index":0,"embedding":[0.5,0.5]}]}`)
		}))
		defer srv.Close()

		p, err := NewOpenAIProvider("sk-test", srv.URL+"/v1/", "custom-embed", 0, nil, fastRetry())
		require.NoError(t, err)
		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("known model dimensions", func(t *testing.T) {
		p, err := NewOpenAIProvider("sk-test", "", "", 0, nil, fastRetry())
		require.NoError(t, err)
		assert.Equal(t, DefaultOpenAIModel, p.Model())
		assert.Equal(t, 1536, p.Dimension())

		p, err = NewOpenAIProvider("sk-test", "", "text-embedding-3-large", 256, nil, fastRetry())
		require.NoError(t, err)
		assert.Equal(t, 256, p.Dimension())

		_, err = NewOpenAIProvider("sk-test", "", "text-embedding-ada-002", 256, nil, fastRetry())
		assert.ErrorIs(t, err, ErrUnsupportedModel)
	})

	t.Run("requires api key", func(t *testing.T) {
		_, err := NewOpenAIProvider("", "", "", 0, nil, fastRetry())
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &StatusError{StatusCode: 429}, true},
		{"server error", &StatusError{StatusCode: 502}, true},
		{"bad request", &StatusError{StatusCode: 400}, false},
		{"cancelled", context.Canceled, false},
		{"attempt timeout", context.DeadlineExceeded, true},
		{"empty text", fmt.Errorf("wrap: %w", ErrEmptyText), false},
		{"dimension", ErrDimensionMismatch, false},
		{"transport", errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	_, err := withRetry(ctx, RetryPolicy{MaxAttempts: 10, Initial: 5 * time.Millisecond}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNew(t *testing.T) {
	cfg := config.Default()

	cfg.Embedding.Provider = "local"
	emb, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, emb.Provider())

	cfg.Embedding.Provider = "ollama"
	emb, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, emb.Provider())
	assert.Equal(t, "nomic-embed-text", emb.Model())

	cfg.Embedding.Provider = "openai"
	cfg.Embedding.APIKey = "sk-test"
	emb, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenAIModel, emb.Model(), "ollama default model is not sent to openai")

	cfg.Embedding.Provider = "jina"
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}
