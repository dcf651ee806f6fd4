package llm

import (
	"context"
	"encoding/json"
	"errors"
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
	return RetryPolicy{MaxAttempts: 3, Initial: time.Millisecond, Timeout: time.Second}
}

func chatServer(t *testing.T, handler func(w http.ResponseWriter, req ollamaChatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ollamaChatResponse{
		Model:           "phi4",
		Message:         ollamaMessage{Role: "assistant", Content: content},
		PromptEvalCount: 42,
		EvalCount:       7,
	})
}

func TestOllamaClientComplete(t *testing.T) {
	var got ollamaChatRequest
	srv := chatServer(t, func(w http.ResponseWriter, req ollamaChatRequest) {
		got = req
		writeReply(w, "see config.yaml line 3")
	})

	client := NewOllamaClient(srv.URL+"/", "", 4096, fastRetry())
	assert.Equal(t, ProviderOllama, client.Provider())
	assert.Equal(t, DefaultOllamaModel, client.Model())

	resp, err := client.Complete(context.Background(), Request{
		System:      "system text",
		User:        "user text",
		MaxTokens:   128,
		Temperature: 0.3,
	})
	require.NoError(t, err)

	assert.Equal(t, "see config.yaml line 3", resp.Content)
	assert.Equal(t, ProviderOllama, resp.Provider)
	assert.Equal(t, 42, resp.PromptTokens)
	assert.Equal(t, 7, resp.CompletionTokens)

	assert.Equal(t, "phi4", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, ollamaMessage{Role: "system", Content: "system text"}, got.Messages[0])
	assert.Equal(t, ollamaMessage{Role: "user", Content: "user text"}, got.Messages[1])
	assert.Equal(t, 128, got.Options.NumPredict)
	assert.Equal(t, 4096, got.Options.NumCtx)
	assert.InDelta(t, 0.3, got.Options.Temperature, 1e-9)
}

func TestOllamaClientRetries(t *testing.T) {
	t.Run("server errors are retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := chatServer(t, func(w http.ResponseWriter, _ ollamaChatRequest) {
			if calls.Add(1) < 3 {
				http.Error(w, "loading model", http.StatusServiceUnavailable)
				return
			}
			writeReply(w, "ok")
		})

		resp, err := NewOllamaClient(srv.URL, "phi4", 0, fastRetry()).Complete(context.Background(), Request{User: "q"})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		var calls atomic.Int32
		srv := chatServer(t, func(w http.ResponseWriter, _ ollamaChatRequest) {
			calls.Add(1)
			http.Error(w, "boom", http.StatusInternalServerError)
		})

		_, err := NewOllamaClient(srv.URL, "phi4", 0, fastRetry()).Complete(context.Background(), Request{User: "q"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProviderFailed)

		var status *StatusError
		require.True(t, errors.As(err, &status))
		assert.Equal(t, http.StatusInternalServerError, status.StatusCode)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := chatServer(t, func(w http.ResponseWriter, _ ollamaChatRequest) {
			calls.Add(1)
			http.Error(w, "model not found", http.StatusNotFound)
		})

		_, err := NewOllamaClient(srv.URL, "missing", 0, fastRetry()).Complete(context.Background(), Request{User: "q"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Contains(t, err.Error(), "model not found")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("cancelled context stops", func(t *testing.T) {
		srv := chatServer(t, func(w http.ResponseWriter, _ ollamaChatRequest) {
			writeReply(w, "late")
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewOllamaClient(srv.URL, "phi4", 0, fastRetry()).Complete(ctx, Request{User: "q"})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNew(t *testing.T) {
	t.Run("ollama uses shared base url", func(t *testing.T) {
		cfg := config.Default()
		cfg.Ollama.BaseURL = "http://ollama.internal:11434"

		client, err := New(cfg)
		require.NoError(t, err)
		require.IsType(t, &OllamaClient{}, client)
		assert.Equal(t, "http://ollama.internal:11434", client.(*OllamaClient).baseURL)
		assert.Equal(t, cfg.LLM.Model, client.Model())
	})

	t.Run("openai requires a key", func(t *testing.T) {
		cfg := config.Default()
		cfg.LLM.Provider = ProviderOpenAI
		_, err := New(cfg)
		require.Error(t, err)

		cfg.LLM.APIKey = "sk-test"
		client, err := New(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, client.Provider())
		assert.Equal(t, DefaultOpenAIModel, client.Model())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := config.Default()
		cfg.LLM.Provider = "bard"
		_, err := New(cfg)
		assert.ErrorIs(t, err, ErrUnsupportedProvider)
	})
}

func TestOpenAIClientComplete(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "edit main.go"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
		}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewOpenAIClient("sk-test", srv.URL, "gpt-4o-mini", fastRetry())
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{System: "s", User: "u", MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "edit main.go", resp.Content)
	assert.Equal(t, ProviderOpenAI, resp.Provider)
	assert.Equal(t, 10, resp.PromptTokens)
	assert.Equal(t, 3, resp.CompletionTokens)
	assert.Equal(t, "gpt-4o-mini", gotModel)
}
