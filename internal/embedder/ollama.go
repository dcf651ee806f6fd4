package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

// DefaultOllamaModel is the embedding model pulled by default
const DefaultOllamaModel = "nomic-embed-text"

// ollamaDimensions lists output sizes of common Ollama embedding models
var ollamaDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
	"bge-m3":                 1024,
}

// OllamaProvider implements Embedder against a local Ollama service
type OllamaProvider struct {
	baseURL    string
	model      string
	dimension  atomic.Int64
	httpClient *http.Client
	cache      *Cache
	retry      RetryPolicy
}

// NewOllamaProvider creates an embedder for the Ollama /api/embed endpoint.
// A zero dimension is taken from the model table, or learned from the
// first response for unknown models.
func NewOllamaProvider(baseURL, model string, dimension int, cache *Cache, retry RetryPolicy) (*OllamaProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: ollama base url not set", ErrNoProviderEnabled)
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if dimension <= 0 {
		dimension = ollamaDimensions[strings.SplitN(model, ":", 2)[0]]
	}
	p := &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
		cache:      cache,
		retry:      retry,
	}
	p.dimension.Store(int64(dimension))
	return p, nil
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return single(ctx, o, req)
}

func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings, err := batchCached(ctx, o.cache, ProviderOllama, o.model, req.Texts, func(ctx context.Context, texts []string) ([][]float32, error) {
		return withRetry(ctx, o.retry, func(ctx context.Context) ([][]float32, error) {
			return o.callAPI(ctx, texts)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOllama,
		Model:      o.model,
	}, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (o *OllamaProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	var apiResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	for _, vec := range apiResp.Embeddings {
		if err := o.checkDimension(len(vec)); err != nil {
			return nil, err
		}
	}
	return apiResp.Embeddings, nil
}

// checkDimension pins the dimension on first use and rejects vectors that differ
func (o *OllamaProvider) checkDimension(n int) error {
	if o.dimension.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if want := o.dimension.Load(); want != int64(n) {
		return fmt.Errorf("%w: model %s returned %d, want %d", ErrDimensionMismatch, o.model, n, want)
	}
	return nil
}

func (o *OllamaProvider) Dimension() int {
	return int(o.dimension.Load())
}

func (o *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (o *OllamaProvider) Model() string {
	return o.model
}

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}
