package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is the hosted embedding model used by default
const DefaultOpenAIModel = "text-embedding-3-small"

var openAIDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider implements Embedder using the OpenAI embeddings API
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
	reduced   bool // request a shortened vector from a text-embedding-3 model
	cache     *Cache
	retry     RetryPolicy
}

// NewOpenAIProvider creates an OpenAI embedder. baseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAIProvider(apiKey, baseURL, model string, dimension int, cache *Cache, retry RetryPolicy) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrNoProviderEnabled)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	native, known := openAIDimensions[model]
	reduced := false
	switch {
	case dimension <= 0 && known:
		dimension = native
	case dimension > 0 && known && dimension != native:
		if !strings.HasPrefix(model, "text-embedding-3") {
			return nil, fmt.Errorf("%w: %s has fixed dimension %d", ErrUnsupportedModel, model, native)
		}
		reduced = true
	}

	// Retries are driven by RetryPolicy, not the SDK
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
		reduced:   reduced,
		cache:     cache,
		retry:     retry,
	}, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return single(ctx, o, req)
}

func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings, err := batchCached(ctx, o.cache, ProviderOpenAI, o.model, req.Texts, func(ctx context.Context, texts []string) ([][]float32, error) {
		return withRetry(ctx, o.retry, func(ctx context.Context) ([][]float32, error) {
			return o.callAPI(ctx, texts)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOpenAI,
		Model:      o.model,
	}, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(o.model),
	}
	if o.reduced {
		params.Dimensions = openai.Int(int64(o.dimension))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(vectors) {
			return nil, fmt.Errorf("response index %d out of range", data.Index)
		}
		vec := toFloat32(data.Embedding)
		if o.dimension > 0 && len(vec) != o.dimension {
			return nil, fmt.Errorf("%w: model %s returned %d, want %d", ErrDimensionMismatch, o.model, len(vec), o.dimension)
		}
		vectors[data.Index] = vec
	}
	for i, vec := range vectors {
		if vec == nil {
			return nil, fmt.Errorf("no embedding returned for text %d", i)
		}
	}
	return vectors, nil
}

// toFloat32 narrows the API's float64 vectors to the stored precision
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

func (o *OpenAIProvider) Dimension() int {
	return o.dimension
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	return nil
}
