package llm

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is the chat model used when none is configured
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient implements Client with OpenAI chat completions. Any
// OpenAI-compatible endpoint works through baseURL.
type OpenAIClient struct {
	client openai.Client
	model  string
	retry  RetryPolicy
}

// NewOpenAIClient creates a chat client. SDK retries are disabled; retries
// follow the configured policy.
func NewOpenAIClient(apiKey, baseURL, model string, retry RetryPolicy) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key not set")
	}
	if model == "" || model == DefaultOllamaModel {
		model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
		retry:  retry,
	}, nil
}

func (o *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Model:       openai.ChatModel(o.model),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	return o.retry.complete(ctx, func(ctx context.Context) (*Response, error) {
		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("openai returned no choices")
		}
		return &Response{
			Content:          resp.Choices[0].Message.Content,
			Provider:         ProviderOpenAI,
			Model:            resp.Model,
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		}, nil
	})
}

func (o *OpenAIClient) Provider() string { return ProviderOpenAI }

func (o *OpenAIClient) Model() string { return o.model }
