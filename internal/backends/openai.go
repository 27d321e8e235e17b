package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cammy/sanctuary/pkg/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend generates text with the OpenAI chat completions API
type OpenAIBackend struct {
	client    openai.Client
	model     string
	backend   types.Backend
	maxTokens int64
	apiKey    string
}

// OpenAIConfig holds configuration for creating an OpenAI backend
type OpenAIConfig struct {
	APIKey     string
	Model      string
	Backend    types.Backend
	MaxTokens  int
	BaseURL    string
	HTTPClient *http.Client
}

// NewOpenAIBackend creates a new OpenAI backend
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &OpenAIBackend{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		backend:   cfg.Backend,
		maxTokens: int64(maxTokens),
		apiKey:    cfg.APIKey,
	}, nil
}

// Generate sends the prompt as a single user message
func (o *OpenAIBackend) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(o.maxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", newError(o.backend, apiErr.StatusCode, err)
		}
		return "", newError(o.backend, 0, err)
	}

	if len(resp.Choices) == 0 {
		return "", newError(o.backend, 0, fmt.Errorf("no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

// Available reports whether the backend has credentials
func (o *OpenAIBackend) Available() bool {
	return o.apiKey != ""
}

// Backend returns the backend id
func (o *OpenAIBackend) Backend() types.Backend {
	return o.backend
}
