package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cammy/sanctuary/pkg/types"
)

// ClaudeBackend generates text with the Anthropic Messages API
type ClaudeBackend struct {
	client    anthropic.Client
	model     string
	backend   types.Backend
	maxTokens int64
	apiKey    string
}

// ClaudeConfig holds configuration for creating a Claude backend
type ClaudeConfig struct {
	APIKey     string
	Model      string
	Backend    types.Backend
	MaxTokens  int
	BaseURL    string
	HTTPClient *http.Client
}

// NewClaudeBackend creates a new Claude backend
func NewClaudeBackend(cfg ClaudeConfig) (*ClaudeBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
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

	return &ClaudeBackend{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		backend:   cfg.Backend,
		maxTokens: int64(maxTokens),
		apiKey:    cfg.APIKey,
	}, nil
}

// Generate sends the prompt to Claude and returns the text blocks
func (c *ClaudeBackend) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", newError(c.backend, apiErr.StatusCode, err)
		}
		return "", newError(c.backend, 0, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// Available reports whether the backend has credentials
func (c *ClaudeBackend) Available() bool {
	return c.apiKey != ""
}

// Backend returns the backend id
func (c *ClaudeBackend) Backend() types.Backend {
	return c.backend
}
