package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cammy/sanctuary/pkg/types"
	"google.golang.org/genai"
)

// GeminiBackend generates text with Google's Gemini API
type GeminiBackend struct {
	client    *genai.Client
	model     string
	backend   types.Backend
	maxTokens int32
	apiKey    string
}

// GeminiConfig holds configuration for creating a Gemini backend
type GeminiConfig struct {
	APIKey    string
	Model     string
	Backend   types.Backend
	MaxTokens int
	// BaseURL and HTTPClient override the endpoint, mostly for tests
	BaseURL    string
	HTTPClient *http.Client
}

// NewGeminiBackend creates a new Gemini backend
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &GeminiBackend{
		client:    client,
		model:     cfg.Model,
		backend:   cfg.Backend,
		maxTokens: int32(maxTokens),
		apiKey:    cfg.APIKey,
	}, nil
}

// Generate sends the prompt to Gemini and returns the concatenated text parts
func (g *GeminiBackend) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		MaxOutputTokens: g.maxTokens,
		Temperature:     genai.Ptr[float32](0),
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", newError(g.backend, apiErr.Code, err)
		}
		return "", newError(g.backend, 0, err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", newError(g.backend, 0, fmt.Errorf("no candidates returned"))
	}

	var sb strings.Builder
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil && part.Text != "" {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String(), nil
}

// Available reports whether the backend has credentials
func (g *GeminiBackend) Available() bool {
	return g.apiKey != ""
}

// Backend returns the backend id
func (g *GeminiBackend) Backend() types.Backend {
	return g.backend
}
