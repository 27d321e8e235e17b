package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cammy/sanctuary/pkg/types"
)

// DefaultOllamaEndpoint is used when no endpoint or OLLAMA_HOST is configured
const DefaultOllamaEndpoint = "http://localhost:11434"

// OllamaBackend generates text using an Ollama endpoint
type OllamaBackend struct {
	endpoint  string
	model     string
	backend   types.Backend
	maxTokens int
	client    *http.Client
}

// OllamaConfig holds configuration for creating an Ollama backend
type OllamaConfig struct {
	Endpoint  string
	Model     string
	Backend   types.Backend
	MaxTokens int
	Timeout   time.Duration
}

// NewOllamaBackend creates a new Ollama backend
func NewOllamaBackend(cfg OllamaConfig) *OllamaBackend {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &OllamaBackend{
		endpoint:  endpoint,
		model:     cfg.Model,
		backend:   cfg.Backend,
		maxTokens: maxTokens,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Generate runs the prompt through /api/generate without streaming
func (o *OllamaBackend) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Available returns whether the backend is configured. Reachability is
// checked by CheckHealth.
func (o *OllamaBackend) Available() bool {
	return o.endpoint != "" && o.model != ""
}

// Backend returns the backend id
func (o *OllamaBackend) Backend() types.Backend {
	return o.backend
}

// CheckHealth verifies the Ollama endpoint is reachable
func (o *OllamaBackend) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return newError(o.backend, 0, fmt.Errorf("endpoint unreachable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newError(o.backend, resp.StatusCode, fmt.Errorf("health check failed"))
	}

	return nil
}

// ollamaRequest represents a request to the Ollama generate API
type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// ollamaResponse represents a response from the Ollama generate API
type ollamaResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	EvalCount       int    `json:"eval_count"`
	PromptEvalCount int    `json:"prompt_eval_count"`
}

func (o *OllamaBackend) generate(ctx context.Context, prompt string) (*ollamaResponse, error) {
	reqBody := ollamaRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: 0,
			NumPredict:  o.maxTokens,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, newError(o.backend, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, newError(o.backend, resp.StatusCode, fmt.Errorf("ollama: %s", strings.TrimSpace(string(bodyBytes))))
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, newError(o.backend, 0, fmt.Errorf("failed to decode response: %w", err))
	}

	return &ollamaResp, nil
}
