package backends

import (
	"context"
	"fmt"
	"strings"

	"github.com/cammy/sanctuary/internal/config"
	"github.com/cammy/sanctuary/pkg/types"
	"go.uber.org/zap"
)

// FromConfig builds a pool with one backend per entry in classifier.order.
// Entries whose provider is disabled or lacks credentials are skipped;
// malformed or unknown entries are an error.
func FromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool := NewPool(cfg.QuotaCooldown(), logger)
	b := &cfg.Backends
	maxTokens := cfg.Classifier.MaxTokens

	for _, entry := range cfg.Classifier.Order {
		provider, variant, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid backend %q, want provider:variant", entry)
		}
		id := types.Backend(entry)

		var (
			backend Backend
			reason  string
			err     error
		)

		switch provider {
		case "gemini":
			var model string
			if model, reason, err = resolve(entry, b.Gemini.Enabled, b.Gemini.APIKey, true, b.Gemini.Models, variant); reason == "" && err == nil {
				backend, err = NewGeminiBackend(ctx, GeminiConfig{APIKey: b.Gemini.APIKey, Model: model, Backend: id, MaxTokens: maxTokens})
			}
		case "claude":
			var model string
			if model, reason, err = resolve(entry, b.Claude.Enabled, b.Claude.APIKey, true, b.Claude.Models, variant); reason == "" && err == nil {
				backend, err = NewClaudeBackend(ClaudeConfig{APIKey: b.Claude.APIKey, Model: model, Backend: id, MaxTokens: maxTokens})
			}
		case "openai":
			var model string
			if model, reason, err = resolve(entry, b.OpenAI.Enabled, b.OpenAI.APIKey, true, b.OpenAI.Models, variant); reason == "" && err == nil {
				backend, err = NewOpenAIBackend(OpenAIConfig{APIKey: b.OpenAI.APIKey, Model: model, Backend: id, MaxTokens: maxTokens})
			}
		case "ollama":
			var model string
			if model, reason, err = resolve(entry, b.Ollama.Enabled, "", false, b.Ollama.Models, variant); reason == "" && err == nil {
				backend = NewOllamaBackend(OllamaConfig{Endpoint: b.Ollama.Endpoint, Model: model, Backend: id, MaxTokens: maxTokens})
			}
		default:
			err = fmt.Errorf("unknown backend provider %q in %q", provider, entry)
		}

		if err != nil {
			return nil, err
		}
		if reason != "" {
			logger.Debug("classifier backend skipped", zap.String("backend", entry), zap.String("reason", reason))
			continue
		}
		pool.Add(backend)
	}

	return pool, nil
}

// resolve looks up the model for a provider variant. A non-empty reason
// means the entry should be skipped.
func resolve(entry string, enabled bool, apiKey string, needsKey bool, models map[string]string, variant string) (string, string, error) {
	if !enabled {
		return "", "disabled", nil
	}
	model, ok := models[variant]
	if !ok || model == "" {
		return "", "", fmt.Errorf("backend %q has no model configured", entry)
	}
	if needsKey && apiKey == "" {
		return "", "no api key", nil
	}
	return model, "", nil
}
