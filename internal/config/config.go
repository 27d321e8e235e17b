package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cammy/sanctuary/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config holds all Sanctuary configuration
type Config struct {
	Classifier ClassifierConfig `yaml:"classifier"`
	Backends   BackendsConfig   `yaml:"backends"`
	Learner    LearnerConfig    `yaml:"learner"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Log        LogConfig        `yaml:"log"`
}

// ClassifierConfig configures the model fallback used when no pattern matches
type ClassifierConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Timeout       string   `yaml:"timeout"`
	QuotaCooldown string   `yaml:"quota_cooldown"`
	MaxTokens     int      `yaml:"max_tokens"`
	Order         []string `yaml:"order"`
}

// BackendsConfig configures all text-generation backends
type BackendsConfig struct {
	Gemini GeminiConfig `yaml:"gemini"`
	Claude ClaudeConfig `yaml:"claude"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Ollama OllamaConfig `yaml:"ollama"`
}

// GeminiConfig configures the Gemini backend
type GeminiConfig struct {
	Enabled bool              `yaml:"enabled"`
	APIKey  string            `yaml:"api_key,omitempty"`
	Models  map[string]string `yaml:"models"`
}

// ClaudeConfig configures the Claude backend
type ClaudeConfig struct {
	Enabled bool              `yaml:"enabled"`
	APIKey  string            `yaml:"api_key,omitempty"`
	Models  map[string]string `yaml:"models"`
}

// OpenAIConfig configures the OpenAI backend
type OpenAIConfig struct {
	Enabled bool              `yaml:"enabled"`
	APIKey  string            `yaml:"api_key,omitempty"`
	Models  map[string]string `yaml:"models"`
}

// OllamaConfig configures the Ollama backend
type OllamaConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Endpoint string            `yaml:"endpoint"`
	Models   map[string]string `yaml:"models"`
}

// LearnerConfig configures outcome learning and session history
type LearnerConfig struct {
	SaveEvery    int `yaml:"save_every"`
	HistoryLimit int `yaml:"history_limit"`
	// Templates overrides the worker sequence per category
	Templates map[string][]string `yaml:"templates,omitempty"`
}

// LedgerConfig configures the SQLite ledger. A relative path is resolved
// against the data directory.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Classifier: ClassifierConfig{
			Enabled:       true,
			Timeout:       "10s",
			QuotaCooldown: "5m",
			MaxTokens:     64,
			Order: []string{
				string(types.BackendGeminiFlash),
				string(types.BackendClaudeHaiku),
				string(types.BackendOpenAIMini),
				string(types.BackendOllama),
			},
		},
		Backends: BackendsConfig{
			Gemini: GeminiConfig{
				Enabled: true,
				Models: map[string]string{
					"flash": "gemini-2.5-flash",
					"pro":   "gemini-2.5-pro",
				},
			},
			Claude: ClaudeConfig{
				Enabled: true,
				Models: map[string]string{
					"haiku": "claude-haiku-4-5",
				},
			},
			OpenAI: OpenAIConfig{
				Enabled: true,
				Models: map[string]string{
					"mini": "gpt-4o-mini",
				},
			},
			Ollama: OllamaConfig{
				Enabled:  false,
				Endpoint: "http://localhost:11434",
				Models: map[string]string{
					"default": "llama3.2",
				},
			},
		},
		Learner: LearnerConfig{
			SaveEvery:    10,
			HistoryLimit: 10,
		},
		Ledger: LedgerConfig{
			Path: "ledger.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a YAML file over the defaults and applies
// environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to the defaults
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		cfg.ApplyEnv()
		return cfg, nil
	}
	return cfg, err
}

// ApplyEnv fills API keys and the Ollama endpoint from the environment.
// Values already set in the file win.
func (c *Config) ApplyEnv() {
	if c.Backends.Gemini.APIKey == "" {
		c.Backends.Gemini.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
	}
	if c.Backends.Claude.APIKey == "" {
		c.Backends.Claude.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Backends.OpenAI.APIKey == "" {
		c.Backends.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Backends.Ollama.Endpoint = host
	}
}

// Validate checks durations and worker templates
func (c *Config) Validate() error {
	if _, err := parseDuration(c.Classifier.Timeout); err != nil {
		return fmt.Errorf("invalid classifier.timeout: %w", err)
	}
	if _, err := parseDuration(c.Classifier.QuotaCooldown); err != nil {
		return fmt.Errorf("invalid classifier.quota_cooldown: %w", err)
	}
	if _, err := c.WorkerTemplates(); err != nil {
		return err
	}
	return nil
}

// ClassifierTimeout returns the parsed classifier timeout, or zero to use
// the classifier default
func (c *Config) ClassifierTimeout() time.Duration {
	d, _ := parseDuration(c.Classifier.Timeout)
	return d
}

// QuotaCooldown returns the parsed quota cooldown, or zero for the default
func (c *Config) QuotaCooldown() time.Duration {
	d, _ := parseDuration(c.Classifier.QuotaCooldown)
	return d
}

// LedgerPath resolves the ledger location for a data directory
func (c *Config) LedgerPath(dataDir string) string {
	if c.Ledger.Path == "" {
		return filepath.Join(dataDir, "ledger.db")
	}
	if filepath.IsAbs(c.Ledger.Path) {
		return c.Ledger.Path
	}
	return filepath.Join(dataDir, c.Ledger.Path)
}

// WorkerTemplates converts the template overrides into typed worker lists.
// A nil result means no overrides.
func (c *Config) WorkerTemplates() (map[types.Category][]types.Worker, error) {
	if len(c.Learner.Templates) == 0 {
		return nil, nil
	}

	out := make(map[types.Category][]types.Worker, len(c.Learner.Templates))
	for name, workers := range c.Learner.Templates {
		cat, ok := types.ParseCategory(name)
		if !ok {
			return nil, fmt.Errorf("learner.templates: unknown category %q", name)
		}
		seq := make([]types.Worker, 0, len(workers))
		for _, w := range workers {
			if !types.IsKnownWorker(types.Worker(w)) {
				return nil, fmt.Errorf("learner.templates.%s: unknown worker %q", name, w)
			}
			seq = append(seq, types.Worker(w))
		}
		out[cat] = seq
	}
	return out, nil
}

// WriteDefault writes the default configuration to a file
func WriteDefault(path string) error {
	cfg := Default()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Sanctuary Configuration
# Request classifier and resource estimator
#
# Requests are matched against built-in patterns first. Unmatched requests
# go to the classifier backends in "order"; a failure or timeout falls back
# to simple_query.
#
# API keys are read from GEMINI_API_KEY (or GOOGLE_API_KEY),
# ANTHROPIC_API_KEY and OPENAI_API_KEY when not set here.

`)

	return os.WriteFile(path, append(header, data...), 0600)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
