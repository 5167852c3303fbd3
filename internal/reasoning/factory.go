package reasoning

import (
	"context"
	"fmt"
	"io"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/ollama"
)

// Providers accepted by New.
const (
	ProviderNone   = "none"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// DefaultOllamaURL is used when no base URL is configured for Ollama.
const DefaultOllamaURL = "http://localhost:11434"

// Config selects and configures a backend.
type Config struct {
	Provider   string
	BaseURL    string
	APIKey     string
	MaxRetries int
}

// New builds the configured backend wrapped in the retry policy. Provider
// "none" (or empty) returns a nil Client, which disables the agent path.
func New(ctx context.Context, cfg Config) (Client, error) {
	var c Client
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderOllama:
		c = NewOllama(ollama.New(ollamaURL(cfg)))
	case ProviderGemini:
		g, err := NewGemini(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		c = g
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: API key is required")
		}
		c = NewOpenAI(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Referer: "https://github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation",
			Title:   "sif",
		})
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q (want ollama, gemini, openai or none)", cfg.Provider)
	}
	return WithRetry(c, cfg.MaxRetries), nil
}

// EnsureReady verifies the provider can serve model before the server starts
// accepting events. For Ollama it pulls and warms the model; remote
// providers only need credentials.
func EnsureReady(ctx context.Context, cfg Config, model string, w io.Writer) error {
	switch cfg.Provider {
	case "", ProviderNone:
		fmt.Fprintln(w, "reasoning: disabled, rule engine only")
		return nil
	case ProviderOllama:
		return ollama.EnsureReady(ctx, ollama.New(ollamaURL(cfg)), model, w)
	case ProviderGemini, ProviderOpenAI:
		if cfg.APIKey == "" {
			return fmt.Errorf("%s: API key is required (set reasoning.api_key)", cfg.Provider)
		}
		fmt.Fprintf(w, "reasoning: %s model %s\n", cfg.Provider, model)
		return nil
	default:
		return fmt.Errorf("unknown reasoning provider %q", cfg.Provider)
	}
}

func ollamaURL(cfg Config) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return DefaultOllamaURL
}
