// Package resolve constructs providers from provider-agnostic configuration,
// so wiring code can switch backends with a config string.
package resolve

import (
	"fmt"

	caravan "github.com/nevindra/caravan"
	"github.com/nevindra/caravan/provider/gemini"
	"github.com/nevindra/caravan/provider/openaicompat"
)

// ChatConfig holds provider-agnostic configuration for creating a Provider.
type ChatConfig struct {
	// Provider selects the backend: "gemini", "openai", or any name for an
	// OpenAI-compatible API (requires BaseURL).
	Provider string
	Model    string
	APIKey   string
	// BaseURL is required for OpenAI-compatible backends other than OpenAI
	// itself (e.g. "https://api.groq.com/openai/v1").
	BaseURL string
}

// EmbeddingConfig holds provider-agnostic configuration for creating an
// EmbeddingProvider.
type EmbeddingConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

const openAIBaseURL = "https://api.openai.com/v1"

// Chat creates a caravan.Provider from a ChatConfig.
func Chat(cfg ChatConfig) (caravan.Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, fmt.Errorf("resolve: chat provider not set")
	case "gemini":
		return gemini.New(cfg.APIKey, cfg.Model), nil
	default:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			if cfg.Provider != "openai" {
				return nil, fmt.Errorf("resolve: provider %q requires base_url", cfg.Provider)
			}
			baseURL = openAIBaseURL
		}
		return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL,
			openaicompat.WithName(cfg.Provider)), nil
	}
}

// Embedding creates a caravan.EmbeddingProvider from an EmbeddingConfig.
func Embedding(cfg EmbeddingConfig) (caravan.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "":
		return nil, fmt.Errorf("resolve: embedding provider not set")
	case "gemini":
		return gemini.NewEmbedding(cfg.APIKey, cfg.Model, cfg.Dimensions), nil
	default:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			if cfg.Provider != "openai" {
				return nil, fmt.Errorf("resolve: provider %q requires base_url", cfg.Provider)
			}
			baseURL = openAIBaseURL
		}
		return openaicompat.NewEmbedding(cfg.APIKey, cfg.Model, baseURL, cfg.Dimensions,
			openaicompat.WithName(cfg.Provider)), nil
	}
}
