// Package config loads the Caravan TOML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	caravan "github.com/nevindra/caravan"
)

// Config is the full TOML configuration surface.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Experts   []ExpertConfig  `toml:"experts"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Observer  ObserverConfig  `toml:"observer"`
	Archive   ArchiveConfig   `toml:"archive"`
}

// EngineConfig mirrors the engine tunables.
type EngineConfig struct {
	SelectionStrategy      string  `toml:"selection_strategy"`
	TopKExperts            int     `toml:"top_k_experts"`
	ConfidenceThreshold    float64 `toml:"confidence_threshold"`
	SemanticGapThreshold   float64 `toml:"semantic_gap_threshold"`
	CapabilityGapThreshold float64 `toml:"capability_gap_threshold"`

	MaxParallelism      int     `toml:"max_parallelism"`
	PerExpertTimeoutSec float64 `toml:"per_expert_timeout_sec"`
	SynthesisTimeoutSec float64 `toml:"synthesis_timeout_sec"`
	FallbackTimeoutSec  float64 `toml:"fallback_timeout_sec"`

	FastPathEnabled    bool    `toml:"fast_path_enabled"`
	FastPathThreshold  float64 `toml:"fast_path_threshold"`
	FastPathTimeoutSec float64 `toml:"fast_path_timeout_sec"`
	BypassAgentID      string  `toml:"bypass_agent_id"`

	FallbackAgentID string `toml:"fallback_agent_id"`
	FallbackMessage string `toml:"fallback_message"`

	EmbeddingCacheSize int `toml:"embedding_cache_size"`

	MapAgentID          string   `toml:"map_agent_id"`
	BusinessAgentID     string   `toml:"business_agent_id"`
	MapIntentTerms      []string `toml:"map_intent_terms"`
	BusinessIntentTerms []string `toml:"business_intent_terms"`
	StopWords           []string `toml:"stop_words"`

	AutoInjectMap             bool `toml:"auto_inject_map"`
	DegradeOnSynthesisFailure bool `toml:"degrade_on_synthesis_failure"`
}

// ExpertConfig is one [[experts]] entry.
type ExpertConfig struct {
	ID           string   `toml:"id"`
	Agents       []string `toml:"agents"`
	Capabilities []string `toml:"capabilities"`
	Weight       float64  `toml:"weight"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	Dimensions int    `toml:"dimensions"`
}

type RateLimitConfig struct {
	RPM int `toml:"rpm"`
	TPM int `toml:"tpm"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// ArchiveConfig selects the trace archive backend.
type ArchiveConfig struct {
	// Driver is "none", "sqlite", or "postgres".
	Driver string `toml:"driver"`
	// Path is the SQLite file path.
	Path string `toml:"path"`
	// DSN is the Postgres connection string.
	DSN string `toml:"dsn"`
}

// Default returns a Config with all defaults applied and a minimal expert
// pool that works with the built-in agents.
func Default() Config {
	e := caravan.DefaultConfig()
	return Config{
		Engine: EngineConfig{
			SelectionStrategy:      e.SelectionStrategy,
			TopKExperts:            e.TopKExperts,
			ConfidenceThreshold:    e.ConfidenceThreshold,
			SemanticGapThreshold:   e.SemanticGapThreshold,
			CapabilityGapThreshold: e.CapabilityGapThreshold,
			MaxParallelism:         e.MaxParallelism,
			PerExpertTimeoutSec:    e.PerExpertTimeout.Seconds(),
			SynthesisTimeoutSec:    e.SynthesisTimeout.Seconds(),
			FallbackTimeoutSec:     e.FallbackTimeout.Seconds(),
			FastPathEnabled:        e.FastPathEnabled,
			FastPathThreshold:      e.FastPathThreshold,
			FastPathTimeoutSec:     e.FastPathTimeout.Seconds(),
			BypassAgentID:          e.BypassAgentID,
			FallbackAgentID:        e.FallbackAgentID,
			FallbackMessage:        e.FallbackMessage,
			EmbeddingCacheSize:     e.EmbeddingCacheSize,
			MapAgentID:             e.MapAgentID,
			BusinessAgentID:        e.BusinessAgentID,
			MapIntentTerms:         e.MapIntentTerms,
			BusinessIntentTerms:    e.BusinessIntentTerms,
			StopWords:              e.StopWords,
			AutoInjectMap:          e.AutoInjectMap,
			DegradeOnSynthesisFailure: e.DegradeOnSynthesisFailure,
		},
		Experts: []ExpertConfig{
			{ID: "chitchat", Agents: []string{"chitchat"},
				Capabilities: []string{"greetings", "small talk", "farewells", "thanks"}},
			{ID: "one", Agents: []string{"one"},
				Capabilities: []string{"general knowledge", "anything"}},
			{ID: "finance", Agents: []string{"finance"},
				Capabilities: []string{"stock prices", "ticker", "market data", "finance"}},
			{ID: "business", Agents: []string{"business"},
				Capabilities: []string{"restaurants", "business lookup", "reviews", "places"}},
			{ID: "map", Agents: []string{"map"},
				Capabilities: []string{"maps", "directions", "locations", "geography"}},
			{ID: "web", Agents: []string{"web"},
				Capabilities: []string{"web pages", "articles", "url", "reading"}},
		},
		LLM:       LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash"},
		Embedding: EmbeddingConfig{Provider: "gemini", Model: "gemini-embedding-001", Dimensions: 1536},
		Archive:   ArchiveConfig{Driver: "none", Path: "caravan.db"},
	}
}

// Load reads path (when non-empty) over Default and applies environment
// overrides (CARAVAN_LLM_API_KEY, CARAVAN_EMBEDDING_API_KEY).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if key := os.Getenv("CARAVAN_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("CARAVAN_EMBEDDING_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	return cfg, nil
}

// EngineConfig converts the TOML engine section into the engine's Config.
func (c Config) EngineConfig() caravan.Config {
	e := c.Engine
	return caravan.Config{
		SelectionStrategy:      e.SelectionStrategy,
		TopKExperts:            e.TopKExperts,
		ConfidenceThreshold:    e.ConfidenceThreshold,
		SemanticGapThreshold:   e.SemanticGapThreshold,
		CapabilityGapThreshold: e.CapabilityGapThreshold,
		MaxParallelism:         e.MaxParallelism,
		PerExpertTimeout:       secs(e.PerExpertTimeoutSec),
		SynthesisTimeout:       secs(e.SynthesisTimeoutSec),
		FallbackTimeout:        secs(e.FallbackTimeoutSec),
		FastPathEnabled:        e.FastPathEnabled,
		FastPathThreshold:      e.FastPathThreshold,
		FastPathTimeout:        secs(e.FastPathTimeoutSec),
		BypassAgentID:          e.BypassAgentID,
		FallbackAgentID:        e.FallbackAgentID,
		FallbackMessage:        e.FallbackMessage,
		EmbeddingCacheSize:     e.EmbeddingCacheSize,
		MapAgentID:             e.MapAgentID,
		BusinessAgentID:        e.BusinessAgentID,
		MapIntentTerms:         e.MapIntentTerms,
		BusinessIntentTerms:    e.BusinessIntentTerms,
		StopWords:              e.StopWords,
		AutoInjectMap:          e.AutoInjectMap,
		DegradeOnSynthesisFailure: e.DegradeOnSynthesisFailure,
	}
}

// Pool converts the [[experts]] entries into pool experts.
func (c Config) Pool() ([]caravan.Expert, error) {
	if len(c.Experts) == 0 {
		return nil, fmt.Errorf("config: no experts configured")
	}
	out := make([]caravan.Expert, len(c.Experts))
	for i, e := range c.Experts {
		out[i] = caravan.Expert{
			ID:           e.ID,
			Agents:       e.Agents,
			Capabilities: e.Capabilities,
			Weight:       e.Weight,
		}
	}
	return out, nil
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
