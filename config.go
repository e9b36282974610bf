package caravan

import "time"

// Config carries the engine tunables. Zero-valued numeric, string and slice
// fields are replaced by DefaultConfig values in New; boolean fields keep the
// value given, so a bare Config{} literal turns the boolean features off.
type Config struct {
	// SelectionStrategy picks the primary selector: "semantic" or "capability".
	SelectionStrategy string
	// TopKExperts bounds both the number of experts kept after the gap
	// cutoff and the number of agents returned.
	TopKExperts int
	// ConfidenceThreshold is the score floor applied before ranking.
	ConfidenceThreshold float64
	// SemanticGapThreshold is the relevance-gap cutoff for the semantic selector.
	SemanticGapThreshold float64
	// CapabilityGapThreshold is the relevance-gap cutoff for the capability selector.
	CapabilityGapThreshold float64

	MaxParallelism   int
	PerExpertTimeout time.Duration
	SynthesisTimeout time.Duration
	FallbackTimeout  time.Duration

	FastPathEnabled   bool
	FastPathThreshold float64
	FastPathTimeout   time.Duration
	BypassAgentID     string

	FallbackAgentID string
	FallbackMessage string

	EmbeddingCacheSize int

	// Intent pinning (§ selection step 7). Empty agent IDs disable a rule.
	MapAgentID          string
	BusinessAgentID     string
	MapIntentTerms      []string
	BusinessIntentTerms []string

	// StopWords removed during capability tokenization, except tokens that
	// appear verbatim in an expert capability list.
	StopWords []string

	// AutoInjectMap synthesizes a minimal interactive_map block when map
	// intent fired but no expert produced one.
	AutoInjectMap bool
	// DegradeOnSynthesisFailure concatenates raw outputs instead of falling
	// back when the synthesis LLM is unavailable.
	DegradeOnSynthesisFailure bool
}

// Strategy names for Config.SelectionStrategy and Trace.SelectionStrategy.
const (
	StrategySemantic   = "semantic"
	StrategyCapability = "capability"
)

// DefaultFallbackMessage is emitted verbatim when the fallback agent itself fails.
const DefaultFallbackMessage = "I'm sorry — I can't answer that right now. Please try again."

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SelectionStrategy:      StrategySemantic,
		TopKExperts:            3,
		ConfidenceThreshold:    0.5,
		SemanticGapThreshold:   0.15,
		CapabilityGapThreshold: 0.20,

		MaxParallelism:   3,
		PerExpertTimeout: 12 * time.Second,
		SynthesisTimeout: 20 * time.Second,
		FallbackTimeout:  20 * time.Second,

		FastPathEnabled:   true,
		FastPathThreshold: 0.75,
		FastPathTimeout:   2 * time.Second,
		BypassAgentID:     "chitchat",

		FallbackAgentID: "one",
		FallbackMessage: DefaultFallbackMessage,

		EmbeddingCacheSize: DefaultCacheSize,

		MapAgentID:          "map",
		BusinessAgentID:     "business",
		MapIntentTerms:      []string{"map", "show on", "on a map", "visualize", "directions"},
		BusinessIntentTerms: []string{"restaurant", "restaurants", "cafe", "shop", "store", "near me", "nearby", "open now"},

		StopWords: []string{
			"a", "an", "the", "is", "are", "was", "were", "be", "of", "to",
			"in", "on", "at", "for", "and", "or", "me", "my", "i", "you",
			"what", "which", "please", "can", "could", "do", "does",
		},

		AutoInjectMap:             true,
		DegradeOnSynthesisFailure: true,
	}
}

// looksUnconstructed reports whether cfg appears to be a bare struct literal
// rather than a DefaultConfig derivative: every boolean toggle is off and the
// fields DefaultConfig always populates are empty. New warns on such configs
// because withDefaults cannot restore boolean defaults.
func (c Config) looksUnconstructed() bool {
	return !c.FastPathEnabled && !c.AutoInjectMap && !c.DegradeOnSynthesisFailure &&
		c.FallbackMessage == "" && c.StopWords == nil && c.MapIntentTerms == nil
}

// withDefaults fills zero-valued fields from DefaultConfig. Booleans keep
// their explicit values; callers flip them directly on the struct.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SelectionStrategy == "" {
		c.SelectionStrategy = d.SelectionStrategy
	}
	if c.TopKExperts <= 0 {
		c.TopKExperts = d.TopKExperts
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.SemanticGapThreshold == 0 {
		c.SemanticGapThreshold = d.SemanticGapThreshold
	}
	if c.CapabilityGapThreshold == 0 {
		c.CapabilityGapThreshold = d.CapabilityGapThreshold
	}
	if c.MaxParallelism <= 0 {
		c.MaxParallelism = d.MaxParallelism
	}
	if c.PerExpertTimeout <= 0 {
		c.PerExpertTimeout = d.PerExpertTimeout
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = d.SynthesisTimeout
	}
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = d.FallbackTimeout
	}
	if c.FastPathThreshold == 0 {
		c.FastPathThreshold = d.FastPathThreshold
	}
	if c.FastPathTimeout <= 0 {
		c.FastPathTimeout = d.FastPathTimeout
	}
	if c.BypassAgentID == "" {
		c.BypassAgentID = d.BypassAgentID
	}
	if c.FallbackAgentID == "" {
		c.FallbackAgentID = d.FallbackAgentID
	}
	if c.FallbackMessage == "" {
		c.FallbackMessage = d.FallbackMessage
	}
	if c.EmbeddingCacheSize <= 0 {
		c.EmbeddingCacheSize = d.EmbeddingCacheSize
	}
	if c.MapIntentTerms == nil {
		c.MapIntentTerms = d.MapIntentTerms
	}
	if c.BusinessIntentTerms == nil {
		c.BusinessIntentTerms = d.BusinessIntentTerms
	}
	if c.StopWords == nil {
		c.StopWords = d.StopWords
	}
	return c
}
