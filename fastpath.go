package caravan

import (
	"context"
	"log/slog"
	"regexp"
	"time"
)

// greetingPatterns is the lexical fallback for chitchat detection: a small,
// explicit set of greeting/farewell/thanks shapes matched against the whole
// trimmed query.
var greetingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(hi|hii+|hey|heya|hello|howdy|yo|sup)\s*[!.?]*\s*$`),
	regexp.MustCompile(`(?i)^\s*(good\s+(morning|afternoon|evening|night))\s*[!.?]*\s*$`),
	regexp.MustCompile(`(?i)^\s*(how\s+are\s+you|how'?s\s+it\s+going|what'?s\s+up)\s*[!.?]*\s*$`),
	regexp.MustCompile(`(?i)^\s*(thanks|thank\s+you|thx|ty)\s*[!.?]*\s*$`),
	regexp.MustCompile(`(?i)^\s*(bye|goodbye|good\s*bye|see\s+you|later|cya)\s*[!.?]*\s*$`),
}

// FastPath decides whether a query should bypass the full pipeline and go
// straight to a lightweight chitchat agent.
//
// It tries an embedding strategy first — cosine similarity against a
// precomputed chitchat description vector — and falls back to the lexical
// patterns when no embedding provider is available or the embedding call
// fails. Any internal failure means no bypass, never an error to the caller.
type FastPath struct {
	cache     *EmbeddingCache // nil when no embedding provider is configured
	threshold float64
	timeout   time.Duration
	logger    *slog.Logger

	// chitchatVec is the embedding of the bypass expert's description,
	// computed once at startup. nil disables the embedding strategy.
	chitchatVec []float32
}

// NewFastPath builds the detector. When cache is non-nil the bypass expert's
// description (from the pool entry matching bypassAgentID, if any) is embedded
// once so per-query checks only embed the query itself.
func NewFastPath(ctx context.Context, pool *Pool, cache *EmbeddingCache, cfg Config, logger *slog.Logger) *FastPath {
	fp := &FastPath{
		cache:     cache,
		threshold: cfg.FastPathThreshold,
		timeout:   cfg.FastPathTimeout,
		logger:    logger,
	}
	if cache == nil {
		return fp
	}
	expert, ok := pool.ExpertForAgent(cfg.BypassAgentID)
	if !ok {
		return fp
	}
	vec, err := cache.EmbedOne(ctx, expert.Description())
	if err != nil {
		if logger != nil {
			logger.Warn("fast path: chitchat embedding unavailable, using lexical fallback", "error", err)
		}
		return fp
	}
	fp.chitchatVec = vec
	return fp
}

// Bypass reports whether the query should skip selection and execution.
func (f *FastPath) Bypass(ctx context.Context, query string) bool {
	if f.chitchatVec != nil {
		ok, err := f.bypassByEmbedding(ctx, query)
		if err == nil {
			return ok
		}
		if f.logger != nil {
			f.logger.Debug("fast path: embedding check failed, using lexical fallback", "error", err)
		}
	}
	return f.bypassByPattern(query)
}

func (f *FastPath) bypassByEmbedding(ctx context.Context, query string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	q, err := f.cache.EmbedOne(ctx, query)
	if err != nil {
		return false, err
	}
	return cosineSimilarity(q, f.chitchatVec) >= f.threshold, nil
}

func (f *FastPath) bypassByPattern(query string) bool {
	for _, p := range greetingPatterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}
