package caravan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Selector produces an ordered agent selection for a query.
type Selector interface {
	// Select returns agent IDs, ordered by relevance. The slice is non-empty
	// on success; failures are *ExpertSelectionError.
	Select(ctx context.Context, query string) ([]string, error)
	// Strategy returns the strategy name recorded in traces.
	Strategy() string
}

// SemanticSelector scores experts by cosine similarity between the query
// embedding and precomputed expert-description embeddings.
type SemanticSelector struct {
	pool  *Pool
	cache *EmbeddingCache
	cfg   Config

	// vectors maps expert ID to its description embedding, computed once in
	// NewSemanticSelector and never mutated.
	vectors map[string][]float32
}

// NewSemanticSelector embeds all expert descriptions in a single upstream
// batch and validates the result. A short batch or bad dimensions fail loudly
// with *ExpertSelectionError so the caller can choose capability-only mode.
func NewSemanticSelector(ctx context.Context, pool *Pool, cache *EmbeddingCache, cfg Config) (*SemanticSelector, error) {
	if pool.Len() == 0 {
		return nil, &ExpertSelectionError{Kind: ErrKindSelectorEmpty, Err: errors.New("empty expert pool")}
	}

	descriptions := make([]string, pool.Len())
	for i, e := range pool.Experts() {
		descriptions[i] = e.Description()
	}

	vecs, err := cache.Embed(ctx, descriptions)
	if err != nil {
		return nil, &ExpertSelectionError{Kind: ErrKindEmbedding, Err: err}
	}
	if len(vecs) != pool.Len() {
		return nil, &ExpertSelectionError{Kind: ErrKindEmbedding,
			Err: fmt.Errorf("expected %d description vectors, got %d", pool.Len(), len(vecs))}
	}

	vectors := make(map[string][]float32, pool.Len())
	for i, e := range pool.Experts() {
		vectors[e.ID] = vecs[i]
	}

	return &SemanticSelector{pool: pool, cache: cache, cfg: cfg, vectors: vectors}, nil
}

// Strategy returns "semantic".
func (s *SemanticSelector) Strategy() string { return StrategySemantic }

// Select embeds the query (cache-backed), scores every expert, and runs the
// shared rank/gap/expand/pin pipeline.
func (s *SemanticSelector) Select(ctx context.Context, query string) ([]string, error) {
	q, err := s.cache.EmbedOne(ctx, query)
	if err != nil {
		return nil, &ExpertSelectionError{Kind: ErrKindEmbedding, Err: err}
	}

	scores := make([]ExpertScore, 0, s.pool.Len())
	for _, e := range s.pool.Experts() {
		sim := cosineSimilarity(q, s.vectors[e.ID])
		scores = append(scores, ExpertScore{
			ExpertID:   e.ID,
			Similarity: sim,
			Weighted:   sim * e.Weight,
		})
	}

	agents := rankAndExpand(scores, s.pool, s.cfg.ConfidenceThreshold, s.cfg.SemanticGapThreshold, s.cfg.TopKExperts)
	agents = pinIntents(query, agents, s.pool, s.cfg)
	if len(agents) == 0 {
		return nil, &ExpertSelectionError{Kind: ErrKindSelectorEmpty, Err: errors.New("no agents selected")}
	}
	return agents, nil
}

// rankAndExpand applies the shared selection pipeline: confidence filter,
// deterministic sort, relevance-gap cutoff, expansion to agent IDs.
//
// The confidence threshold is advisory: when every expert falls below it the
// single top-scoring expert is kept so a selection is never empty.
func rankAndExpand(scores []ExpertScore, pool *Pool, confidence, gap float64, topK int) []string {
	sorted := make([]ExpertScore, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Weighted != sorted[j].Weighted {
			return sorted[i].Weighted > sorted[j].Weighted
		}
		return sorted[i].ExpertID < sorted[j].ExpertID
	})

	kept := sorted[:0:0]
	for _, s := range sorted {
		if s.Weighted >= confidence {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 && len(sorted) > 0 {
		kept = sorted[:1]
	}
	if len(kept) == 0 {
		return nil
	}

	// Relevance-gap cutoff: always keep the top expert, then walk down while
	// consecutive score drops stay within the gap threshold.
	cut := []ExpertScore{kept[0]}
	for i := 1; i < len(kept) && len(cut) < topK; i++ {
		if kept[i-1].Weighted-kept[i].Weighted > gap {
			break
		}
		cut = append(cut, kept[i])
	}

	// Expand experts to agents, first occurrence wins, truncated to topK.
	var agents []string
	seen := make(map[string]struct{})
	for _, s := range cut {
		e, ok := pool.Get(s.ExpertID)
		if !ok {
			continue
		}
		for _, a := range e.Agents {
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			agents = append(agents, a)
			if len(agents) == topK {
				return agents
			}
		}
	}
	return agents
}

// pinIntents applies the map and business pinning rules: when the query
// carries the intent and the designated agent exists in the pool but missed
// the truncated selection, it replaces the last selected agent.
func pinIntents(query string, agents []string, pool *Pool, cfg Config) []string {
	if len(agents) == 0 {
		return agents
	}
	agents = pinAgent(query, agents, pool, cfg.MapIntentTerms, cfg.MapAgentID)
	agents = pinAgent(query, agents, pool, cfg.BusinessIntentTerms, cfg.BusinessAgentID)
	return agents
}

func pinAgent(query string, agents []string, pool *Pool, terms []string, agentID string) []string {
	if agentID == "" || !pool.HasAgent(agentID) || !matchesIntent(query, terms) {
		return agents
	}
	for _, a := range agents {
		if a == agentID {
			return agents
		}
	}
	out := make([]string, len(agents))
	copy(out, agents)
	out[len(out)-1] = agentID
	return out
}

// matchesIntent reports whether the normalized query contains any vocabulary
// term: single-word terms match tokens exactly, multi-word terms match as
// substrings of the normalized text.
func matchesIntent(query string, terms []string) bool {
	normalized := strings.Join(tokenize(query), " ")
	if normalized == "" {
		return false
	}
	tokens := make(map[string]struct{})
	for _, t := range strings.Fields(normalized) {
		tokens[t] = struct{}{}
	}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.Contains(term, " ") {
			if strings.Contains(normalized, term) {
				return true
			}
			continue
		}
		if _, ok := tokens[term]; ok {
			return true
		}
	}
	return false
}

// tokenize lowercases, strips punctuation, and splits on whitespace.
func tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return ' '
		}
	}, text)
	return strings.Fields(cleaned)
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or empty vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// compile-time check
var _ Selector = (*SemanticSelector)(nil)
