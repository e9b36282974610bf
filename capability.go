package caravan

import (
	"context"
	"errors"
	"strings"
)

// CapabilitySelector scores experts by keyword overlap between query tokens
// and capability phrases. Fully deterministic, no network: it serves as the
// permanent strategy when no embedding provider is configured and as the
// fall-open target when the semantic selector fails.
type CapabilitySelector struct {
	pool *Pool
	cfg  Config

	// capTokens holds every token appearing verbatim in any capability
	// list; such tokens survive stop-word removal (location names and
	// intent verbs would otherwise be discarded).
	capTokens map[string]struct{}
	stopWords map[string]struct{}
}

// NewCapabilitySelector indexes the pool's capability vocabulary.
func NewCapabilitySelector(pool *Pool, cfg Config) (*CapabilitySelector, error) {
	if pool.Len() == 0 {
		return nil, &ExpertSelectionError{Kind: ErrKindSelectorEmpty, Err: errors.New("empty expert pool")}
	}

	capTokens := make(map[string]struct{})
	for _, e := range pool.Experts() {
		for _, phrase := range e.Capabilities {
			for _, tok := range tokenize(phrase) {
				capTokens[tok] = struct{}{}
			}
		}
	}
	stopWords := make(map[string]struct{}, len(cfg.StopWords))
	for _, w := range cfg.StopWords {
		stopWords[strings.ToLower(w)] = struct{}{}
	}

	return &CapabilitySelector{pool: pool, cfg: cfg, capTokens: capTokens, stopWords: stopWords}, nil
}

// Strategy returns "capability".
func (s *CapabilitySelector) Strategy() string { return StrategyCapability }

// Select tokenizes the query and runs the shared rank/gap/expand/pin pipeline
// over integer match scores.
func (s *CapabilitySelector) Select(_ context.Context, query string) ([]string, error) {
	tokens := s.queryTokens(query)

	scores := make([]ExpertScore, 0, s.pool.Len())
	for _, e := range s.pool.Experts() {
		matches := matchCount(tokens, e.Capabilities)
		scores = append(scores, ExpertScore{
			ExpertID:   e.ID,
			Similarity: float64(matches),
			Weighted:   float64(matches) * e.Weight,
		})
	}

	agents := rankAndExpand(scores, s.pool, s.cfg.ConfidenceThreshold, s.cfg.CapabilityGapThreshold, s.cfg.TopKExperts)
	agents = pinIntents(query, agents, s.pool, s.cfg)
	if len(agents) == 0 {
		return nil, &ExpertSelectionError{Kind: ErrKindSelectorEmpty, Err: errors.New("no agents selected")}
	}
	return agents, nil
}

// queryTokens tokenizes and removes stop words, keeping any token that
// appears verbatim in some expert's capability list.
func (s *CapabilitySelector) queryTokens(query string) []string {
	var out []string
	for _, tok := range tokenize(query) {
		if _, stop := s.stopWords[tok]; stop {
			if _, keep := s.capTokens[tok]; !keep {
				continue
			}
		}
		out = append(out, tok)
	}
	return out
}

// matchCount sums match indicators over (token, capability) pairs: 1 for
// exact equality, 1 for a bidirectional substring match after lowercasing.
func matchCount(tokens []string, capabilities []string) int {
	total := 0
	for _, tok := range tokens {
		for _, phrase := range capabilities {
			c := strings.ToLower(phrase)
			if tok == c || strings.Contains(c, tok) || strings.Contains(tok, c) {
				total++
			}
		}
	}
	return total
}

// compile-time check
var _ Selector = (*CapabilitySelector)(nil)
