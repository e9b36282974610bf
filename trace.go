package caravan

import "time"

// Path identifies which branch of the pipeline produced the response.
type Path string

const (
	PathFastPath Path = "fast_path"
	PathMoE      Path = "moe"
	PathFallback Path = "fallback"
)

// ExpertTrace is the per-agent slice of a request trace.
type ExpertTrace struct {
	AgentID   string       `json:"agent_id"`
	Status    ResultStatus `json:"status"`
	LatencyMS int64        `json:"latency_ms"`
	ErrorKind ErrorKind    `json:"error_kind,omitempty"`
}

// Trace is the immutable per-request observability record. It is built
// incrementally while the request runs and sealed at request exit, then
// handed to every configured TraceSink.
type Trace struct {
	RequestID string    `json:"request_id"`
	Query     string    `json:"query"`
	SessionID string    `json:"session_id,omitempty"`
	StartedAt time.Time `json:"started_at"`

	Path              Path          `json:"path"`
	Selected          []string      `json:"selected"`
	PerExpert         []ExpertTrace `json:"per_expert,omitempty"`
	SelectionStrategy string        `json:"selection_strategy,omitempty"`
	// FellOpen is true only when the semantic selector failed on this
	// request and the capability selector produced the selection instead.
	// It stays false on engines configured capability-only, so sinks can
	// tell a one-shot downgrade from normal capability operation.
	FellOpen bool `json:"fell_open,omitempty"`

	SynthesisUsed       bool  `json:"synthesis_used"`
	PreservedBlockCount int   `json:"preserved_block_count"`
	TotalLatencyMS      int64 `json:"total_latency_ms"`

	// Error is set iff the outcome was fallback_failed or cancelled.
	Error       ErrorKind `json:"error,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// expertTraces projects executor results onto trace slices.
func expertTraces(results []ExpertResult) []ExpertTrace {
	out := make([]ExpertTrace, len(results))
	for i, r := range results {
		out[i] = ExpertTrace{
			AgentID:   r.AgentID,
			Status:    r.Status,
			LatencyMS: r.LatencyMS,
			ErrorKind: r.ErrorKind,
		}
	}
	return out
}
