package caravan

import "context"

// Provider abstracts the LLM backend used for answer synthesis.
type Provider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "gemini", "openai").
	Name() string
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// AgentInvoker invokes a concrete agent by ID. Implementations must be
// cancellation-aware: when ctx is done the call should return promptly with
// ctx.Err(). sessionID is an opaque pass-through and may be empty.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentID, query, sessionID string) (string, error)
}

// TraceSink receives each sealed per-request trace. Sink errors never affect
// the request outcome; the orchestrator logs and drops them.
type TraceSink interface {
	Record(ctx context.Context, t Trace) error
}
