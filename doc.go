// Package caravan is a query-routing and multi-expert execution engine for
// language-model agents.
//
// Given a free-form natural-language query, the engine selects a small,
// dynamically-sized subset of specialist experts from a configured pool, runs
// them concurrently under time and failure budgets, and synthesizes their
// outputs into one coherent response. Structured payloads carried in expert
// outputs (fenced ```json blocks such as interactive maps) survive synthesis
// verbatim.
//
// # Quick Start
//
// Build an orchestrator by composing implementations of the collaborator
// interfaces:
//
//	pool, _ := caravan.NewPool(experts)
//	orc, err := caravan.New(ctx, pool, invoker,
//		caravan.WithEmbedding(openaicompat.NewEmbedding(apiKey, model, baseURL, 1536)),
//		caravan.WithSynthesis(openaicompat.NewProvider(apiKey, chatModel, baseURL)),
//	)
//	text, trace := orc.Handle(ctx, "What is the price of TSLA?", "")
//
// # Core Interfaces
//
// The root package defines the contracts all collaborators implement:
//
//   - [AgentInvoker] — invokes a concrete agent by ID
//   - [EmbeddingProvider] — text-to-vector embedding
//   - [Provider] — LLM backend used for answer synthesis
//   - [TraceSink] — receives the sealed per-request trace
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI-compatible APIs), provider/gemini
// (Google Gemini). Agents: the agents package (LLM-backed experts, web page
// reader, map renderer). Trace archives: store/sqlite, store/postgres.
// Observability: the observer package (OpenTelemetry).
//
// See cmd/caravan for a complete reference binary.
package caravan
