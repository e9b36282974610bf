package caravan

import (
	"context"
	"log/slog"
	"time"
)

// Orchestrator drives the full request pipeline: fast-path check, expert
// selection, parallel execution, synthesis, and fallback. It is reentrant —
// concurrent Handle calls share the read-only pool, the precomputed expert
// vectors, and the embedding cache.
type Orchestrator struct {
	pool    *Pool
	invoker AgentInvoker
	cfg     Config
	logger  *slog.Logger

	cache      *EmbeddingCache     // nil without an embedding provider
	semantic   *SemanticSelector   // nil without an embedding provider
	capability *CapabilitySelector // always present
	fastPath   *FastPath
	executor   *Executor
	mixer      *Mixer
	sinks      []TraceSink
}

type orchestratorOptions struct {
	cfg       Config
	cfgSet    bool
	embedding EmbeddingProvider
	synthesis Provider
	sinks     []TraceSink
	logger    *slog.Logger
}

// Option configures New.
type Option func(*orchestratorOptions)

// WithConfig replaces the engine configuration. Always start from
// DefaultConfig and override fields: zero-valued numerics and nil slices are
// re-defaulted, but booleans are NOT — a bare Config{} literal silently
// turns off the fast path, map auto-injection, and synthesis degradation,
// all of which default to on. New logs a warning when the config looks like
// a bare literal.
func WithConfig(cfg Config) Option {
	return func(o *orchestratorOptions) { o.cfg = cfg; o.cfgSet = true }
}

// WithEmbedding sets the embedding provider, enabling the semantic selector
// and the embedding fast-path strategy. Without it the engine runs in
// capability-only mode.
func WithEmbedding(p EmbeddingProvider) Option {
	return func(o *orchestratorOptions) { o.embedding = p }
}

// WithSynthesis sets the LLM used by the mixer. Without it every multi-expert
// answer degrades to concatenation (or falls back, per config).
func WithSynthesis(p Provider) Option {
	return func(o *orchestratorOptions) { o.synthesis = p }
}

// WithTraceSink adds a sink that receives every sealed trace.
func WithTraceSink(s TraceSink) Option {
	return func(o *orchestratorOptions) { o.sinks = append(o.sinks, s) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// New builds an orchestrator over the expert pool and agent invoker.
//
// When an embedding provider is configured, all expert descriptions are
// embedded in one startup batch; a short or malformed batch fails loudly with
// *ExpertSelectionError so the caller can decide to rebuild without the
// provider and run capability-only.
func New(ctx context.Context, pool *Pool, invoker AgentInvoker, opts ...Option) (*Orchestrator, error) {
	var o orchestratorOptions
	o.cfg = DefaultConfig()
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg.withDefaults()
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	if o.cfgSet && o.cfg.looksUnconstructed() {
		logger.Warn("config does not look derived from DefaultConfig; " +
			"fast path, map auto-injection, and synthesis degradation are all off")
	}

	capability, err := NewCapabilitySelector(pool, cfg)
	if err != nil {
		return nil, err
	}

	orc := &Orchestrator{
		pool:       pool,
		invoker:    invoker,
		cfg:        cfg,
		logger:     logger,
		capability: capability,
		executor:   NewExecutor(invoker, cfg.PerExpertTimeout, cfg.MaxParallelism, logger),
		mixer:      NewMixer(o.synthesis, cfg, logger),
		sinks:      o.sinks,
	}

	if o.embedding != nil {
		orc.cache = NewEmbeddingCache(o.embedding, cfg.EmbeddingCacheSize)
		if cfg.SelectionStrategy == StrategySemantic {
			orc.semantic, err = NewSemanticSelector(ctx, pool, orc.cache, cfg)
			if err != nil {
				return nil, err
			}
		}
	} else if cfg.SelectionStrategy == StrategySemantic {
		logger.Warn("no embedding provider configured, running capability-only selection")
	}

	orc.fastPath = NewFastPath(ctx, pool, orc.cache, cfg, logger)

	if !pool.HasAgent(cfg.BypassAgentID) {
		logger.Warn("bypass agent not in expert pool", "agent_id", cfg.BypassAgentID)
	}
	if !pool.HasAgent(cfg.FallbackAgentID) {
		logger.Warn("fallback agent not in expert pool", "agent_id", cfg.FallbackAgentID)
	}

	return orc, nil
}

// CacheStats returns embedding cache counters, zero without a provider.
func (o *Orchestrator) CacheStats() CacheStats {
	if o.cache == nil {
		return CacheStats{}
	}
	return o.cache.Stats()
}

// Handle answers a query end to end and returns the response text with the
// sealed trace. It always produces exactly one terminal outcome: a
// synthesized answer, a fast-path answer, a fallback-agent answer, or the
// configured fallback message.
func (o *Orchestrator) Handle(ctx context.Context, query, sessionID string) (string, Trace) {
	start := time.Now()
	tr := Trace{
		RequestID: NewID(),
		Query:     query,
		SessionID: sessionID,
		StartedAt: start,
	}

	text := o.run(ctx, query, sessionID, &tr)

	tr.TotalLatencyMS = time.Since(start).Milliseconds()
	o.emit(tr)
	return text, tr
}

// run executes the pipeline against the mutable trace builder. The trace is
// sealed by Handle after run returns.
func (o *Orchestrator) run(ctx context.Context, query, sessionID string, tr *Trace) string {
	if ctx.Err() != nil {
		tr.Error = ErrKindCancelled
		return ""
	}

	// Fast path: bypass straight to the lightweight agent. A bypass agent
	// failure is recorded and the query continues through the full pipeline,
	// not to the fallback agent.
	if o.cfg.FastPathEnabled && o.fastPath.Bypass(ctx, query) {
		out, err := o.invokeDirect(ctx, o.cfg.BypassAgentID, query, sessionID, o.cfg.PerExpertTimeout)
		if err == nil {
			tr.Path = PathFastPath
			tr.Selected = []string{o.cfg.BypassAgentID}
			return out
		}
		if ctx.Err() != nil {
			tr.Error = ErrKindCancelled
			return ""
		}
		tr.PerExpert = append(tr.PerExpert, ExpertTrace{
			AgentID:   o.cfg.BypassAgentID,
			Status:    StatusError,
			ErrorKind: ErrKindExpertError,
		})
		o.logger.Warn("bypass agent failed, continuing with full pipeline",
			"agent_id", o.cfg.BypassAgentID, "error", err)
	}

	// Selection, with one-shot fall-open from semantic to capability. The
	// downgrade is per-request: the next request tries semantic again.
	agents, strategy, fellOpen, err := o.selectAgents(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			tr.Error = ErrKindCancelled
			return ""
		}
		o.logger.Warn("all selectors failed, using fallback agent", "error", err)
		return o.fallback(ctx, query, sessionID, tr)
	}
	tr.Path = PathMoE
	tr.Selected = agents
	tr.SelectionStrategy = strategy
	tr.FellOpen = fellOpen

	// Execution: failures are materialized per agent, never raised.
	results, err := o.executor.Execute(ctx, agents, query, sessionID)
	if err != nil {
		tr.Error = ErrKindCancelled
		return ""
	}
	tr.PerExpert = append(tr.PerExpert, expertTraces(results)...)

	inputs := o.mixInputs(results)
	if len(inputs) == 0 {
		o.logger.Warn("no expert succeeded, using fallback agent", "agents", agents)
		return o.fallback(ctx, query, sessionID, tr)
	}

	outcome, err := o.mixer.Mix(ctx, query, inputs, matchesIntent(query, o.cfg.MapIntentTerms))
	if err != nil {
		if ctx.Err() != nil {
			tr.Error = ErrKindCancelled
			return ""
		}
		o.logger.Warn("mixing failed, using fallback agent", "error", err)
		return o.fallback(ctx, query, sessionID, tr)
	}
	tr.SynthesisUsed = outcome.SynthesisUsed
	tr.PreservedBlockCount = outcome.PreservedBlocks
	return outcome.Text
}

// selectAgents runs the primary selector and falls open to capability when
// the semantic pass fails. fellOpen reports an actual downgrade on this
// request, as opposed to an engine that is capability-only by configuration.
func (o *Orchestrator) selectAgents(ctx context.Context, query string) (agents []string, strategy string, fellOpen bool, err error) {
	if o.semantic != nil {
		agents, err = o.semantic.Select(ctx, query)
		if err == nil {
			return agents, o.semantic.Strategy(), false, nil
		}
		if ctx.Err() != nil {
			return nil, "", false, err
		}
		fellOpen = true
		o.logger.Warn("semantic selection failed, falling open to capability", "error", err)
	}
	agents, err = o.capability.Select(ctx, query)
	if err != nil {
		return nil, "", false, err
	}
	return agents, o.capability.Strategy(), fellOpen, nil
}

// mixInputs projects successful results onto mixer inputs annotated with
// their owning expert's identity and weight.
func (o *Orchestrator) mixInputs(results []ExpertResult) []MixInput {
	var inputs []MixInput
	for _, r := range results {
		if r.Status != StatusOK {
			continue
		}
		in := MixInput{AgentID: r.AgentID, ExpertID: r.AgentID, Weight: 1.0, Output: r.Output}
		if e, ok := o.pool.ExpertForAgent(r.AgentID); ok {
			in.ExpertID = e.ID
			in.Weight = e.Weight
		}
		inputs = append(inputs, in)
	}
	return inputs
}

// fallback invokes the final-resort agent; when that too fails, the
// configured fallback message is emitted verbatim.
func (o *Orchestrator) fallback(ctx context.Context, query, sessionID string, tr *Trace) string {
	tr.Path = PathFallback
	out, err := o.invokeDirect(ctx, o.cfg.FallbackAgentID, query, sessionID, o.cfg.FallbackTimeout)
	if err == nil {
		return out
	}
	if ctx.Err() != nil {
		tr.Error = ErrKindCancelled
		return ""
	}
	tr.Error = ErrKindFallbackFailed
	tr.ErrorDetail = errDetail(err)
	o.logger.Error("fallback agent failed", "agent_id", o.cfg.FallbackAgentID, "error", err)
	return o.cfg.FallbackMessage
}

// invokeDirect calls one agent outside the executor, under its own timeout.
func (o *Orchestrator) invokeDirect(ctx context.Context, agentID, query, sessionID string, timeout time.Duration) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return o.invoker.Invoke(callCtx, agentID, query, sessionID)
}

// emit hands the sealed trace to every sink. Sink failures are logged and
// never affect the request outcome.
func (o *Orchestrator) emit(tr Trace) {
	if len(o.sinks) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, s := range o.sinks {
			if err := s.Record(ctx, tr); err != nil {
				o.logger.Warn("trace sink failed", "error", err)
			}
		}
	}()
}
