// Package app wires configuration, providers, agents, and the orchestrator
// into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	caravan "github.com/nevindra/caravan"
	"github.com/nevindra/caravan/agents"
	"github.com/nevindra/caravan/internal/config"
	"github.com/nevindra/caravan/observer"
	"github.com/nevindra/caravan/provider/resolve"
	"github.com/nevindra/caravan/store/postgres"
	"github.com/nevindra/caravan/store/sqlite"
)

// App owns a wired orchestrator and the resources behind it.
type App struct {
	orc     *caravan.Orchestrator
	logger  *slog.Logger
	closers []func(context.Context) error
}

// New builds the application from configuration.
//
// A semantic-selection startup failure (embedding provider down or
// misbehaving) is degraded to capability-only mode with a warning rather
// than refusing to start.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}

	experts, err := cfg.Pool()
	if err != nil {
		return nil, err
	}
	pool, err := caravan.NewPool(experts)
	if err != nil {
		return nil, fmt.Errorf("app: build pool: %w", err)
	}

	chat, err := resolve.Chat(resolve.ChatConfig{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	var embedding caravan.EmbeddingProvider
	if cfg.Embedding.Provider != "" && cfg.Embedding.APIKey != "" {
		embedding, err = resolve.Embedding(resolve.EmbeddingConfig{
			Provider:   cfg.Embedding.Provider,
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("no embedding credentials, running capability-only selection")
	}

	var sinks []caravan.TraceSink

	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: init observer: %w", err)
		}
		a.closers = append(a.closers, shutdown)
		chat = observer.WrapProvider(chat, cfg.LLM.Model, inst)
		if embedding != nil {
			embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
		}
		sinks = append(sinks, observer.NewSink(inst))
	}

	if cfg.RateLimit.RPM > 0 || cfg.RateLimit.TPM > 0 {
		chat = caravan.WithRateLimit(chat,
			caravan.RPM(cfg.RateLimit.RPM), caravan.TPM(cfg.RateLimit.TPM))
		if embedding != nil {
			embedding = caravan.WithEmbeddingRateLimit(embedding, caravan.RPM(cfg.RateLimit.RPM))
		}
	}

	archive, err := a.openArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		sinks = append(sinks, archive)
	}

	invoker := buildRegistry(pool, cfg, chat)

	opts := []caravan.Option{
		caravan.WithConfig(cfg.EngineConfig()),
		caravan.WithSynthesis(chat),
		caravan.WithLogger(logger),
	}
	if embedding != nil {
		opts = append(opts, caravan.WithEmbedding(embedding))
	}
	for _, s := range sinks {
		opts = append(opts, caravan.WithTraceSink(s))
	}

	orc, err := caravan.New(ctx, pool, invoker, opts...)
	if err != nil {
		var selErr *caravan.ExpertSelectionError
		if embedding == nil || !errors.As(err, &selErr) {
			return nil, fmt.Errorf("app: build orchestrator: %w", err)
		}
		logger.Warn("semantic selector startup failed, degrading to capability-only", "error", err)
		engineCfg := cfg.EngineConfig()
		engineCfg.SelectionStrategy = caravan.StrategyCapability
		capOpts := append([]caravan.Option{
			caravan.WithConfig(engineCfg),
			caravan.WithSynthesis(chat),
			caravan.WithLogger(logger),
			caravan.WithEmbedding(embedding), // fast path still benefits from it
		}, sinkOptions(sinks)...)
		orc, err = caravan.New(ctx, pool, invoker, capOpts...)
		if err != nil {
			return nil, fmt.Errorf("app: build orchestrator: %w", err)
		}
	}
	a.orc = orc
	return a, nil
}

// Answer runs one query through the pipeline.
func (a *App) Answer(ctx context.Context, query, sessionID string) (string, caravan.Trace) {
	return a.orc.Handle(ctx, query, sessionID)
}

// CacheStats exposes the embedding cache counters for the status surface.
func (a *App) CacheStats() caravan.CacheStats {
	return a.orc.CacheStats()
}

// Close releases observer and archive resources.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c(ctx))
	}
	return errors.Join(errs...)
}

// openArchive opens the configured trace archive, if any.
func (a *App) openArchive(ctx context.Context, cfg config.ArchiveConfig) (caravan.TraceSink, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		s := sqlite.New(cfg.Path, sqlite.WithLogger(a.logger))
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return s, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("app: open postgres: %w", err)
		}
		s := postgres.New(pool)
		if err := s.Init(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		return s, nil
	default:
		return nil, fmt.Errorf("app: unknown archive driver %q", cfg.Driver)
	}
}

// buildRegistry creates an agent per agent ID referenced by the pool.
// Well-known IDs get their bespoke implementations; everything else becomes
// an LLM agent scoped by its expert's capabilities.
func buildRegistry(pool *caravan.Pool, cfg config.Config, chat caravan.Provider) *agents.Registry {
	var list []agents.Agent
	seen := map[string]bool{}

	for _, e := range pool.Experts() {
		for _, id := range e.Agents {
			if seen[id] {
				continue
			}
			seen[id] = true

			switch id {
			case cfg.Engine.MapAgentID:
				list = append(list, agents.NewMap(id, chat))
			case "web":
				list = append(list, agents.NewWeb(id, chat))
			default:
				list = append(list, agents.NewLLM(id, chat, capabilityPrompt(e)))
			}
		}
	}
	return agents.NewRegistry(list...)
}

func capabilityPrompt(e caravan.Expert) string {
	if len(e.Capabilities) == 0 {
		return "You are a helpful assistant. Answer concisely."
	}
	return fmt.Sprintf("You are the %s expert. Your specialties: %s. Answer the question within your specialty, concisely and factually.",
		e.ID, strings.Join(e.Capabilities, ", "))
}

func sinkOptions(sinks []caravan.TraceSink) []caravan.Option {
	out := make([]caravan.Option, 0, len(sinks))
	for _, s := range sinks {
		out = append(out, caravan.WithTraceSink(s))
	}
	return out
}
