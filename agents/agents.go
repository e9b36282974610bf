// Package agents provides in-process expert agent implementations and a
// registry that exposes them to the engine through the caravan.AgentInvoker
// contract.
package agents

import (
	"context"
	"fmt"

	caravan "github.com/nevindra/caravan"
)

// Agent is a concrete expert implementation addressed by ID.
type Agent interface {
	// ID returns the agent identifier referenced by the expert pool.
	ID() string
	// Respond answers the query. Implementations must honor ctx cancellation.
	Respond(ctx context.Context, query, sessionID string) (string, error)
}

// Registry maps agent IDs to implementations. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	agents map[string]Agent
}

// NewRegistry indexes the given agents by ID. Later duplicates win.
func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		r.agents[a.ID()] = a
	}
	return r
}

// Invoke dispatches to the registered agent.
func (r *Registry) Invoke(ctx context.Context, agentID, query, sessionID string) (string, error) {
	a, ok := r.agents[agentID]
	if !ok {
		return "", fmt.Errorf("agents: unknown agent %q", agentID)
	}
	return a.Respond(ctx, query, sessionID)
}

// IDs returns the registered agent IDs in unspecified order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	return out
}

// Compile-time interface check.
var _ caravan.AgentInvoker = (*Registry)(nil)
