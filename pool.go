package caravan

import (
	"fmt"
	"strings"
)

// Expert is a logical specialist grouping one or more concrete agents.
// Experts are loaded once at startup and are immutable for the lifetime of
// the orchestrator.
type Expert struct {
	// ID uniquely identifies the expert within the pool.
	ID string `toml:"id" json:"id"`
	// Agents lists concrete agent IDs in invocation order.
	Agents []string `toml:"agents" json:"agents"`
	// Capabilities are free-text phrases used to build the expert's
	// description for semantic scoring and for keyword matching.
	Capabilities []string `toml:"capabilities" json:"capabilities"`
	// Weight scales the expert's similarity score. Defaults to 1.0.
	Weight float64 `toml:"weight" json:"weight"`
}

// Description synthesizes the text embedded for semantic scoring.
func (e Expert) Description() string {
	return "Expert for: " + strings.Join(e.Capabilities, ", ")
}

// Pool is the immutable set of experts the engine routes across.
// Safe for concurrent use: it is never mutated after construction.
type Pool struct {
	experts  []Expert
	byID     map[string]int
	agentSet map[string]struct{}
}

// NewPool validates and indexes the expert list. Expert IDs must be unique
// and every expert must name at least one agent. A zero weight is replaced
// with the default of 1.0.
func NewPool(experts []Expert) (*Pool, error) {
	p := &Pool{
		experts:  make([]Expert, len(experts)),
		byID:     make(map[string]int, len(experts)),
		agentSet: make(map[string]struct{}),
	}
	for i, e := range experts {
		if e.ID == "" {
			return nil, fmt.Errorf("expert %d: empty id", i)
		}
		if _, dup := p.byID[e.ID]; dup {
			return nil, fmt.Errorf("expert %q: duplicate id", e.ID)
		}
		if len(e.Agents) == 0 {
			return nil, fmt.Errorf("expert %q: no agents", e.ID)
		}
		if e.Weight == 0 {
			e.Weight = 1.0
		}
		if e.Weight < 0 {
			return nil, fmt.Errorf("expert %q: negative weight", e.ID)
		}
		p.experts[i] = e
		p.byID[e.ID] = i
		for _, a := range e.Agents {
			p.agentSet[a] = struct{}{}
		}
	}
	return p, nil
}

// Experts returns the experts in configured order. The returned slice must
// not be mutated.
func (p *Pool) Experts() []Expert { return p.experts }

// Len returns the number of experts.
func (p *Pool) Len() int { return len(p.experts) }

// Get returns the expert with the given ID.
func (p *Pool) Get(id string) (Expert, bool) {
	i, ok := p.byID[id]
	if !ok {
		return Expert{}, false
	}
	return p.experts[i], true
}

// HasAgent reports whether any expert in the pool names the agent.
func (p *Pool) HasAgent(agentID string) bool {
	_, ok := p.agentSet[agentID]
	return ok
}

// ExpertForAgent returns the first expert (in configured order) whose agent
// list contains agentID.
func (p *Pool) ExpertForAgent(agentID string) (Expert, bool) {
	for _, e := range p.experts {
		for _, a := range e.Agents {
			if a == agentID {
				return e, true
			}
		}
	}
	return Expert{}, false
}
