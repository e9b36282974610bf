package agents

import (
	"context"
	"strings"

	caravan "github.com/nevindra/caravan"
)

// LLM is a generic LLM-backed expert: a capability-scoped system prompt over
// a chat provider. It serves finance, chitchat, fallback, and any expert
// without a bespoke implementation.
type LLM struct {
	id       string
	provider caravan.Provider
	system   string
}

// NewLLM creates an LLM-backed agent with the given system prompt.
func NewLLM(id string, provider caravan.Provider, system string) *LLM {
	return &LLM{id: id, provider: provider, system: system}
}

func (a *LLM) ID() string { return a.id }

func (a *LLM) Respond(ctx context.Context, query, _ string) (string, error) {
	messages := []caravan.ChatMessage{}
	if a.system != "" {
		messages = append(messages, caravan.SystemMessage(a.system))
	}
	messages = append(messages, caravan.UserMessage(query))

	resp, err := a.provider.Chat(ctx, caravan.ChatRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// mapSystemPrompt instructs the model to carry its findings as an
// interactive_map block so the mixer can preserve them verbatim.
const mapSystemPrompt = `You are a map rendering expert. Answer location questions with a short
textual summary followed by exactly one fenced code block of this shape:

` + "```json" + `
{"type": "interactive_map", "markers": [{"lat": 0.0, "lng": 0.0, "label": "Name"}], "zoom": 13}
` + "```" + `

Every marker must correspond to a real place mentioned in your summary.
Never emit more than one block and never alter the "type" field.`

// NewMap creates the map-rendering expert: an LLM agent whose contract is to
// answer with an interactive_map structured block.
func NewMap(id string, provider caravan.Provider) *LLM {
	return NewLLM(id, provider, mapSystemPrompt)
}

// Compile-time interface check.
var _ Agent = (*LLM)(nil)
