package app

import (
	"context"
	"strings"
	"testing"

	caravan "github.com/nevindra/caravan"
	"github.com/nevindra/caravan/internal/config"
)

type staticProvider struct{}

func (staticProvider) Name() string { return "static" }
func (staticProvider) Chat(context.Context, caravan.ChatRequest) (caravan.ChatResponse, error) {
	return caravan.ChatResponse{Content: "ok"}, nil
}

func TestBuildRegistry_CoversEveryPoolAgent(t *testing.T) {
	cfg := config.Default()
	experts, err := cfg.Pool()
	if err != nil {
		t.Fatal(err)
	}
	pool, err := caravan.NewPool(experts)
	if err != nil {
		t.Fatal(err)
	}

	reg := buildRegistry(pool, cfg, staticProvider{})
	for _, e := range pool.Experts() {
		for _, id := range e.Agents {
			if _, err := reg.Invoke(context.Background(), id, "q", ""); err != nil {
				t.Errorf("agent %q not registered: %v", id, err)
			}
		}
	}
}

func TestCapabilityPrompt(t *testing.T) {
	e := caravan.Expert{ID: "finance", Capabilities: []string{"stocks", "tickers"}}
	got := capabilityPrompt(e)
	if !strings.Contains(got, "finance") || !strings.Contains(got, "stocks, tickers") {
		t.Errorf("prompt = %q", got)
	}
	if capabilityPrompt(caravan.Expert{ID: "x"}) == "" {
		t.Error("empty-capability prompt must not be empty")
	}
}

func TestNew_WiresCapabilityOnlyWithoutEmbeddingKey(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "test-key"
	cfg.Embedding.APIKey = "" // capability-only
	cfg.Embedding.Provider = ""

	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(context.Background())

	// The wiring must produce a working pipeline even though the synthesis
	// provider points at a dead endpoint: selection is deterministic and
	// the degraded mixer path concatenates raw outputs. Since the LLM agents
	// would hit the network, only assert construction here.
	if a.orc == nil {
		t.Fatal("orchestrator not built")
	}
}
