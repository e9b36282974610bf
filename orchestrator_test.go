package caravan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// orchestratorFixture wires a full orchestrator over five experts whose
// description embeddings sit on orthogonal axes, so per-test query vectors
// control similarity exactly.
type orchestratorFixture struct {
	pool  *Pool
	embed *stubEmbedder
	inv   *stubInvoker
	synth *stubSynth
}

func newFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		embed: newStubEmbedder(5),
		inv:   newStubInvoker(),
		synth: &stubSynth{content: "synthesized answer"},
	}
	experts := []Expert{
		{ID: "chitchat", Agents: []string{"chitchat"}, Capabilities: []string{"hello", "hi", "greetings", "small talk"}},
		{ID: "finance", Agents: []string{"finance"}, Capabilities: []string{"stock", "price", "ticker", "tsla"}},
		{ID: "business", Agents: []string{"business"}, Capabilities: []string{"restaurants", "business", "lookup"}},
		{ID: "map", Agents: []string{"map"}, Capabilities: []string{"maps", "directions"}},
		{ID: "one", Agents: []string{"one"}, Capabilities: []string{"general"}},
	}
	basis := func(i int) []float32 {
		v := make([]float32, 5)
		v[i] = 1
		return v
	}
	for i, e := range experts {
		f.embed.set(e.Description(), basis(i))
	}
	f.pool = testPool(experts...)

	f.inv.respond("chitchat", "Hey! How can I help?")
	f.inv.respond("finance", "TSLA is trading at $241.12.")
	f.inv.respond("business", "Top pick: Kokkari Estiatorio.")
	f.inv.respond("map", "Here you go:\n\n"+mapBlockRaw)
	f.inv.respond("one", "General fallback answer.")
	return f
}

// setQuery assigns the query's embedding: component i is proportional to the
// cosine against expert i's description (chitchat, finance, business, map,
// one), and equals it when the vector has unit length.
func (f *orchestratorFixture) setQuery(query string, sims [5]float64) {
	v := make([]float32, 5)
	for i, s := range sims {
		v[i] = float32(s)
	}
	f.embed.set(query, v)
}

func (f *orchestratorFixture) build(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	all := append([]Option{
		WithEmbedding(f.embed),
		WithSynthesis(f.synth),
	}, opts...)
	orc, err := New(context.Background(), f.pool, f.inv, all...)
	if err != nil {
		t.Fatal(err)
	}
	return orc
}

func TestHandle_GreetingTakesFastPath(t *testing.T) {
	f := newFixture(t)
	f.setQuery("hello", [5]float64{0.95, 0, 0, 0, 0})
	orc := f.build(t)

	text, tr := orc.Handle(context.Background(), "hello", "s1")

	if tr.Path != PathFastPath {
		t.Fatalf("path = %s, want %s", tr.Path, PathFastPath)
	}
	if text != "Hey! How can I help?" {
		t.Errorf("text = %q, want the bypass agent output", text)
	}
	assertAgents(t, tr.Selected, []string{"chitchat"})
	if tr.PreservedBlockCount != 0 {
		t.Errorf("preserved blocks = %d, want 0", tr.PreservedBlockCount)
	}
	if tr.Error != "" {
		t.Errorf("unexpected trace error %q", tr.Error)
	}
}

func TestHandle_SingleDomainQuery(t *testing.T) {
	f := newFixture(t)
	query := "What is the current price of TSLA?"
	f.setQuery(query, [5]float64{0.05, 0.92, 0.1, 0.05, 0.2})
	f.synth.fn = func(prompt string) (string, error) {
		if !strings.Contains(prompt, "$241.12") {
			return "", errors.New("prompt missing finance output")
		}
		return "TSLA currently trades at $241.12.", nil
	}
	orc := f.build(t)

	text, tr := orc.Handle(context.Background(), query, "")

	if tr.Path != PathMoE {
		t.Fatalf("path = %s, want %s", tr.Path, PathMoE)
	}
	assertAgents(t, tr.Selected, []string{"finance"})
	if tr.SelectionStrategy != StrategySemantic {
		t.Errorf("strategy = %s, want semantic", tr.SelectionStrategy)
	}
	if !strings.Contains(text, "$241.12") {
		t.Errorf("answer %q missing the finance expert's content", text)
	}
	if !tr.SynthesisUsed {
		t.Error("synthesis_used should be true")
	}
}

func TestHandle_MultiDomainMapQuery(t *testing.T) {
	f := newFixture(t)
	query := "Show me the top 3 Greek restaurants in San Francisco on a map"
	f.setQuery(query, [5]float64{0, 0.1, 0.85, 0.78, 0.1})
	f.synth.content = "Kokkari Estiatorio tops the list." // drops the block
	orc := f.build(t)

	text, tr := orc.Handle(context.Background(), query, "")

	if tr.Path != PathMoE {
		t.Fatalf("path = %s, want %s", tr.Path, PathMoE)
	}
	assertAgents(t, tr.Selected, []string{"business", "map"})
	if tr.PreservedBlockCount < 1 {
		t.Errorf("preserved blocks = %d, want >= 1", tr.PreservedBlockCount)
	}
	blocks := ExtractBlocks(text, map[string]struct{}{BlockTypeInteractiveMap: {}})
	if len(blocks) != 1 {
		t.Fatalf("answer carries %d interactive_map blocks, want 1", len(blocks))
	}
}

func TestHandle_MapQuerySurvivesBusinessAgentFailure(t *testing.T) {
	f := newFixture(t)
	query := "Show me the top 3 Greek restaurants in San Francisco on a map"
	f.setQuery(query, [5]float64{0, 0.1, 0.85, 0.78, 0.1})
	f.inv.fail("business", errors.New("api quota"))
	f.synth.content = "The map expert still found locations."
	orc := f.build(t)

	text, tr := orc.Handle(context.Background(), query, "")

	if tr.Path != PathMoE {
		t.Fatalf("path = %s, want %s", tr.Path, PathMoE)
	}
	var businessTrace *ExpertTrace
	for i := range tr.PerExpert {
		if tr.PerExpert[i].AgentID == "business" {
			businessTrace = &tr.PerExpert[i]
		}
	}
	if businessTrace == nil || businessTrace.ErrorKind != ErrKindExpertError {
		t.Errorf("business failure not materialized: %+v", tr.PerExpert)
	}
	if len(ExtractBlocks(text, recognizedMap)) != 1 {
		t.Error("map block missing despite map agent success")
	}
}

func TestHandle_SelectorFallOpenIsOneShot(t *testing.T) {
	f := newFixture(t)
	query := "What is the current price of TSLA?"
	f.setQuery(query, [5]float64{0, 0.92, 0, 0, 0})
	orc := f.build(t)

	// First request: both the fast-path and selector embeddings fail, so
	// the capability selector takes over for this request only.
	f.embed.failErr = errors.New("embedding flake")
	f.embed.failN = 2
	_, tr := orc.Handle(context.Background(), query, "")

	if tr.Path != PathMoE {
		t.Fatalf("path = %s, want %s", tr.Path, PathMoE)
	}
	if tr.SelectionStrategy != StrategyCapability {
		t.Errorf("strategy = %s, want capability after fall-open", tr.SelectionStrategy)
	}
	if !tr.FellOpen {
		t.Error("fell_open not recorded on a real downgrade")
	}
	assertAgents(t, tr.Selected, []string{"finance"})

	// Second request: the downgrade was not persisted.
	_, tr = orc.Handle(context.Background(), query, "")
	if tr.SelectionStrategy != StrategySemantic {
		t.Errorf("strategy = %s, want semantic on the next request", tr.SelectionStrategy)
	}
	if tr.FellOpen {
		t.Error("fell_open must reset once semantic selection recovers")
	}
}

func TestHandle_AllExpertsFailUsesFallback(t *testing.T) {
	f := newFixture(t)
	query := "Show me the top 3 Greek restaurants in San Francisco on a map"
	f.setQuery(query, [5]float64{0, 0.8, 0.78, 0.76, 0})
	f.inv.fail("finance", errors.New("down"))
	f.inv.fail("business", errors.New("down"))
	f.inv.fail("map", errors.New("down"))
	orc := f.build(t)

	text, tr := orc.Handle(context.Background(), query, "")

	if tr.Path != PathFallback {
		t.Fatalf("path = %s, want %s", tr.Path, PathFallback)
	}
	if text != "General fallback answer." {
		t.Errorf("text = %q, want the fallback agent output", text)
	}
	if len(tr.PerExpert) != 3 {
		t.Fatalf("per-expert traces = %d, want 3", len(tr.PerExpert))
	}
	for _, pe := range tr.PerExpert {
		if pe.ErrorKind != ErrKindExpertError {
			t.Errorf("agent %s error kind = %s, want %s", pe.AgentID, pe.ErrorKind, ErrKindExpertError)
		}
	}
	if tr.Error != "" {
		t.Errorf("trace error = %q, fallback success must not set it", tr.Error)
	}
}

func TestHandle_SynthesisFailureDegradesAndKeepsBlocks(t *testing.T) {
	f := newFixture(t)
	query := "restaurants and directions"
	f.setQuery(query, [5]float64{0, 0, 0.9, 0.85, 0})
	f.synth.err = errors.New("synthesis timed out")
	orc := f.build(t)

	text, tr := orc.Handle(context.Background(), query, "")

	if tr.Path != PathMoE {
		t.Fatalf("path = %s, want %s", tr.Path, PathMoE)
	}
	if tr.SynthesisUsed {
		t.Error("synthesis_used must be false after degradation")
	}
	if !strings.Contains(text, "Kokkari Estiatorio") {
		t.Error("degraded text missing business output")
	}
	if len(ExtractBlocks(text, recognizedMap)) != 1 {
		t.Error("structured block lost in degraded output")
	}
}

func TestHandle_SynthesisFailureFallsBackWhenDegradeOff(t *testing.T) {
	f := newFixture(t)
	query := "restaurants and directions"
	f.setQuery(query, [5]float64{0, 0, 0.9, 0.85, 0})
	f.synth.err = errors.New("synthesis timed out")
	cfg := DefaultConfig()
	cfg.DegradeOnSynthesisFailure = false
	orc := f.build(t, WithConfig(cfg))

	text, tr := orc.Handle(context.Background(), query, "")

	if tr.Path != PathFallback {
		t.Fatalf("path = %s, want %s", tr.Path, PathFallback)
	}
	if text != "General fallback answer." {
		t.Errorf("text = %q, want fallback agent output", text)
	}
}

func TestHandle_FallbackFailureEmitsConfiguredMessage(t *testing.T) {
	f := newFixture(t)
	query := "unanswerable"
	f.setQuery(query, [5]float64{0, 0.9, 0, 0, 0})
	f.inv.fail("finance", errors.New("down"))
	f.inv.fail("one", errors.New("also down"))
	orc := f.build(t)

	text, tr := orc.Handle(context.Background(), query, "")

	if tr.Error != ErrKindFallbackFailed {
		t.Fatalf("trace error = %s, want %s", tr.Error, ErrKindFallbackFailed)
	}
	if text != DefaultFallbackMessage {
		t.Errorf("text = %q, want the canonical fallback message", text)
	}
}

func TestHandle_BypassAgentFailureContinuesPipeline(t *testing.T) {
	f := newFixture(t)
	f.setQuery("hello", [5]float64{0.95, 0, 0, 0, 0})
	f.inv.fail("chitchat", errors.New("chitchat crashed"))
	orc := f.build(t)

	text, tr := orc.Handle(context.Background(), "hello", "")

	// The bypass failure falls through to the full pipeline: a selection is
	// made (here it picks chitchat again, which keeps failing) and only the
	// executor's empty success set routes to the fallback agent.
	if tr.SelectionStrategy == "" || len(tr.Selected) == 0 {
		t.Fatal("pipeline did not run selection after bypass failure")
	}
	if tr.Path != PathFallback {
		t.Fatalf("path = %s, want %s once every expert failed", tr.Path, PathFallback)
	}
	if text != "General fallback answer." {
		t.Errorf("text = %q, want fallback agent output", text)
	}
}

func TestHandle_CapabilityOnlyModeWithoutEmbedding(t *testing.T) {
	f := newFixture(t)
	orc, err := New(context.Background(), f.pool, f.inv, WithSynthesis(f.synth))
	if err != nil {
		t.Fatal(err)
	}

	_, tr := orc.Handle(context.Background(), "price of tsla stock", "")
	if tr.SelectionStrategy != StrategyCapability {
		t.Errorf("strategy = %s, want capability without embedding provider", tr.SelectionStrategy)
	}
	if tr.FellOpen {
		t.Error("configured capability-only selection is not a fall-open")
	}
	assertAgents(t, tr.Selected, []string{"finance"})
}

func TestHandle_ConcurrentRequestsShareState(t *testing.T) {
	f := newFixture(t)
	f.setQuery("price of tsla", [5]float64{0, 0.9, 0, 0, 0})
	f.setQuery("greek restaurants", [5]float64{0, 0, 0.9, 0, 0})
	orc := f.build(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		q := "price of tsla"
		if i%2 == 1 {
			q = "greek restaurants"
		}
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			text, tr := orc.Handle(context.Background(), q, "")
			if text == "" || tr.Path == "" {
				t.Errorf("empty outcome for %q", q)
			}
		}(q)
	}
	wg.Wait()
}

func TestHandle_CancelledRequestSealsTrace(t *testing.T) {
	f := newFixture(t)
	query := "price of tsla"
	f.setQuery(query, [5]float64{0, 0.9, 0, 0, 0})
	f.inv.slow("finance", "late", time.Second)
	orc := f.build(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, tr := orc.Handle(ctx, query, "")
	if tr.Error != ErrKindCancelled {
		t.Errorf("trace error = %s, want %s", tr.Error, ErrKindCancelled)
	}
}

func TestHandle_TraceSinkReceivesSealedTrace(t *testing.T) {
	f := newFixture(t)
	f.setQuery("hello", [5]float64{0.95, 0, 0, 0, 0})

	sink := &captureSink{done: make(chan Trace, 1)}
	orc := f.build(t, WithTraceSink(sink))

	_, tr := orc.Handle(context.Background(), "hello", "")

	select {
	case recorded := <-sink.done:
		if recorded.RequestID != tr.RequestID {
			t.Error("sink received a different trace")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received the trace")
	}
}

type captureSink struct {
	done chan Trace
}

func (s *captureSink) Record(_ context.Context, t Trace) error {
	select {
	case s.done <- t:
	default:
	}
	return nil
}
