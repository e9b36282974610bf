package caravan

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// --- stub embedding provider ---

// stubEmbedder returns fixed vectors keyed by exact input text. Unknown
// texts get a deterministic unit vector so tests never depend on map order.
type stubEmbedder struct {
	dims int
	vecs map[string][]float32

	mu         sync.Mutex
	calls      int
	batchSizes []int
	alwaysFail error
	failErr    error
	failN      int // fail the first N calls with failErr, then succeed
}

func newStubEmbedder(dims int) *stubEmbedder {
	return &stubEmbedder{dims: dims, vecs: map[string][]float32{}}
}

func (s *stubEmbedder) set(text string, vec []float32) { s.vecs[text] = vec }

func (s *stubEmbedder) Name() string    { return "stub" }
func (s *stubEmbedder) Dimensions() int { return s.dims }

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.batchSizes = append(s.batchSizes, len(texts))
	var fail error
	if s.alwaysFail != nil {
		fail = s.alwaysFail
	} else if s.failN > 0 {
		s.failN--
		fail = s.failErr
	}
	s.mu.Unlock()

	if fail != nil {
		return nil, fail
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := s.vecs[t]; ok {
			out[i] = v
			continue
		}
		v := make([]float32, s.dims)
		var h uint32 = 2166136261
		for _, b := range []byte(t) {
			h = (h ^ uint32(b)) * 16777619
		}
		v[int(h)%s.dims] = 1
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// --- stub agent invoker ---

type agentBehavior struct {
	output string
	err    error
	delay  time.Duration
	fn     func(ctx context.Context, query string) (string, error)
}

type stubInvoker struct {
	mu       sync.Mutex
	agents   map[string]agentBehavior
	invoked  []string
	inflight int
	peak     int
}

func newStubInvoker() *stubInvoker {
	return &stubInvoker{agents: map[string]agentBehavior{}}
}

func (s *stubInvoker) respond(agentID, output string) {
	s.agents[agentID] = agentBehavior{output: output}
}

func (s *stubInvoker) fail(agentID string, err error) {
	s.agents[agentID] = agentBehavior{err: err}
}

func (s *stubInvoker) slow(agentID, output string, delay time.Duration) {
	s.agents[agentID] = agentBehavior{output: output, delay: delay}
}

func (s *stubInvoker) handle(agentID string, fn func(ctx context.Context, query string) (string, error)) {
	s.agents[agentID] = agentBehavior{fn: fn}
}

func (s *stubInvoker) Invoke(ctx context.Context, agentID, query, _ string) (string, error) {
	s.mu.Lock()
	s.invoked = append(s.invoked, agentID)
	s.inflight++
	if s.inflight > s.peak {
		s.peak = s.inflight
	}
	b, ok := s.agents[agentID]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	if !ok {
		return "", fmt.Errorf("unknown agent %q", agentID)
	}
	if b.fn != nil {
		return b.fn(ctx, query)
	}
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if b.err != nil {
		return "", b.err
	}
	return b.output, nil
}

func (s *stubInvoker) invokedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.invoked))
	copy(out, s.invoked)
	return out
}

func (s *stubInvoker) peakParallelism() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// --- stub synthesis provider ---

type stubSynth struct {
	mu      sync.Mutex
	content string
	err     error
	fn      func(prompt string) (string, error)
	prompts []string
}

func (s *stubSynth) Name() string { return "stub-synth" }

func (s *stubSynth) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	fn, content, err := s.fn, s.content, s.err
	s.mu.Unlock()

	if fn != nil {
		out, ferr := fn(prompt)
		return ChatResponse{Content: out}, ferr
	}
	if err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{Content: content}, nil
}

func (s *stubSynth) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

// --- shared fixtures ---

// unitVec builds a vector whose cosine against the x-axis basis equals c.
func unitVec(c float64) []float32 {
	if c > 1 {
		c = 1
	}
	if c < -1 {
		c = -1
	}
	y := 0.0
	if c*c < 1 {
		y = math.Sqrt(1 - c*c)
	}
	return []float32{float32(c), float32(y)}
}

// axis returns the 2D basis vector queries embed to in selector tests.
func axis() []float32 { return []float32{1, 0} }

func testPool(experts ...Expert) *Pool {
	p, err := NewPool(experts)
	if err != nil {
		panic(err)
	}
	return p
}
