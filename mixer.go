package caravan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// synthesisTemplate is the fixed prompt contract for the synthesis LLM.
// {query} and {weighted_results} are the only placeholders.
const synthesisTemplate = `You are combining the findings of several specialist experts into one answer.

Original question:
{query}

Expert findings, most authoritative first:
{weighted_results}

Write a single well-structured markdown answer to the original question.
Rules:
- Use only information supported by the findings above.
- Copy every ` + "```json" + ` code block verbatim and unchanged, preferably near the end of the answer.
- Do not invent content the findings do not support.
- Do not mention the experts or this process.`

// MixInput is one successful expert output handed to the mixer, annotated
// with its owning expert for weighting and attribution.
type MixInput struct {
	AgentID  string
	ExpertID string
	Weight   float64
	Output   string
}

// MixOutcome is the mixer's terminal product.
type MixOutcome struct {
	Text string
	// SynthesisUsed is false when the synthesis LLM failed and the outputs
	// were concatenated instead.
	SynthesisUsed bool
	// PreservedBlocks counts the structured blocks guaranteed present in Text.
	PreservedBlocks int
}

// Mixer produces one coherent answer from many expert outputs while
// guaranteeing that every structured block found in a successful output
// survives into the final text verbatim.
type Mixer struct {
	provider   Provider
	timeout    time.Duration
	degrade    bool
	autoMap    bool
	recognized map[string]struct{}
	logger     *slog.Logger
}

// NewMixer creates a mixer over the synthesis provider. provider may be nil,
// in which case every Mix degrades to concatenation (or fails when
// degradation is disabled).
func NewMixer(provider Provider, cfg Config, logger *slog.Logger) *Mixer {
	return &Mixer{
		provider:   provider,
		timeout:    cfg.SynthesisTimeout,
		degrade:    cfg.DegradeOnSynthesisFailure,
		autoMap:    cfg.AutoInjectMap,
		recognized: map[string]struct{}{BlockTypeInteractiveMap: {}},
		logger:     logger,
	}
}

// Mix synthesizes the inputs into one markdown answer, then verifies and
// re-injects any structured block the synthesis dropped. mapIntent enables
// the optional map auto-injection for queries that asked for a map.
//
// On synthesis failure with degradation disabled the error is a
// *ResultMixingError and the outcome is zero.
func (m *Mixer) Mix(ctx context.Context, query string, inputs []MixInput, mapIntent bool) (MixOutcome, error) {
	// Step 1 — extract structured blocks from every input, first occurrence
	// in expert order wins.
	var original []Block
	for _, in := range inputs {
		original = append(original, ExtractBlocks(in.Output, m.recognized)...)
	}
	original = dedupeBlocks(original)

	// Step 2 — synthesize.
	text, synthesisUsed, err := m.synthesize(ctx, query, inputs)
	if err != nil {
		return MixOutcome{}, err
	}

	// Step 3 — verify and re-inject.
	present := ExtractBlocks(text, m.recognized)
	for _, b := range original {
		if containsBlock(present, b.Parsed) {
			continue
		}
		text = text + "\n\n" + b.Raw
		present = append(present, b)
	}

	out := MixOutcome{
		Text:            text,
		SynthesisUsed:   synthesisUsed,
		PreservedBlocks: len(original),
	}

	// Step 4 — optional map auto-injection.
	if m.autoMap && mapIntent && !hasBlockType(present, BlockTypeInteractiveMap) {
		if block, ok := synthesizeMapBlock(inputs); ok {
			out.Text = out.Text + "\n\n" + block
			out.PreservedBlocks++
		}
	}

	return out, nil
}

// synthesize runs the synthesis LLM under its budget, degrading to a
// separator-joined concatenation when allowed.
func (m *Mixer) synthesize(ctx context.Context, query string, inputs []MixInput) (string, bool, error) {
	if m.provider == nil {
		return m.degradeOrFail(inputs, fmt.Errorf("no synthesis provider configured"))
	}

	prompt := strings.ReplaceAll(synthesisTemplate, "{query}", query)
	prompt = strings.ReplaceAll(prompt, "{weighted_results}", renderWeightedResults(inputs))

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.provider.Chat(callCtx, ChatRequest{Messages: []ChatMessage{UserMessage(prompt)}})
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("synthesis failed", "provider", m.provider.Name(), "error", err)
		}
		return m.degradeOrFail(inputs, err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return m.degradeOrFail(inputs, fmt.Errorf("empty synthesis response"))
	}
	return resp.Content, true, nil
}

func (m *Mixer) degradeOrFail(inputs []MixInput, cause error) (string, bool, error) {
	if !m.degrade {
		return "", false, &ResultMixingError{Err: cause}
	}
	parts := make([]string, 0, len(inputs))
	for _, in := range inputs {
		parts = append(parts, in.Output)
	}
	return strings.Join(parts, "\n\n---\n\n"), false, nil
}

// renderWeightedResults renders the successful outputs sorted by expert
// weight descending, then by output length descending.
func renderWeightedResults(inputs []MixInput) string {
	sorted := make([]MixInput, len(inputs))
	copy(sorted, inputs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Weight != sorted[j].Weight {
			return sorted[i].Weight > sorted[j].Weight
		}
		return len(sorted[i].Output) > len(sorted[j].Output)
	})

	var b strings.Builder
	for _, in := range sorted {
		fmt.Fprintf(&b, "### %s (weight %.2f)\n%s\n\n", in.ExpertID, in.Weight, in.Output)
	}
	return strings.TrimRight(b.String(), "\n")
}

func hasBlockType(blocks []Block, blockType string) bool {
	for _, b := range blocks {
		if b.Type == blockType {
			return true
		}
	}
	return false
}

// --- map auto-injection ---

var (
	latPattern = regexp.MustCompile(`"lat"\s*:\s*(-?\d+(?:\.\d+)?)`)
	lngPattern = regexp.MustCompile(`"lng"\s*:\s*(-?\d+(?:\.\d+)?)`)
)

type mapMarker struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type mapBlock struct {
	Type    string      `json:"type"`
	Markers []mapMarker `json:"markers"`
}

// synthesizeMapBlock builds a minimal interactive_map block from lat/lng
// pairs found in any input. Pairs are matched positionally; unpaired
// coordinates are dropped.
func synthesizeMapBlock(inputs []MixInput) (string, bool) {
	var markers []mapMarker
	for _, in := range inputs {
		lats := latPattern.FindAllStringSubmatch(in.Output, -1)
		lngs := lngPattern.FindAllStringSubmatch(in.Output, -1)
		n := len(lats)
		if len(lngs) < n {
			n = len(lngs)
		}
		for i := 0; i < n; i++ {
			lat, err1 := strconv.ParseFloat(lats[i][1], 64)
			lng, err2 := strconv.ParseFloat(lngs[i][1], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			markers = append(markers, mapMarker{Lat: lat, Lng: lng})
		}
	}
	if len(markers) == 0 {
		return "", false
	}

	payload, err := json.Marshal(mapBlock{Type: BlockTypeInteractiveMap, Markers: markers})
	if err != nil {
		return "", false
	}
	return "```json\n" + string(payload) + "\n```", true
}
