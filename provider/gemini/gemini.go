// Package gemini provides chat and embedding clients for the Google Gemini
// API over plain net/http.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	caravan "github.com/nevindra/caravan"
)

const baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini implements caravan.Provider for Gemini chat models.
type Gemini struct {
	apiKey      string
	model       string
	temperature float64
	topP        float64
	endpoint    string
	httpClient  *http.Client
}

// GeminiOption configures a Gemini provider.
type GeminiOption func(*Gemini)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GeminiOption {
	return func(g *Gemini) { g.temperature = t }
}

// WithTopP sets nucleus sampling top-p.
func WithTopP(p float64) GeminiOption {
	return func(g *Gemini) { g.topP = p }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(g *Gemini) { g.httpClient = c }
}

// New creates a Gemini chat provider.
func New(apiKey, model string, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		apiKey:      apiKey,
		model:       model,
		temperature: 0.7,
		topP:        0.95,
		endpoint:    baseURL,
		httpClient:  &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Chat sends a generateContent request and returns the complete response.
func (g *Gemini) Chat(ctx context.Context, req caravan.ChatRequest) (caravan.ChatResponse, error) {
	body := g.buildBody(req.Messages)
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.endpoint, g.model, g.apiKey)

	respBody, err := g.post(ctx, url, body)
	if err != nil {
		return caravan.ChatResponse{}, err
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return caravan.ChatResponse{}, &caravan.ErrLLM{Provider: "gemini", Message: "failed to parse response: " + err.Error()}
	}

	var out caravan.ChatResponse
	if len(parsed.Candidates) > 0 {
		var sb strings.Builder
		for _, p := range parsed.Candidates[0].Content.Parts {
			if p.Thought {
				continue
			}
			if p.Text != nil {
				sb.WriteString(*p.Text)
			}
		}
		out.Content = sb.String()
	}
	if parsed.UsageMetadata != nil {
		out.Usage = caravan.Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		}
	}
	return out, nil
}

// buildBody constructs the Gemini API request body from chat messages.
// System messages accumulate into systemInstruction.
func (g *Gemini) buildBody(messages []caravan.ChatMessage) map[string]any {
	var systemParts []string
	var contents []map[string]any

	for _, m := range messages {
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}
		contents = append(contents, map[string]any{
			"role": mapRole(m.Role),
			"parts": []map[string]any{
				{"text": m.Content},
			},
		})
	}

	body := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature": g.temperature,
			"topP":        g.topP,
		},
	}
	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{
				{"text": strings.Join(systemParts, "\n\n")},
			},
		}
	}
	return body
}

// mapRole converts standard roles to Gemini API roles.
func mapRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return role
}

// post marshals body, sends it, and returns the raw response body.
func (g *Gemini) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &caravan.ErrLLM{Provider: "gemini", Message: "marshal body: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, &caravan.ErrLLM{Provider: "gemini", Message: "create request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, &caravan.ErrLLM{Provider: "gemini", Message: "request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &caravan.ErrLLM{Provider: "gemini", Message: "failed to read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &caravan.ErrHTTP{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// ---- Response parsing types ----

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text    *string `json:"text,omitempty"`
	Thought bool    `json:"thought,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// Compile-time interface assertion.
var _ caravan.Provider = (*Gemini)(nil)
