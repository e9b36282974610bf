package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	caravan "github.com/nevindra/caravan"
)

// Provider implements caravan.Provider against any OpenAI-compatible chat
// completions API.
type Provider struct {
	apiKey   string
	model    string
	baseURL  string
	settings settings
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		settings: settings{
			name:   "openai",
			client: &http.Client{},
		},
	}
	for _, opt := range opts {
		opt(&p.settings)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.settings.name }

// Chat sends a non-streaming chat request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req caravan.ChatRequest) (caravan.ChatResponse, error) {
	body := BuildBody(req.Messages, p.model, p.settings.opts...)

	resp, err := postJSON(ctx, p.settings.client, p.baseURL+"/chat/completions", p.apiKey, p.settings.name, body)
	if err != nil {
		return caravan.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return caravan.ChatResponse{}, httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return caravan.ChatResponse{}, &caravan.ErrLLM{Provider: p.settings.name, Message: fmt.Sprintf("decode response: %v", err)}
	}

	return ParseResponse(chatResp), nil
}

// BuildBody converts caravan ChatMessages and a model name into an
// OpenAI-format ChatRequest. Options configure generation parameters.
func BuildBody(messages []caravan.ChatMessage, model string, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
	}
	req := ChatRequest{Model: model, Messages: msgs}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// ParseResponse converts an OpenAI-format ChatResponse to a caravan
// ChatResponse, extracting content and usage from choices[0].
func ParseResponse(resp ChatResponse) caravan.ChatResponse {
	var out caravan.ChatResponse
	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
		out.Content = resp.Choices[0].Message.Content
	}
	if resp.Usage != nil {
		out.Usage = caravan.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out
}

// postJSON marshals body and POSTs it with bearer auth.
func postJSON(ctx context.Context, client *http.Client, url, apiKey, name string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &caravan.ErrLLM{Provider: name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &caravan.ErrLLM{Provider: name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &caravan.ErrLLM{Provider: name, Message: fmt.Sprintf("request failed: %v", err)}
	}
	return resp, nil
}

// httpErr reads the response body and returns an ErrHTTP.
func httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &caravan.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
}

// Compile-time interface check.
var _ caravan.Provider = (*Provider)(nil)
