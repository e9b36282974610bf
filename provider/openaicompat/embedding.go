package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	caravan "github.com/nevindra/caravan"
)

// Embedding implements caravan.EmbeddingProvider against the OpenAI
// /embeddings endpoint.
type Embedding struct {
	apiKey   string
	model    string
	baseURL  string
	dims     int
	settings settings
}

// NewEmbedding creates an OpenAI-compatible embedding provider. dims is the
// expected vector size (e.g. 1536); it is sent to providers that support
// shortened embeddings and used by callers to validate responses.
func NewEmbedding(apiKey, model, baseURL string, dims int, opts ...ProviderOption) *Embedding {
	e := &Embedding{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		dims:    dims,
		settings: settings{
			name:   "openai",
			client: &http.Client{},
		},
	}
	for _, opt := range opts {
		opt(&e.settings)
	}
	return e
}

// Name returns the provider name.
func (e *Embedding) Name() string { return e.settings.name }

// Dimensions returns the configured embedding vector size.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed sends all texts in one request and returns the vectors in input
// order, using the response's index field rather than array position.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := EmbeddingRequest{Model: e.model, Input: texts, Dimensions: e.dims}
	resp, err := postJSON(ctx, e.settings.client, e.baseURL+"/embeddings", e.apiKey, e.settings.name, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpErr(resp)
	}

	var parsed EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &caravan.ErrLLM{Provider: e.settings.name, Message: fmt.Sprintf("decode embeddings: %v", err)}
	}
	if len(parsed.Data) != len(texts) {
		return nil, &caravan.ErrLLM{Provider: e.settings.name,
			Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(parsed.Data))}
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// Compile-time interface check.
var _ caravan.EmbeddingProvider = (*Embedding)(nil)
