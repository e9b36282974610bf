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

// GeminiEmbedding implements caravan.EmbeddingProvider for Gemini embedding
// models using the synchronous batchEmbedContents endpoint, so any number of
// texts costs one round trip.
type GeminiEmbedding struct {
	apiKey     string
	model      string
	dims       int
	endpoint   string
	httpClient *http.Client
}

// NewEmbedding creates a Gemini embedding provider.
func NewEmbedding(apiKey, model string, dims int) *GeminiEmbedding {
	return &GeminiEmbedding{
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		endpoint:   baseURL,
		httpClient: &http.Client{},
	}
}

// Name returns "gemini".
func (e *GeminiEmbedding) Name() string { return "gemini" }

// Dimensions returns the configured embedding dimensionality.
func (e *GeminiEmbedding) Dimensions() int { return e.dims }

// Embed submits all texts as one batchEmbedContents call and returns the
// vectors in input order.
func (e *GeminiEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requests := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		requests = append(requests, map[string]any{
			"model": "models/" + e.model,
			"content": map[string]any{
				"parts": []map[string]any{
					{"text": text},
				},
			},
			"outputDimensionality": e.dims,
		})
	}
	body := map[string]any{"requests": requests}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &caravan.ErrLLM{Provider: "gemini", Message: "marshal embed body: " + err.Error()}
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", e.endpoint, e.model, e.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, &caravan.ErrLLM{Provider: "gemini", Message: "create embed request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, &caravan.ErrLLM{Provider: "gemini", Message: "embed request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &caravan.ErrLLM{Provider: "gemini", Message: "failed to read embed response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &caravan.ErrHTTP{Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed batchEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &caravan.ErrLLM{Provider: "gemini", Message: "failed to parse embed response: " + err.Error()}
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, &caravan.ErrLLM{Provider: "gemini",
			Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(parsed.Embeddings))}
	}

	out := make([][]float32, len(parsed.Embeddings))
	for i, emb := range parsed.Embeddings {
		vec := make([]float32, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

type batchEmbedResponse struct {
	Embeddings []embedValues `json:"embeddings"`
}

type embedValues struct {
	Values []float64 `json:"values"`
}

// Compile-time interface assertion.
var _ caravan.EmbeddingProvider = (*GeminiEmbedding)(nil)
