package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	caravan "github.com/nevindra/caravan"
)

func TestGemini_BuildBodySystemInstruction(t *testing.T) {
	g := New("key", "gemini-2.5-flash")
	body := g.buildBody([]caravan.ChatMessage{
		caravan.SystemMessage("be brief"),
		caravan.UserMessage("hello"),
		{Role: "assistant", Content: "hi"},
	})

	if body["systemInstruction"] == nil {
		t.Fatal("system message not lifted into systemInstruction")
	}
	contents := body["contents"].([]map[string]any)
	if len(contents) != 2 {
		t.Fatalf("contents = %d entries, want 2", len(contents))
	}
	if contents[1]["role"] != "model" {
		t.Errorf("assistant role mapped to %v, want model", contents[1]["role"])
	}
}

func TestGemini_ChatParsesCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		thinking := "pondering"
		answer := "the answer"
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{Content: geminiContent{Parts: []geminiPart{
				{Text: &thinking, Thought: true},
				{Text: &answer},
			}}}},
			UsageMetadata: &geminiUsage{PromptTokenCount: 7, CandidatesTokenCount: 3},
		})
	}))
	defer srv.Close()

	g := New("key", "gemini-2.5-flash")
	g.endpoint = srv.URL
	resp, err := g.Chat(context.Background(), caravan.ChatRequest{
		Messages: []caravan.ChatMessage{caravan.UserMessage("q")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "the answer" {
		t.Errorf("content = %q, thought parts must be excluded", resp.Content)
	}
	if resp.Usage.InputTokens != 7 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestGeminiEmbedding_BatchSingleRoundTrip(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body struct {
			Requests []json.RawMessage `json:"requests"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		resp := batchEmbedResponse{}
		for range body.Requests {
			resp.Embeddings = append(resp.Embeddings, embedValues{Values: []float64{1, 0}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewEmbedding("key", "gemini-embedding-001", 2)
	e.endpoint = srv.URL
	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 || calls != 1 {
		t.Errorf("vecs = %d, calls = %d; want 3 vectors from 1 call", len(vecs), calls)
	}
}

func TestGeminiEmbedding_CountMismatchRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(batchEmbedResponse{
			Embeddings: []embedValues{{Values: []float64{1}}},
		})
	}))
	defer srv.Close()

	e := NewEmbedding("key", "m", 1)
	e.endpoint = srv.URL
	if _, err := e.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected count mismatch error")
	}
}
