package agents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	caravan "github.com/nevindra/caravan"
)

type echoProvider struct {
	lastMessages []caravan.ChatMessage
}

func (e *echoProvider) Name() string { return "echo" }

func (e *echoProvider) Chat(_ context.Context, req caravan.ChatRequest) (caravan.ChatResponse, error) {
	e.lastMessages = req.Messages
	return caravan.ChatResponse{Content: "echo: " + req.Messages[len(req.Messages)-1].Content}, nil
}

func TestRegistry_DispatchesByID(t *testing.T) {
	p := &echoProvider{}
	reg := NewRegistry(
		NewLLM("finance", p, "You are a finance expert."),
		NewLLM("chitchat", p, ""),
	)

	out, err := reg.Invoke(context.Background(), "finance", "price of TSLA", "")
	if err != nil {
		t.Fatal(err)
	}
	if out != "echo: price of TSLA" {
		t.Errorf("output = %q", out)
	}
	if _, err := reg.Invoke(context.Background(), "missing", "q", ""); err == nil {
		t.Error("unknown agent must error")
	}
}

func TestLLM_SystemPromptIncluded(t *testing.T) {
	p := &echoProvider{}
	a := NewLLM("finance", p, "You are a finance expert.")

	if _, err := a.Respond(context.Background(), "q", ""); err != nil {
		t.Fatal(err)
	}
	if len(p.lastMessages) != 2 || p.lastMessages[0].Role != "system" {
		t.Errorf("messages = %+v, want system prompt first", p.lastMessages)
	}
}

func TestMap_SystemPromptDemandsBlock(t *testing.T) {
	p := &echoProvider{}
	a := NewMap("map", p)

	if _, err := a.Respond(context.Background(), "where is the eiffel tower", ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.lastMessages[0].Content, "interactive_map") {
		t.Error("map agent system prompt missing the block contract")
	}
}

func TestWeb_FetchesURLIntoContext(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body><article><p>Readable body text about ducks.</p></article></body></html>"))
	}))
	defer page.Close()

	p := &echoProvider{}
	a := NewWeb("web", p)

	if _, err := a.Respond(context.Background(), "summarize "+page.URL, ""); err != nil {
		t.Fatal(err)
	}
	var pageContext string
	for _, m := range p.lastMessages {
		if strings.Contains(m.Content, "Page content from") {
			pageContext = m.Content
		}
	}
	if !strings.Contains(pageContext, "ducks") {
		t.Errorf("page content not passed to the model: %q", pageContext)
	}
}

func TestWeb_NoURLFallsThroughToPlainChat(t *testing.T) {
	p := &echoProvider{}
	a := NewWeb("web", p)

	out, err := a.Respond(context.Background(), "what is readability", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "echo:") {
		t.Errorf("output = %q", out)
	}
	for _, m := range p.lastMessages {
		if strings.Contains(m.Content, "Page content") {
			t.Error("no page context expected without a URL")
		}
	}
}
