package agents

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	caravan "github.com/nevindra/caravan"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// Web is an expert that reads web pages: when the query carries a URL it
// fetches the page, extracts readable text, and answers grounded on it.
// Queries without a URL fall through to the plain LLM path.
type Web struct {
	id       string
	provider caravan.Provider
	client   *http.Client
	maxChars int
}

// NewWeb creates a web-reading agent with a 15-second fetch timeout.
func NewWeb(id string, provider caravan.Provider) *Web {
	return &Web{
		id:       id,
		provider: provider,
		client:   &http.Client{Timeout: 15 * time.Second},
		maxChars: 8000,
	}
}

func (a *Web) ID() string { return a.id }

func (a *Web) Respond(ctx context.Context, query, _ string) (string, error) {
	messages := []caravan.ChatMessage{
		caravan.SystemMessage("You are a web research expert. Answer using the supplied page content when present; say so when the page does not cover the question."),
	}

	if rawURL := urlPattern.FindString(query); rawURL != "" {
		content, err := a.fetch(ctx, rawURL)
		if err != nil {
			return "", err
		}
		messages = append(messages, caravan.SystemMessage(
			fmt.Sprintf("Page content from %s:\n\n%s", rawURL, content)))
	}
	messages = append(messages, caravan.UserMessage(query))

	resp, err := a.provider.Chat(ctx, caravan.ChatRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// fetch downloads a URL and extracts readable text.
func (a *Web) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; CaravanBot/1.0)")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	html := string(body)
	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	text := html
	if err == nil && article.TextContent != "" {
		text = strings.TrimSpace(article.TextContent)
	}
	if len(text) > a.maxChars {
		text = text[:a.maxChars] + "\n... (truncated)"
	}
	return text, nil
}

// Compile-time interface check.
var _ Agent = (*Web)(nil)
