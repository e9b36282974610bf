package openaicompat

import "net/http"

// ProviderOption configures a Provider or Embedding instance.
type ProviderOption func(*settings)

type settings struct {
	name   string
	client *http.Client
	opts   []Option
}

// WithName sets the provider name returned by Name() (default "openai").
// Use this to distinguish providers in logs and observability.
func WithName(name string) ProviderOption {
	return func(s *settings) { s.name = name }
}

// WithHTTPClient sets a custom HTTP client (e.g. for timeouts or proxies).
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(s *settings) { s.client = c }
}

// WithOptions appends request-level options (temperature, top_p, etc.)
// that are applied to every chat request made by this provider.
func WithOptions(opts ...Option) ProviderOption {
	return func(s *settings) { s.opts = append(s.opts, opts...) }
}
