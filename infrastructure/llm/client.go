// Package llm adapts the OpenAI, Anthropic and Google model APIs to the
// ports.Adapter contract used by the snapshot orchestrator.
//
// Each provider implements CoreLLM, a minimal request/response interface.
// Cross-cutting concerns (rate limiting, timeouts, metrics, tracing) are
// layered on as Middleware without touching provider code. A Client wraps
// the assembled chain and resolves per-call model overrides. Every request is
// sent with temperature 0, and no layer retries: a failed call surfaces once
// as a *ProviderError.
//
// Basic usage:
//
//	client, err := llm.NewClient(domain.ProviderOpenAI, llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Middleware: []llm.Middleware{
//	        llm.RateLimitMiddleware(2, 4),
//	        llm.TimeoutMiddleware(60 * time.Second),
//	    },
//	})
//	completion, err := client.Run(ctx, system, prompt, "")
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
)

// DefaultMaxTokens bounds the answer length when the provider requires a
// limit and none is configured.
const DefaultMaxTokens = 1024

// Request is a single provider call.
type Request struct {
	// System is the instruction shared by every prompt in a pack.
	System string
	// Prompt is the rendered user prompt.
	Prompt string
	// Model is the resolved model identifier.
	Model string
	// MaxTokens caps the answer length; zero uses the provider default.
	MaxTokens int
}

// Response is what a provider returned for a Request.
type Response struct {
	Text  string
	Model string
	// Latency covers the vendor SDK call only.
	Latency time.Duration
}

// CoreLLM defines the minimal interface that LLM providers must implement.
// Middleware wraps any conforming implementation.
type CoreLLM interface {
	// DoRequest sends req to the provider. Implementations must not retry
	// and must report Latency even when the call fails.
	DoRequest(ctx context.Context, req Request) (Response, error)

	// Provider identifies the vendor behind this implementation.
	Provider() domain.Provider

	// DefaultModel returns the model used when a call has no override.
	DefaultModel() string
}

// ClientConfig holds all configuration options for creating an LLM client.
type ClientConfig struct {
	// APIKey authenticates requests to the provider.
	APIKey string

	// Model overrides the provider's built-in default model.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	BaseURL string

	// Timeout sets the HTTP client timeout. Zero means no timeout.
	Timeout time.Duration

	// MaxTokens caps answer length. Zero uses DefaultMaxTokens where the
	// vendor requires a value.
	MaxTokens int

	// Middleware is applied in the order given, first outermost.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM implementation to add cross-cutting functionality.
type Middleware func(CoreLLM) CoreLLM

// Client implements ports.Adapter on top of a middleware-wrapped CoreLLM.
type Client struct {
	core      CoreLLM
	maxTokens int
}

var _ ports.Adapter = (*Client)(nil)

// NewClient creates a client for provider p. The API key is required; the
// model falls back to the provider's default.
func NewClient(p domain.Provider, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", p, ErrEmptyAPIKey)
	}

	factory, ok := providerFactories[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, p)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", p, err)
	}

	// Apply middleware in reverse order so the first middleware is the outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}

	return &Client{core: core, maxTokens: config.MaxTokens}, nil
}

// Run implements ports.Adapter. On failure the returned Completion still
// carries the model and the latency of the failed call.
func (c *Client) Run(ctx context.Context, system, userPrompt, modelOverride string) (ports.Completion, error) {
	model := c.core.DefaultModel()
	if modelOverride != "" {
		model = modelOverride
	}

	resp, err := c.core.DoRequest(ctx, Request{
		System:    system,
		Prompt:    userPrompt,
		Model:     model,
		MaxTokens: c.maxTokens,
	})
	completion := ports.Completion{RawText: resp.Text, ModelUsed: model, Latency: resp.Latency}
	if resp.Model != "" {
		completion.ModelUsed = resp.Model
	}
	if err != nil {
		completion.RawText = ""
		return completion, err
	}
	return completion, nil
}

// Provider returns the vendor behind this client.
func (c *Client) Provider() domain.Provider { return c.core.Provider() }

// DefaultModel returns the model used when Run has no override.
func (c *Client) DefaultModel() string { return c.core.DefaultModel() }

// ProviderFactory creates a CoreLLM implementation from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var providerFactories = map[domain.Provider]ProviderFactory{}

// RegisterProviderFactory installs the factory used for provider p.
// Providers register themselves in init; tests may replace them.
func RegisterProviderFactory(p domain.Provider, factory ProviderFactory) {
	providerFactories[p] = factory
}
