package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-beacon/internal/domain"
)

// withFakeFactory swaps the factory for p with one returning core and
// restores the original when the test ends.
func withFakeFactory(t *testing.T, p domain.Provider, core CoreLLM) {
	t.Helper()
	orig := providerFactories[p]
	RegisterProviderFactory(p, func(ClientConfig) (CoreLLM, error) { return core, nil })
	t.Cleanup(func() { RegisterProviderFactory(p, orig) })
}

func TestNewClient(t *testing.T) {
	t.Run("requires api key", func(t *testing.T) {
		_, err := NewClient(domain.ProviderOpenAI, ClientConfig{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmptyAPIKey)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewClient(domain.Provider("mistral"), ClientConfig{APIKey: "k"})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnknownProvider)
	})

	t.Run("built-in factories registered", func(t *testing.T) {
		for _, p := range domain.KnownProviders {
			_, ok := providerFactories[p]
			assert.True(t, ok, "factory for %s", p)
		}
	})
}

func TestClient_Run(t *testing.T) {
	core := newFakeCore()
	withFakeFactory(t, domain.ProviderOpenAI, core)

	client, err := NewClient(domain.ProviderOpenAI, ClientConfig{APIKey: "k", MaxTokens: 512})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderOpenAI, client.Provider())
	assert.Equal(t, "test-model", client.DefaultModel())

	c, err := client.Run(context.Background(), "sys", "prompt", "")
	require.NoError(t, err)
	assert.Equal(t, "test response", c.RawText)
	assert.Equal(t, "test-model", c.ModelUsed)
	assert.Equal(t, 25*time.Millisecond, c.Latency)

	c, err = client.Run(context.Background(), "sys", "prompt", "override-model")
	require.NoError(t, err)
	assert.Equal(t, "override-model", c.ModelUsed)

	calls := core.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, Request{System: "sys", Prompt: "prompt", Model: "test-model", MaxTokens: 512}, calls[0])
	assert.Equal(t, "override-model", calls[1].Model)
}

func TestClient_RunError(t *testing.T) {
	core := newFakeCore()
	core.err = NewProviderError("openai", ErrorTypeServerError, 503, "overloaded", nil)
	withFakeFactory(t, domain.ProviderOpenAI, core)

	client, err := NewClient(domain.ProviderOpenAI, ClientConfig{APIKey: "k"})
	require.NoError(t, err)

	c, err := client.Run(context.Background(), "", "prompt", "")
	require.Error(t, err)
	assert.Empty(t, c.RawText)
	assert.Equal(t, "test-model", c.ModelUsed)
	assert.Equal(t, 25*time.Millisecond, c.Latency, "latency is kept for error rows")

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 503, perr.StatusCode)
	assert.Len(t, core.calls(), 1, "no retries")
}

func TestClient_MiddlewareOrder(t *testing.T) {
	core := newFakeCore()
	withFakeFactory(t, domain.ProviderOpenAI, core)

	var order []string
	tag := func(name string) Middleware {
		return func(next CoreLLM) CoreLLM {
			return &orderLLM{CoreLLM: next, name: name, order: &order}
		}
	}

	client, err := NewClient(domain.ProviderOpenAI, ClientConfig{
		APIKey:     "k",
		Middleware: []Middleware{tag("outer"), tag("inner")},
	})
	require.NoError(t, err)

	_, err = client.Run(context.Background(), "", "p", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

type orderLLM struct {
	CoreLLM
	name  string
	order *[]string
}

func (o *orderLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	*o.order = append(*o.order, o.name)
	return o.CoreLLM.DoRequest(ctx, req)
}
