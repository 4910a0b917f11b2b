package llm

import (
	"fmt"
	"sync"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
)

// Registry maps providers to adapters. A provider is enabled when its API
// key is configured; nothing is contacted to decide that. Adapters are
// built on first use and cached.
type Registry struct {
	configs    map[domain.Provider]ClientConfig
	middleware []Middleware

	mu      sync.Mutex
	clients map[domain.Provider]*Client
}

var _ ports.AdapterSource = (*Registry)(nil)

// RegistryConfig holds configuration for the provider registry.
type RegistryConfig struct {
	// Providers holds per-provider settings. Providers absent from the map
	// or with an empty APIKey are disabled.
	Providers map[domain.Provider]ClientConfig
	// Middleware is applied outside each provider's own middleware.
	Middleware []Middleware
}

// NewRegistry creates a registry. Unknown provider keys are rejected.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	for p := range config.Providers {
		if _, err := domain.ParseProvider(string(p)); err != nil {
			return nil, err
		}
	}
	configs := make(map[domain.Provider]ClientConfig, len(config.Providers))
	for p, c := range config.Providers {
		configs[p] = c
	}
	return &Registry{
		configs:    configs,
		middleware: config.Middleware,
		clients:    make(map[domain.Provider]*Client),
	}, nil
}

// EnabledProviders returns the providers with an API key, ordered openai,
// anthropic, google.
func (r *Registry) EnabledProviders() []domain.Provider {
	var out []domain.Provider
	for _, p := range domain.KnownProviders {
		if r.enabled(p) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) enabled(p domain.Provider) bool {
	c, ok := r.configs[p]
	return ok && c.APIKey != ""
}

// Adapter returns the adapter for p, building it on first use.
// Returns ports.ErrProviderDisabled when p has no API key.
func (r *Registry) Adapter(p domain.Provider) (ports.Adapter, error) {
	return r.Client(p)
}

// Client is Adapter with the concrete type, for diagnostics that need the
// default model.
func (r *Registry) Client(p domain.Provider) (*Client, error) {
	if !r.enabled(p) {
		return nil, fmt.Errorf("%w: %s", ports.ErrProviderDisabled, p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[p]; ok {
		return c, nil
	}

	cfg := r.configs[p]
	cfg.Middleware = append(append([]Middleware{}, r.middleware...), cfg.Middleware...)

	c, err := NewClient(p, cfg)
	if err != nil {
		return nil, err
	}
	r.clients[p] = c
	return c, nil
}
