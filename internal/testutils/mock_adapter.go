// Package testutils provides deterministic provider fakes for tests that
// exercise the snapshot pipeline without network access.
package testutils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
)

// Canned model answers covering each extraction outcome.
const (
	// AnswerPerfect earns the maximum score.
	AnswerPerfect = `{"client_mentioned": true, "client_position": "top", "recommendation_strength": "strong",
"competitors_mentioned": ["Globex", "Initech"], "has_sources_or_citations": true,
"has_specific_features": true, "evidence_snippet": "Acme leads the field."}`

	// AnswerAbsent parses but earns zero.
	AnswerAbsent = `{"client_mentioned": false, "client_position": "not_mentioned", "recommendation_strength": "none",
"competitors_mentioned": ["globex"], "has_sources_or_citations": false,
"has_specific_features": false, "evidence_snippet": "Globex is popular."}`

	// AnswerInvalid has a JSON object that fails validation.
	AnswerInvalid = `{"client_mentioned": true, "client_position": "first", "recommendation_strength": "strong",
"competitors_mentioned": [], "has_sources_or_citations": true,
"has_specific_features": true, "evidence_snippet": "x"}`

	// AnswerProse contains no JSON at all.
	AnswerProse = "I cannot help with that."
)

// MockResponse is returned for prompts containing Pattern. An empty Pattern
// matches every prompt. A non-nil Err fails the call instead.
type MockResponse struct {
	Pattern  string
	Response string
	Err      error
}

// MockAdapter implements ports.Adapter with pattern-matched answers. The
// first matching response wins, so add specific patterns before catch-alls.
type MockAdapter struct {
	model   string
	latency time.Duration

	mu        sync.Mutex
	responses []MockResponse
	calls     []MockCall
}

// MockCall records one Run invocation.
type MockCall struct {
	System     string
	UserPrompt string
	Model      string
}

var _ ports.Adapter = (*MockAdapter)(nil)

// NewMockAdapter creates an adapter that answers AnswerPerfect to anything
// until other responses are added.
func NewMockAdapter(model string) *MockAdapter {
	return &MockAdapter{model: model, latency: 10 * time.Millisecond}
}

// AddResponse appends a pattern. It returns m for chaining.
func (m *MockAdapter) AddResponse(r MockResponse) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, r)
	return m
}

// Run implements ports.Adapter.
func (m *MockAdapter) Run(ctx context.Context, system, userPrompt, modelOverride string) (ports.Completion, error) {
	model := m.model
	if modelOverride != "" {
		model = modelOverride
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{System: system, UserPrompt: userPrompt, Model: model})
	resp := m.match(userPrompt)
	m.mu.Unlock()

	out := ports.Completion{ModelUsed: model, Latency: m.latency}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if userPrompt == "" {
		return out, errors.New("prompt cannot be empty")
	}
	if resp.Err != nil {
		return out, resp.Err
	}
	out.RawText = resp.Response
	return out, nil
}

func (m *MockAdapter) match(prompt string) MockResponse {
	lower := strings.ToLower(prompt)
	for _, r := range m.responses {
		if r.Pattern == "" || strings.Contains(lower, strings.ToLower(r.Pattern)) {
			return r
		}
	}
	return MockResponse{Response: AnswerPerfect}
}

// Calls returns a copy of the recorded invocations.
func (m *MockAdapter) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// MockAdapterSource implements ports.AdapterSource over fixed adapters.
type MockAdapterSource struct {
	adapters map[domain.Provider]ports.Adapter
}

var _ ports.AdapterSource = (*MockAdapterSource)(nil)

// NewMockAdapterSource enables exactly the providers in adapters.
func NewMockAdapterSource(adapters map[domain.Provider]ports.Adapter) *MockAdapterSource {
	return &MockAdapterSource{adapters: adapters}
}

// EnabledProviders implements ports.AdapterSource.
func (s *MockAdapterSource) EnabledProviders() []domain.Provider {
	var out []domain.Provider
	for _, p := range domain.KnownProviders {
		if _, ok := s.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Adapter implements ports.AdapterSource.
func (s *MockAdapterSource) Adapter(p domain.Provider) (ports.Adapter, error) {
	a, ok := s.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrProviderDisabled, p)
	}
	return a, nil
}
