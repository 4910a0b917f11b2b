package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ahrav/go-beacon/internal/domain"
)

// baseProvider carries what every vendor implementation shares: its
// identity, the default model and the error classifier.
type baseProvider struct {
	provider   domain.Provider
	model      string
	classifier *ErrorClassifier
}

func newBaseProvider(p domain.Provider, configured, fallback string) baseProvider {
	model := configured
	if model == "" {
		model = fallback
	}
	return baseProvider{
		provider:   p,
		model:      model,
		classifier: &ErrorClassifier{Provider: string(p)},
	}
}

// Provider returns the vendor identity.
func (b *baseProvider) Provider() domain.Provider { return b.provider }

// DefaultModel returns the model used when a request carries none.
func (b *baseProvider) DefaultModel() string { return b.model }

// resolveModel picks the request model, falling back to the default.
func (b *baseProvider) resolveModel(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return b.model
}

// unknownError wraps an error no vendor-specific branch recognized.
func (b *baseProvider) unknownError(err error) *ProviderError {
	if isContextError(err) {
		return b.classifier.ClassifyContextError(err)
	}
	return NewProviderError(string(b.provider), ErrorTypeUnknown, 0, "request failed", err)
}

// timeCall runs fn and returns how long it took.
func timeCall(fn func()) time.Duration {
	start := time.Now()
	fn()
	return time.Since(start)
}

// httpClient returns a client with the validated timeout, or nil to let
// the SDK use its own default.
func httpClient(timeout time.Duration) *http.Client {
	if t := ValidateTimeout(timeout); t > 0 {
		return &http.Client{Timeout: t}
	}
	return nil
}

// isContextError checks if an error is a context-related error, such as a
// deadline exceeded or cancellation.
func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
