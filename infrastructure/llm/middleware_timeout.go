package llm

import (
	"context"
	"time"

	"github.com/ahrav/go-beacon/internal/domain"
)

// timeoutLLM bounds each request with its own deadline.
type timeoutLLM struct {
	next    CoreLLM
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that enforces request timeouts.
// A request that overruns fails with a timeout ProviderError and is not
// retried.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &timeoutLLM{
			next:    next,
			timeout: timeout,
		}
	}
}

// DoRequest executes the request with a timeout context.
func (t *timeoutLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.DoRequest(ctx, req)
}

// Provider returns the vendor of the wrapped implementation.
func (t *timeoutLLM) Provider() domain.Provider { return t.next.Provider() }

// DefaultModel returns the default model of the wrapped implementation.
func (t *timeoutLLM) DefaultModel() string { return t.next.DefaultModel() }
