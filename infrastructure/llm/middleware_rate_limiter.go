package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-beacon/internal/domain"
)

// rateLimitedLLM paces requests with a token bucket so a snapshot's prompt
// loop stays under the vendor's request quota.
type rateLimitedLLM struct {
	next    CoreLLM
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces rate limiting using a token bucket algorithm.
// The limit parameter sets requests per second, while burst allows
// temporary spikes above the sustained rate. The limiter is shared by every
// CoreLLM the middleware wraps.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{
			next:    next,
			limiter: limiter,
		}
	}
}

// DoRequest waits for a token before forwarding the request. Time spent
// waiting is not part of the reported latency.
func (r *rateLimitedLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		classifier := ErrorClassifier{Provider: string(r.next.Provider())}
		return Response{Model: req.Model}, classifier.ClassifyContextError(fmt.Errorf("rate limit: %w", err))
	}
	return r.next.DoRequest(ctx, req)
}

// Provider returns the vendor of the wrapped implementation.
func (r *rateLimitedLLM) Provider() domain.Provider { return r.next.Provider() }

// DefaultModel returns the default model of the wrapped implementation.
func (r *rateLimitedLLM) DefaultModel() string { return r.next.DefaultModel() }
