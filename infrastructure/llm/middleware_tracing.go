package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-beacon/internal/domain"
)

// tracedLLM wraps each request in an OpenTelemetry span.
type tracedLLM struct {
	next   CoreLLM
	tracer trace.Tracer
}

// TracingMiddleware creates middleware that records a span per request
// using the global tracer provider under the given instrumentation name.
func TracingMiddleware(serviceName string) Middleware {
	return TracingMiddlewareWithTracer(otel.Tracer(serviceName))
}

// TracingMiddlewareWithTracer is TracingMiddleware with an explicit tracer.
func TracingMiddlewareWithTracer(tracer trace.Tracer) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{
			next:   next,
			tracer: tracer,
		}
	}
}

// DoRequest executes the request within a span named "llm.request".
func (t *tracedLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	ctx, span := t.tracer.Start(ctx, "llm.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", string(t.next.Provider())),
			attribute.String("llm.model", req.Model),
			attribute.Int("llm.prompt.length", len(req.Prompt)),
		),
	)
	defer span.End()

	resp, err := t.next.DoRequest(ctx, req)

	span.SetAttributes(attribute.Int64("llm.latency_ms", resp.Latency.Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
	span.SetAttributes(attribute.Int("llm.response.length", len(resp.Text)))
	return resp, nil
}

// Provider returns the vendor of the wrapped implementation.
func (t *tracedLLM) Provider() domain.Provider { return t.next.Provider() }

// DefaultModel returns the default model of the wrapped implementation.
func (t *tracedLLM) DefaultModel() string { return t.next.DefaultModel() }
