package llm

import (
	"context"
	"errors"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
)

// Metric names emitted by MetricsMiddleware.
const (
	MetricAdapterRequests = "adapter_requests_total"
	MetricAdapterLatency  = "adapter_latency_seconds"
)

// metricsLLM records one counter increment and one latency observation per
// request.
type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that collects request metrics.
// Requests are labeled by provider, model and status, where status is
// "success" or the ProviderError kind.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{
			next:      next,
			collector: collector,
		}
	}
}

// DoRequest forwards the request and records its outcome.
func (m *metricsLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	resp, err := m.next.DoRequest(ctx, req)
	if m.collector == nil {
		return resp, err
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	if model == "" {
		model = m.next.DefaultModel()
	}
	labels := map[string]string{
		"provider": string(m.next.Provider()),
		"model":    model,
		"status":   requestStatus(err),
	}

	m.collector.RecordCounter(MetricAdapterRequests, 1, labels)
	m.collector.RecordHistogram(MetricAdapterLatency, resp.Latency.Seconds(), labels)

	return resp, err
}

func requestStatus(err error) string {
	if err == nil {
		return "success"
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind()
	}
	if isContextError(err) {
		return "timeout"
	}
	return "error"
}

// Provider returns the vendor of the wrapped implementation.
func (m *metricsLLM) Provider() domain.Provider { return m.next.Provider() }

// DefaultModel returns the default model of the wrapped implementation.
func (m *metricsLLM) DefaultModel() string { return m.next.DefaultModel() }
