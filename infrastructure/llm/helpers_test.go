package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ahrav/go-beacon/internal/domain"
)

// fakeCore is a scripted CoreLLM for middleware and client tests.
type fakeCore struct {
	provider domain.Provider
	model    string
	text     string
	err      error
	delay    time.Duration
	latency  time.Duration

	mu       sync.Mutex
	requests []Request
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		provider: domain.ProviderOpenAI,
		model:    "test-model",
		text:     "test response",
		latency:  25 * time.Millisecond,
	}
}

func (f *fakeCore) DoRequest(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Response{Model: req.Model, Latency: f.latency}, ctx.Err()
		}
	}
	if f.err != nil {
		return Response{Model: req.Model, Latency: f.latency}, f.err
	}
	return Response{Text: f.text, Model: req.Model, Latency: f.latency}, nil
}

func (f *fakeCore) Provider() domain.Provider { return f.provider }

func (f *fakeCore) DefaultModel() string { return f.model }

func (f *fakeCore) calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// mockMetricsCollector keys every observation by metric and provider.
type mockMetricsCollector struct {
	mu         sync.Mutex
	histograms map[string][]float64
	counters   map[string]float64
	gauges     map[string]float64
	labels     []map[string]string
}

func newMockMetricsCollector() *mockMetricsCollector {
	return &mockMetricsCollector{
		histograms: make(map[string][]float64),
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
	}
}

func metricKey(metric string, labels map[string]string) string {
	return fmt.Sprintf("%s:%s", metric, labels["provider"])
}

func (m *mockMetricsCollector) RecordLatency(op string, d time.Duration, labels map[string]string) {
	m.RecordHistogram(op, d.Seconds(), labels)
}

func (m *mockMetricsCollector) RecordCounter(metric string, v float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metricKey(metric, labels)] += v
	m.labels = append(m.labels, copyLabels(labels))
}

func (m *mockMetricsCollector) RecordGauge(metric string, v float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metricKey(metric, labels)] = v
}

func (m *mockMetricsCollector) RecordHistogram(metric string, v float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[metricKey(metric, labels)] = append(m.histograms[metricKey(metric, labels)], v)
}

func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
