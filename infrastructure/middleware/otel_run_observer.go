package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
)

const runTracerName = "github.com/ahrav/go-beacon/snapshot"

var _ ports.RunObserver = (*OTelRunObserver)(nil)

// OTelRunObserver traces snapshot runs with OpenTelemetry and forwards
// outcome metrics to a MetricsCollector. One span covers a run from provider
// resolution to finalization; each persisted response becomes a span event.
type OTelRunObserver struct {
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// NewOTelRunObserver creates an observer. metrics may be nil. A nil tracer
// uses the global tracer provider.
func NewOTelRunObserver(metrics ports.MetricsCollector, tracer trace.Tracer) *OTelRunObserver {
	if tracer == nil {
		tracer = otel.Tracer(runTracerName)
	}
	return &OTelRunObserver{metrics: metrics, tracer: tracer}
}

// RunStarted opens the run span.
func (o *OTelRunObserver) RunStarted(
	ctx context.Context,
	snap *domain.Snapshot,
	providers []domain.Provider,
) context.Context {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = string(p)
	}

	ctx, span := o.tracer.Start(ctx, "snapshot.run", trace.WithAttributes(
		attribute.String("snapshot.id", snap.ID),
		attribute.String("snapshot.client_id", snap.ClientID),
		attribute.String("snapshot.prompt_pack_version", snap.PromptPackVersion),
		attribute.StringSlice("snapshot.providers", names),
	))
	if len(providers) == 0 {
		span.AddEvent("snapshot.no_providers")
	}
	return ctx
}

// ResponseRecorded adds a span event and counts the outcome.
func (o *OTelRunObserver) ResponseRecorded(
	ctx context.Context,
	resp *domain.ProviderResponse,
	outcome string,
) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("snapshot.response", trace.WithAttributes(
		attribute.String("provider", string(resp.Provider)),
		attribute.Int("prompt.ordinal", resp.PromptOrdinal),
		attribute.String("prompt.key", resp.PromptKey),
		attribute.String("outcome", outcome),
		attribute.Int64("latency_ms", resp.LatencyMS),
	))

	if o.metrics != nil {
		o.metrics.RecordCounter(ports.MetricParseOutcomes, 1, map[string]string{
			"provider": string(resp.Provider),
			"outcome":  outcome,
		})
	}
}

// RunFinished closes the run span and records the terminal state.
func (o *OTelRunObserver) RunFinished(
	ctx context.Context,
	snap *domain.Snapshot,
	elapsed time.Duration,
	err error,
) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	status := string(snap.Status)
	span.SetAttributes(attribute.String("snapshot.status", status))

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case snap.Status == domain.StatusFailed:
		reason := ""
		if snap.Error != nil {
			reason = *snap.Error
		}
		span.SetStatus(codes.Error, reason)
	default:
		if snap.OverallScore != nil {
			span.SetAttributes(attribute.Int("snapshot.overall_score", *snap.OverallScore))
		}
		span.SetStatus(codes.Ok, "")
	}

	if o.metrics == nil {
		return
	}

	labels := map[string]string{"status": status}
	o.metrics.RecordCounter(ports.MetricSnapshots, 1, labels)
	o.metrics.RecordLatency(ports.MetricSnapshotDuration, elapsed, labels)

	if snap.Status != domain.StatusComplete || err != nil {
		return
	}
	for provider, score := range snap.ScoreByProvider {
		o.metrics.RecordGauge(ports.MetricSnapshotScore, float64(score), map[string]string{
			"client_id": snap.ClientID,
			"provider":  provider,
		})
	}
	if snap.OverallScore != nil {
		o.metrics.RecordGauge(ports.MetricSnapshotScore, float64(*snap.OverallScore), map[string]string{
			"client_id": snap.ClientID,
			"provider":  "overall",
		})
	}
}

// SnapshotsReset records a recovery action.
func (o *OTelRunObserver) SnapshotsReset(ctx context.Context, clientID, actor string, ids []string) {
	trace.SpanFromContext(ctx).AddEvent("snapshot.reset", trace.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("actor", actor),
		attribute.Int("count", len(ids)),
	))
	if o.metrics != nil && len(ids) > 0 {
		o.metrics.RecordCounter(ports.MetricSnapshotsReset, float64(len(ids)), map[string]string{"actor": actor})
	}
}
