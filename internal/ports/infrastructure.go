package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-beacon/internal/domain"
)

// Completion is the result of a single adapter call.
type Completion struct {
	// RawText is the model's answer, verbatim.
	RawText string
	// ModelUsed is the model identifier the request was sent with.
	ModelUsed string
	// Latency is wall clock around the vendor call only.
	Latency time.Duration
}

// Adapter sends one prompt to one LLM provider.
// Implementations pin temperature to 0 and never retry; a failed call
// surfaces as an error and the caller decides what to record.
type Adapter interface {
	// Run sends system and userPrompt to the provider. A non-empty
	// modelOverride replaces the configured default model for this call.
	Run(ctx context.Context, system, userPrompt, modelOverride string) (Completion, error)
}

// AdapterSource resolves adapters for providers.
type AdapterSource interface {
	// EnabledProviders lists the providers with credentials configured, in
	// the fixed order openai, anthropic, google.
	EnabledProviders() []domain.Provider

	// Adapter returns the adapter for an enabled provider.
	Adapter(p domain.Provider) (Adapter, error)
}

// SnapshotStore persists snapshots, response rows and client profiles.
// Snapshot rows are written twice: once on creation and once on
// finalization. Response rows are insert-only.
type SnapshotStore interface {
	// GetClient loads a client profile. Returns domain.ErrClientNotFound
	// when no such client exists.
	GetClient(ctx context.Context, clientID string) (domain.Client, error)

	// ListCompetitors returns the client's competitor names in stored order.
	ListCompetitors(ctx context.Context, clientID string) ([]string, error)

	// CreateSnapshot inserts a running snapshot. It returns
	// domain.ErrRunInProgress when the client already has one, so the
	// store enforces at most one running snapshot per client.
	CreateSnapshot(ctx context.Context, s *domain.Snapshot) error

	// HasRunningSnapshot reports whether the client has a running snapshot.
	HasRunningSnapshot(ctx context.Context, clientID string) (bool, error)

	// GetSnapshot loads a snapshot by id. Returns domain.ErrSnapshotNotFound
	// when absent.
	GetSnapshot(ctx context.Context, snapshotID string) (*domain.Snapshot, error)

	// FinalizeSnapshot writes the terminal fields of s, but only while the
	// stored row is still running. Returns domain.ErrSnapshotNotRunning
	// when the row was already finalized.
	FinalizeSnapshot(ctx context.Context, s *domain.Snapshot) error

	// InsertResponse appends one response row.
	InsertResponse(ctx context.Context, r *domain.ProviderResponse) error

	// ListResponses returns a snapshot's rows ordered by provider then
	// prompt ordinal.
	ListResponses(ctx context.Context, snapshotID string) ([]domain.ProviderResponse, error)

	// ListRunningSnapshots returns the client's running snapshots, oldest first.
	ListRunningSnapshots(ctx context.Context, clientID string) ([]domain.Snapshot, error)

	// FailRunningSnapshots moves every running snapshot of the client to
	// failed with errMsg and completed_at = at, returning the affected ids.
	FailRunningSnapshots(ctx context.Context, clientID, errMsg string, at time.Time) ([]string, error)
}

// RunLock serializes snapshot creation per client.
type RunLock interface {
	// Acquire blocks until the lock for clientID is held or ctx is done.
	// The returned release function is safe to call more than once.
	Acquire(ctx context.Context, clientID string) (release func(), err error)
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus or OpenTelemetry.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// RunObserver receives snapshot lifecycle events for tracing and metrics.
// ResponseRecorded may be called from several goroutines at once.
type RunObserver interface {
	// RunStarted is called once providers are resolved. The returned
	// context carries any span the observer opened and is used for the
	// rest of the run.
	RunStarted(ctx context.Context, snap *domain.Snapshot, providers []domain.Provider) context.Context

	// ResponseRecorded is called after each response row is persisted.
	// outcome is the evaluation kind, or "adapter_error".
	ResponseRecorded(ctx context.Context, resp *domain.ProviderResponse, outcome string)

	// RunFinished is called after the terminal transition was attempted.
	// err is the finalization error, if any.
	RunFinished(ctx context.Context, snap *domain.Snapshot, elapsed time.Duration, err error)

	// SnapshotsReset is called after recovery failed stuck snapshots.
	SnapshotsReset(ctx context.Context, clientID, actor string, ids []string)
}
