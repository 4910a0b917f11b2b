package ports

// Metric names recorded by the snapshot engine. Adapter request metrics are
// named by the llm package.
const (
	// MetricParseOutcomes counts evaluated answers by provider and outcome
	// (parsed, invalid, no_candidate, adapter_error).
	MetricParseOutcomes = "parse_outcomes_total"

	// MetricSnapshots counts finalized snapshots by terminal status.
	MetricSnapshots = "snapshots_total"

	// MetricSnapshotDuration observes start-to-finalize time by status.
	MetricSnapshotDuration = "snapshot_duration_seconds"

	// MetricSnapshotScore holds the latest score per client and provider.
	// The overall score uses provider "overall".
	MetricSnapshotScore = "snapshot_score"

	// MetricSnapshotsReset counts snapshots moved to failed by recovery.
	MetricSnapshotsReset = "snapshots_reset_total"
)
