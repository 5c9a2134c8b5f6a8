package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// TickBuckets for one replicator tick across all pipelines
	TickBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// BatchBuckets for records written per replay window
	BatchBuckets = []float64{0, 1, 10, 50, 100, 500, 1000, 5000, 10000}
)

// Pipeline Metrics
var (
	// PipelinesActive tracks pipelines currently owned by the replicator
	PipelinesActive Gauge = NoopStat{}

	// PipelineCreateTotal counts pipeline creation attempts by result (success, failed)
	PipelineCreateTotal CounterVec = noopCounterVec{}

	// ReplicateRangeTotal counts replay windows by pipeline and result (success, failed)
	ReplicateRangeTotal CounterVec = noopCounterVec{}

	// RecordsWrittenPerRange measures records written per replay window
	RecordsWrittenPerRange HistogramVec = noopHistogramVec{}

	// ConsumedLogID tracks the highest fully processed log id per pipeline
	ConsumedLogID GaugeVec = noopGaugeVec{}

	// VisibleLogID tracks the watermark bounding each pipeline's window
	VisibleLogID GaugeVec = noopGaugeVec{}

	// TickDurationSeconds measures one replicator tick
	TickDurationSeconds Histogram = NoopStat{}
)

// Record Metrics
var (
	// RecordsTotal counts processed records by pipeline and outcome
	// (written, dropped, rewrite_error, unparsable)
	RecordsTotal CounterVec = noopCounterVec{}

	// SinkWritesTotal counts LogWriter results by sink and result (ok, ignore, fail)
	SinkWritesTotal CounterVec = noopCounterVec{}
)

// Checkpoint Metrics
var (
	// PersistedLogID tracks the durable checkpoint per pipeline
	PersistedLogID GaugeVec = noopGaugeVec{}

	// CheckpointSavesTotal counts checkpoint writes by pipeline and result
	CheckpointSavesTotal CounterVec = noopCounterVec{}

	// CheckpointLag tracks consumed minus persisted log id per pipeline
	CheckpointLag GaugeVec = noopGaugeVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	PipelinesActive = NewGauge(
		"pipelines_active",
		"Number of replication pipelines owned by the replicator",
	)
	PipelineCreateTotal = NewCounterVec(
		"pipeline_create_total",
		"Pipeline creation attempts by result",
		[]string{"result"},
	)
	ReplicateRangeTotal = NewCounterVec(
		"replicate_range_total",
		"Replay windows by pipeline and result",
		[]string{"pipeline", "result"},
	)
	RecordsWrittenPerRange = NewHistogramVec(
		"records_written_per_range",
		"Records written per replay window",
		[]string{"pipeline"},
		BatchBuckets,
	)
	ConsumedLogID = NewGaugeVec(
		"consumed_log_id",
		"Highest fully processed log id",
		[]string{"pipeline"},
	)
	VisibleLogID = NewGaugeVec(
		"visible_log_id",
		"Visibility watermark bounding the replay window",
		[]string{"pipeline"},
	)
	TickDurationSeconds = NewHistogramWithBuckets(
		"tick_duration_seconds",
		"Replicator tick duration in seconds",
		TickBuckets,
	)

	RecordsTotal = NewCounterVec(
		"records_total",
		"Processed records by pipeline and outcome",
		[]string{"pipeline", "outcome"},
	)
	SinkWritesTotal = NewCounterVec(
		"sink_writes_total",
		"Sink writes by sink and result",
		[]string{"sink", "result"},
	)

	PersistedLogID = NewGaugeVec(
		"persisted_log_id",
		"Durably checkpointed log id",
		[]string{"pipeline"},
	)
	CheckpointSavesTotal = NewCounterVec(
		"checkpoint_saves_total",
		"Checkpoint writes by pipeline and result",
		[]string{"pipeline", "result"},
	)
	CheckpointLag = NewGaugeVec(
		"checkpoint_lag",
		"Consumed log id minus persisted log id",
		[]string{"pipeline"},
	)
}
