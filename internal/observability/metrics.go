package observability

import (
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments used by the config endpoint and the
// decision sink. Instruments are created once at startup and shared.
type Metrics struct {
	// HTTP metrics
	HTTPRequestDuration otelmetric.Float64Histogram
	HTTPRequestTotal    otelmetric.Int64Counter
	HTTPRequestErrors   otelmetric.Int64Counter
	RateLimited         otelmetric.Int64Counter

	// Decision metrics
	Decisions        otelmetric.Int64Counter
	DecisionCacheHit otelmetric.Int64Counter
	TemplateErrors   otelmetric.Int64Counter

	// Event metrics
	EventsPublished otelmetric.Int64Counter
	EventsFailed    otelmetric.Int64Counter
	DedupDropped    otelmetric.Int64Counter

	// Archive (decision sink) metrics
	ArchiveMessages     otelmetric.Int64Counter
	ArchiveBatchSize    otelmetric.Int64Histogram
	ArchiveFlushLatency otelmetric.Float64Histogram
	ArchiveFilesWritten otelmetric.Int64Counter
	ArchiveFileSize     otelmetric.Int64Histogram
	DLQMessages         otelmetric.Int64Counter

	// Compaction metrics
	CompactionRuns              otelmetric.Int64Counter
	CompactionDuration          otelmetric.Float64Histogram
	CompactionFilesCompacted    otelmetric.Int64Counter
	CompactionPartitionsSkipped otelmetric.Int64Counter
}

// NewMetrics creates all metric instruments from the given Meter.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.request.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestTotal, err = meter.Int64Counter(
		"http.request.total",
		otelmetric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestErrors, err = meter.Int64Counter(
		"http.request.errors",
		otelmetric.WithDescription("HTTP request errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimited, err = meter.Int64Counter(
		"http.request.rate_limited",
		otelmetric.WithDescription("Requests rejected by the per-client rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	m.Decisions, err = meter.Int64Counter(
		"appgate.decisions",
		otelmetric.WithDescription("Config decisions by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.DecisionCacheHit, err = meter.Int64Counter(
		"appgate.decisions.cache_hit",
		otelmetric.WithDescription("Decisions served from the sticky decision cache"),
	)
	if err != nil {
		return nil, err
	}

	m.TemplateErrors, err = meter.Int64Counter(
		"appgate.template.errors",
		otelmetric.WithDescription("Landing URL template render failures"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsPublished, err = meter.Int64Counter(
		"appgate.events.published",
		otelmetric.WithDescription("Decision events published to NATS"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsFailed, err = meter.Int64Counter(
		"appgate.events.failed",
		otelmetric.WithDescription("Decision events that could not be published"),
	)
	if err != nil {
		return nil, err
	}

	m.DedupDropped, err = meter.Int64Counter(
		"dedup.dropped",
		otelmetric.WithDescription("Duplicate decision events dropped"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveMessages, err = meter.Int64Counter(
		"archive.messages",
		otelmetric.WithDescription("Decision events written to the archive"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveBatchSize, err = meter.Int64Histogram(
		"archive.batch.size",
		otelmetric.WithDescription("Decision events per archive flush"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveFlushLatency, err = meter.Float64Histogram(
		"archive.flush.latency",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Archive flush latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveFilesWritten, err = meter.Int64Counter(
		"archive.files.written",
		otelmetric.WithDescription("Parquet files uploaded to object storage"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveFileSize, err = meter.Int64Histogram(
		"archive.file.size",
		otelmetric.WithUnit("By"),
		otelmetric.WithDescription("Parquet file sizes in bytes"),
	)
	if err != nil {
		return nil, err
	}

	m.DLQMessages, err = meter.Int64Counter(
		"dlq.messages",
		otelmetric.WithDescription("Decision events moved to the dead-letter stream"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionRuns, err = meter.Int64Counter(
		"compaction.runs",
		otelmetric.WithDescription("Archive compaction runs"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionDuration, err = meter.Float64Histogram(
		"compaction.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Archive compaction run duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionFilesCompacted, err = meter.Int64Counter(
		"compaction.files.compacted",
		otelmetric.WithDescription("Small Parquet files merged away"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionPartitionsSkipped, err = meter.Int64Counter(
		"compaction.partitions.skipped",
		otelmetric.WithDescription("Cold partitions with too few small files to compact"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}
