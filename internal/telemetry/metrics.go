package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// PublishMetricsMeterName is the name used for the publish metrics meter
	PublishMetricsMeterName = "github.com/stacklok/cargo-registry-server/publish"

	// IndexMetricsMeterName is the name used for the index metrics meter
	IndexMetricsMeterName = "github.com/stacklok/cargo-registry-server/index"
)

// PublishMetrics holds the OpenTelemetry instruments for publish metrics
type PublishMetrics struct {
	publishes    metric.Int64Counter
	archiveBytes metric.Int64Histogram
}

// NewPublishMetrics creates a new PublishMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewPublishMetrics(provider metric.MeterProvider) (*PublishMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(PublishMetricsMeterName)

	publishes, err := meter.Int64Counter(
		"cargo_registry_publishes_total",
		metric.WithDescription("Number of publish requests by outcome"),
		metric.WithUnit("{publish}"),
	)
	if err != nil {
		return nil, err
	}

	archiveBytes, err := meter.Int64Histogram(
		"cargo_registry_archive_size_bytes",
		metric.WithDescription("Size of accepted crate archives"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1<<10, 10<<10, 100<<10, 1<<20, 5<<20, 10<<20),
	)
	if err != nil {
		return nil, err
	}

	return &PublishMetrics{
		publishes:    publishes,
		archiveBytes: archiveBytes,
	}, nil
}

// RecordPublish records a publish attempt labelled with its outcome
func (m *PublishMetrics) RecordPublish(ctx context.Context, outcome string) {
	if m == nil || m.publishes == nil {
		return
	}
	m.publishes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordArchiveSize records the size of an accepted archive
func (m *PublishMetrics) RecordArchiveSize(ctx context.Context, size int64) {
	if m == nil || m.archiveBytes == nil {
		return
	}
	m.archiveBytes.Record(ctx, size)
}

// IndexMetrics holds the OpenTelemetry instruments for index pass metrics
type IndexMetrics struct {
	passDuration metric.Float64Histogram
	commits      metric.Int64Counter
	rowFailures  metric.Int64Counter
	pending      metric.Int64Gauge
}

// NewIndexMetrics creates a new IndexMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewIndexMetrics(provider metric.MeterProvider) (*IndexMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(IndexMetricsMeterName)

	passDuration, err := meter.Float64Histogram(
		"cargo_registry_index_pass_duration_seconds",
		metric.WithDescription("Duration of index passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	commits, err := meter.Int64Counter(
		"cargo_registry_index_commits_total",
		metric.WithDescription("Number of commits made to the index"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, err
	}

	rowFailures, err := meter.Int64Counter(
		"cargo_registry_index_row_failures_total",
		metric.WithDescription("Number of pending versions that failed to be indexed"),
		metric.WithUnit("{version}"),
	)
	if err != nil {
		return nil, err
	}

	pending, err := meter.Int64Gauge(
		"cargo_registry_index_pending_versions",
		metric.WithDescription("Number of published versions not yet in the index"),
		metric.WithUnit("{version}"),
	)
	if err != nil {
		return nil, err
	}

	return &IndexMetrics{
		passDuration: passDuration,
		commits:      commits,
		rowFailures:  rowFailures,
		pending:      pending,
	}, nil
}

// RecordPass records the duration of an index pass
func (m *IndexMetrics) RecordPass(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.passDuration == nil {
		return
	}
	m.passDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordCommit counts one index commit
func (m *IndexMetrics) RecordCommit(ctx context.Context) {
	if m == nil || m.commits == nil {
		return
	}
	m.commits.Add(ctx, 1)
}

// RecordRowFailure counts a version that could not be indexed
func (m *IndexMetrics) RecordRowFailure(ctx context.Context, kind string) {
	if m == nil || m.rowFailures == nil {
		return
	}
	m.rowFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordPending records the number of pending versions seen by a pass
func (m *IndexMetrics) RecordPending(ctx context.Context, count int64) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Record(ctx, count)
}
