package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRecordsTotal       = "fieldagg.aggregate.records.total"
	metricDistinctValues     = "fieldagg.aggregate.distinct.values"
	metricCheckpointsTotal   = "fieldagg.checkpoint.saves.total"
	metricCheckpointFailures = "fieldagg.checkpoint.failures.total"
	metricRunDuration        = "fieldagg.aggregate.run.duration.seconds"

	attrField = "field"
)

// AggregationMetrics holds OTel instruments for aggregation runs.
type AggregationMetrics struct {
	recordsTotal       metric.Int64Counter
	distinctValues     metric.Int64Gauge
	checkpointsTotal   metric.Int64Counter
	checkpointFailures metric.Int64Counter
	runDuration        metric.Float64Histogram
}

// NewAggregationMetrics creates aggregation metric instruments from the given meter.
func NewAggregationMetrics(mt metric.Meter) (*AggregationMetrics, error) {
	records, err := mt.Int64Counter(metricRecordsTotal,
		metric.WithDescription("Records consumed by aggregation runs"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRecordsTotal, err)
	}

	distinct, err := mt.Int64Gauge(metricDistinctValues,
		metric.WithDescription("Distinct values per field at the end of a run"),
		metric.WithUnit("{value}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricDistinctValues, err)
	}

	saves, err := mt.Int64Counter(metricCheckpointsTotal,
		metric.WithDescription("Successful checkpoint saves"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCheckpointsTotal, err)
	}

	failures, err := mt.Int64Counter(metricCheckpointFailures,
		metric.WithDescription("Failed checkpoint saves"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCheckpointFailures, err)
	}

	runDur, err := mt.Float64Histogram(metricRunDuration,
		metric.WithDescription("Aggregation run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRunDuration, err)
	}

	return &AggregationMetrics{
		recordsTotal:       records,
		distinctValues:     distinct,
		checkpointsTotal:   saves,
		checkpointFailures: failures,
		runDuration:        runDur,
	}, nil
}

// RecordRecords adds n consumed records. Safe to call on a nil receiver.
func (am *AggregationMetrics) RecordRecords(ctx context.Context, n int64) {
	if am == nil {
		return
	}

	am.recordsTotal.Add(ctx, n)
}

// RecordCheckpoint counts one checkpoint attempt. Safe to call on a nil receiver.
func (am *AggregationMetrics) RecordCheckpoint(ctx context.Context, err error) {
	if am == nil {
		return
	}

	if err != nil {
		am.checkpointFailures.Add(ctx, 1)

		return
	}

	am.checkpointsTotal.Add(ctx, 1)
}

// RecordRun records the run duration and the final distinct count per field.
// Safe to call on a nil receiver.
func (am *AggregationMetrics) RecordRun(ctx context.Context, duration time.Duration, distinct map[string]int) {
	if am == nil {
		return
	}

	am.runDuration.Record(ctx, duration.Seconds())

	for field, count := range distinct {
		am.distinctValues.Record(ctx, int64(count), metric.WithAttributes(attribute.String(attrField, field)))
	}
}
