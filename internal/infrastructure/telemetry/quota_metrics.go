package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/meterline/backend/internal/domain/account"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
var (
	AttrOutcome = attribute.Key("outcome")
	AttrTrigger = attribute.Key("trigger")
)

// SweepDurationBuckets are histogram boundaries for reconciliation sweeps (seconds)
var SweepDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900}

// QuotaMetrics records usage engine measurements as OpenTelemetry instruments
type QuotaMetrics struct {
	increments     metric.Int64Counter
	resets         metric.Int64Counter
	reconcileFails metric.Int64Counter
	sweepDuration  metric.Float64Histogram
	sweepFailed    metric.Int64Counter
}

// NewQuotaMetrics creates the engine's instruments on meter
func NewQuotaMetrics(meter metric.Meter) (*QuotaMetrics, error) {
	increments, err := meter.Int64Counter("quota_increments_total",
		metric.WithDescription("Increment attempts by outcome"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter quota_increments_total: %w", err)
	}

	resets, err := meter.Int64Counter("quota_resets_total",
		metric.WithDescription("Counter resets by trigger"),
		metric.WithUnit("{reset}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter quota_resets_total: %w", err)
	}

	reconcileFails, err := meter.Int64Counter("quota_reconciliation_failures_total",
		metric.WithDescription("Accounts that failed to reconcile"),
		metric.WithUnit("{account}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter quota_reconciliation_failures_total: %w", err)
	}

	sweepDuration, err := meter.Float64Histogram("quota_sweep_duration_seconds",
		metric.WithDescription("Duration of reconciliation sweeps"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(SweepDurationBuckets...))
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram quota_sweep_duration_seconds: %w", err)
	}

	sweepFailed, err := meter.Int64Counter("quota_sweep_failed_accounts_total",
		metric.WithDescription("Accounts skipped by sweeps because their reset failed"),
		metric.WithUnit("{account}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter quota_sweep_failed_accounts_total: %w", err)
	}

	return &QuotaMetrics{
		increments:     increments,
		resets:         resets,
		reconcileFails: reconcileFails,
		sweepDuration:  sweepDuration,
		sweepFailed:    sweepFailed,
	}, nil
}

// RecordIncrement counts one increment attempt
func (m *QuotaMetrics) RecordIncrement(ctx context.Context, outcome string) {
	m.increments.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// RecordReset counts resets applied by trigger
func (m *QuotaMetrics) RecordReset(ctx context.Context, trigger account.ResetTrigger, count int64) {
	if count <= 0 {
		return
	}
	m.resets.Add(ctx, count, metric.WithAttributes(AttrTrigger.String(string(trigger))))
}

// RecordReconciliationFailure counts one failed reset
func (m *QuotaMetrics) RecordReconciliationFailure(ctx context.Context) {
	m.reconcileFails.Add(ctx, 1)
}

// RecordSweep records a completed sweep
func (m *QuotaMetrics) RecordSweep(ctx context.Context, duration time.Duration, _ int, failed int) {
	m.sweepDuration.Record(ctx, duration.Seconds())
	if failed > 0 {
		m.sweepFailed.Add(ctx, int64(failed))
	}
}
