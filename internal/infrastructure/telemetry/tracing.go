package telemetry

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for spans started by the engine
const TracerName = "meterline"

// Span attribute keys
const (
	SpanAttrAccountID    = attribute.Key("quota.account_id")
	SpanAttrOutcome      = attribute.Key("quota.outcome")
	SpanAttrResetCount   = attribute.Key("quota.reset_count")
	SpanAttrSweepScanned = attribute.Key("quota.sweep.scanned")
	SpanAttrSweepFailed  = attribute.Key("quota.sweep.failed")
)

// SpanOption configures a span started by StartServiceSpan
type SpanOption func(*[]attribute.KeyValue)

// WithAccountID tags the span with the account it operates on
func WithAccountID(id uuid.UUID) SpanOption {
	return func(attrs *[]attribute.KeyValue) {
		*attrs = append(*attrs, SpanAttrAccountID.String(id.String()))
	}
}

// StartServiceSpan starts an internal span named {service}.{method}, e.g.
// "usage.increment", from the global tracer provider. The caller ends it.
func StartServiceSpan(ctx context.Context, service, method string, opts ...SpanOption) (context.Context, trace.Span) {
	var attrs []attribute.KeyValue
	for _, opt := range opts {
		opt(&attrs)
	}
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, service+"."+method,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// SetOutcome records how an increment attempt was decided
func SetOutcome(span trace.Span, outcome string) {
	span.SetAttributes(SpanAttrOutcome.String(outcome))
}

// SetResetCount records how many accounts an administrative reset touched
func SetResetCount(span trace.Span, n int64) {
	span.SetAttributes(SpanAttrResetCount.Int64(n))
}

// SetSweepResult records the totals of a reconciliation sweep
func SetSweepResult(span trace.Span, scanned, reset, failed int) {
	span.SetAttributes(
		SpanAttrSweepScanned.Int(scanned),
		SpanAttrResetCount.Int(reset),
		SpanAttrSweepFailed.Int(failed),
	)
}

// RecordError records err on the span and marks it failed. Quota rejections
// are outcomes, not errors, and should be reported with SetOutcome instead.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
