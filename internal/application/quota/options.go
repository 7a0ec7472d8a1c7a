package quota

import (
	"context"
	"time"

	"github.com/meterline/backend/internal/domain/account"
)

// Recorder receives engine measurements. telemetry.QuotaMetrics implements it.
type Recorder interface {
	RecordIncrement(ctx context.Context, outcome string)
	RecordReset(ctx context.Context, trigger account.ResetTrigger, count int64)
	RecordReconciliationFailure(ctx context.Context)
	RecordSweep(ctx context.Context, duration time.Duration, resetCount, failed int)
}

type noopRecorder struct{}

func (noopRecorder) RecordIncrement(context.Context, string)                  {}
func (noopRecorder) RecordReset(context.Context, account.ResetTrigger, int64) {}
func (noopRecorder) RecordReconciliationFailure(context.Context)              {}
func (noopRecorder) RecordSweep(context.Context, time.Duration, int, int)     {}

type noopPublisher struct{}

func (noopPublisher) PublishQuotaExceeded(context.Context, account.QuotaExceededEvent) error {
	return nil
}

func (noopPublisher) PublishCycleReset(context.Context, account.CycleResetEvent) error {
	return nil
}

type options struct {
	clock     func() time.Time
	recorder  Recorder
	publisher account.UsageEventPublisher
}

// Option configures the usage engine
type Option func(*options)

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithEventPublisher sets the publisher for quota lifecycle events
func WithEventPublisher(p account.UsageEventPublisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		clock:     func() time.Time { return time.Now().UTC() },
		recorder:  noopRecorder{},
		publisher: noopPublisher{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
