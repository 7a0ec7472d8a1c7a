package messaging

import (
	"context"

	"github.com/meterline/backend/internal/domain/account"
	"go.uber.org/zap"
)

// LogPublisher writes events to the structured log. It is the default
// backend when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

// PublishQuotaExceeded implements account.UsageEventPublisher
func (p *LogPublisher) PublishQuotaExceeded(_ context.Context, event account.QuotaExceededEvent) error {
	p.logger.Info("Usage event",
		zap.String("event_type", account.EventTypeQuotaExceeded),
		zap.String("account_id", event.AccountID.String()),
		zap.String("tier", event.Tier.String()),
		zap.Int64("usage_count", event.UsageCount),
		zap.Int64("monthly_limit", event.MonthlyLimit),
		zap.Time("occurred_at", event.OccurredAt),
	)
	return nil
}

// PublishCycleReset implements account.UsageEventPublisher
func (p *LogPublisher) PublishCycleReset(_ context.Context, event account.CycleResetEvent) error {
	p.logger.Info("Usage event",
		zap.String("event_type", account.EventTypeCycleReset),
		zap.String("account_id", event.AccountID.String()),
		zap.String("trigger", string(event.Trigger)),
		zap.Time("period_start", event.PeriodStart),
		zap.Time("occurred_at", event.OccurredAt),
	)
	return nil
}

// Close is a no-op
func (p *LogPublisher) Close() error {
	return nil
}

var _ account.UsageEventPublisher = (*LogPublisher)(nil)
