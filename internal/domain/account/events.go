package account

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ResetTrigger identifies which path reset a counter
type ResetTrigger string

const (
	ResetTriggerLazy  ResetTrigger = "lazy"
	ResetTriggerSweep ResetTrigger = "sweep"
	ResetTriggerAdmin ResetTrigger = "admin"
)

// Event types
const (
	EventTypeQuotaExceeded = "quota.exceeded"
	EventTypeCycleReset    = "usage.cycle_reset"
)

// QuotaExceededEvent is published when an increment is rejected for lack of room
type QuotaExceededEvent struct {
	AccountID    uuid.UUID `json:"account_id"`
	Tier         Tier      `json:"tier"`
	UsageCount   int64     `json:"usage_count"`
	MonthlyLimit int64     `json:"monthly_limit"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// CycleResetEvent is published when a counter is reset
type CycleResetEvent struct {
	AccountID   uuid.UUID    `json:"account_id"`
	PeriodStart time.Time    `json:"period_start"`
	Trigger     ResetTrigger `json:"trigger"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

// UsageEventPublisher publishes quota lifecycle notifications to external consumers
type UsageEventPublisher interface {
	PublishQuotaExceeded(ctx context.Context, event QuotaExceededEvent) error
	PublishCycleReset(ctx context.Context, event CycleResetEvent) error
}
