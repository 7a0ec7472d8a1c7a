package account

import (
	"time"

	"github.com/google/uuid"
)

// UsageSnapshot is the quota state of an account at a point in time
type UsageSnapshot struct {
	AccountID          uuid.UUID
	Tier               Tier
	UsageCount         int64
	MonthlyLimit       int64
	Remaining          int64
	PercentUsed        float64
	BillingPeriodStart time.Time
	BillingPeriodEnd   time.Time
	LastReset          *time.Time
}
