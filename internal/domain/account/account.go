package account

import (
	"time"

	"github.com/meterline/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Unlimited is reported as the remaining allotment of unmetered accounts
const Unlimited int64 = -1

// Account is the billable entity whose consumption is metered.
type Account struct {
	shared.BaseEntity
	Tier               Tier
	MonthlyLimit       int64 // ignored when Tier is unmetered
	UsageCount         int64
	BillingPeriodStart time.Time
	LastReset          *time.Time // diagnostic only
}

// NewAccount creates an account with an empty counter anchored at the month of now
func NewAccount(tier Tier, monthlyLimit int64, now time.Time) (*Account, error) {
	if !tier.IsValid() {
		return nil, shared.NewDomainError("INVALID_TIER", "Invalid account tier")
	}
	if monthlyLimit < 0 {
		return nil, shared.NewDomainError("INVALID_LIMIT", "Monthly limit cannot be negative")
	}

	return &Account{
		BaseEntity:         shared.NewBaseEntityAt(now.UTC()),
		Tier:               tier,
		MonthlyLimit:       monthlyLimit,
		UsageCount:         0,
		BillingPeriodStart: MonthStart(now),
	}, nil
}

// HasRoom reports whether one more unit may be consumed in the current period
func (a *Account) HasRoom() bool {
	return !a.Tier.IsMetered() || a.UsageCount < a.MonthlyLimit
}

// IsDue reports whether the account's counter belongs to a past billing period
func (a *Account) IsDue(now time.Time) bool {
	return IsPeriodDue(a.BillingPeriodStart, now)
}

// Remaining returns the units left in the period, or Unlimited for unmetered accounts
func (a *Account) Remaining() int64 {
	if !a.Tier.IsMetered() {
		return Unlimited
	}
	if a.UsageCount >= a.MonthlyLimit {
		return 0
	}
	return a.MonthlyLimit - a.UsageCount
}

// PercentUsed returns consumption as a percentage of the limit, rounded to two places.
// Unmetered accounts always report 0.
func (a *Account) PercentUsed() float64 {
	if !a.Tier.IsMetered() {
		return 0
	}
	if a.MonthlyLimit <= 0 {
		return 100
	}
	pct := decimal.NewFromInt(a.UsageCount).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(a.MonthlyLimit), 2)
	f, _ := pct.Float64()
	return f
}

// Snapshot returns a read-only view of the account's quota state
func (a *Account) Snapshot() UsageSnapshot {
	return UsageSnapshot{
		AccountID:          a.ID,
		Tier:               a.Tier,
		UsageCount:         a.UsageCount,
		MonthlyLimit:       a.MonthlyLimit,
		Remaining:          a.Remaining(),
		PercentUsed:        a.PercentUsed(),
		BillingPeriodStart: a.BillingPeriodStart,
		BillingPeriodEnd:   PeriodEnd(a.BillingPeriodStart),
		LastReset:          a.LastReset,
	}
}
