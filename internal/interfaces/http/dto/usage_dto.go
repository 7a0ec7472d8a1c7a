package dto

import (
	"time"

	"github.com/meterline/backend/internal/domain/account"
)

// UsageResponse is the wire form of a usage snapshot
type UsageResponse struct {
	AccountID          string     `json:"account_id"`
	Tier               string     `json:"tier"`
	UsageCount         int64      `json:"usage_count"`
	MonthlyLimit       int64      `json:"monthly_limit"`
	Remaining          int64      `json:"remaining"` // -1 for unmetered tiers
	PercentUsed        float64    `json:"percent_used"`
	BillingPeriodStart time.Time  `json:"billing_period_start"`
	BillingPeriodEnd   time.Time  `json:"billing_period_end"`
	LastReset          *time.Time `json:"last_reset,omitempty"`
}

// ToUsageResponse converts a domain snapshot
func ToUsageResponse(snap account.UsageSnapshot) UsageResponse {
	return UsageResponse{
		AccountID:          snap.AccountID.String(),
		Tier:               snap.Tier.String(),
		UsageCount:         snap.UsageCount,
		MonthlyLimit:       snap.MonthlyLimit,
		Remaining:          snap.Remaining,
		PercentUsed:        snap.PercentUsed,
		BillingPeriodStart: snap.BillingPeriodStart,
		BillingPeriodEnd:   snap.BillingPeriodEnd,
		LastReset:          snap.LastReset,
	}
}

// IncrementResponse reports an increment attempt
type IncrementResponse struct {
	Outcome string         `json:"outcome"`
	Usage   *UsageResponse `json:"usage,omitempty"`
}

// QuotaExceededData accompanies an ERR_QUOTA_EXCEEDED response
type QuotaExceededData struct {
	AccountID    string `json:"account_id"`
	Tier         string `json:"tier"`
	UsageCount   int64  `json:"usage_count"`
	MonthlyLimit int64  `json:"monthly_limit"`
}

// DuplicateSuppressedData accompanies an ERR_DUPLICATE_SUPPRESSED response
type DuplicateSuppressedData struct {
	RetryAfterSeconds int `json:"retry_after_seconds"`
}

// RegisterAccountRequest provisions an account
type RegisterAccountRequest struct {
	Tier         string `json:"tier" binding:"required,oneof=metered-low metered-mid metered-high unmetered"`
	MonthlyLimit *int64 `json:"monthly_limit" binding:"omitempty,gte=0"`
}

// RegisterAccountResponse returns the new account and a bearer token for it
type RegisterAccountResponse struct {
	Usage       UsageResponse `json:"usage"`
	AccessToken string        `json:"access_token"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// ResetUsageRequest resets one account or, with All set, every account
type ResetUsageRequest struct {
	AccountID string `json:"account_id" binding:"omitempty,uuid"`
	All       bool   `json:"all"`
}

// ResetUsageResponse reports an administrative reset
type ResetUsageResponse struct {
	ResetCount  int64     `json:"reset_count"`
	PeriodStart time.Time `json:"period_start"`
}
