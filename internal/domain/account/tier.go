package account

import (
	"fmt"
	"strings"

	"github.com/meterline/backend/internal/domain/shared"
)

// Tier classifies an account and controls whether limit checks apply.
type Tier string

const (
	TierMeteredLow  Tier = "metered-low"
	TierMeteredMid  Tier = "metered-mid"
	TierMeteredHigh Tier = "metered-high"
	TierUnmetered   Tier = "unmetered"
)

// defaultMonthlyLimits are used when an account is provisioned without an explicit limit.
var defaultMonthlyLimits = map[Tier]int64{
	TierMeteredLow:  100,
	TierMeteredMid:  1000,
	TierMeteredHigh: 10000,
	TierUnmetered:   0,
}

// AllTiers returns every supported tier
func AllTiers() []Tier {
	return []Tier{TierMeteredLow, TierMeteredMid, TierMeteredHigh, TierUnmetered}
}

// String returns the string representation of the tier
func (t Tier) String() string {
	return string(t)
}

// IsValid returns true if the tier is one of the supported values
func (t Tier) IsValid() bool {
	_, ok := defaultMonthlyLimits[t]
	return ok
}

// IsMetered returns true if limit checks apply to the tier
func (t Tier) IsMetered() bool {
	return t.IsValid() && t != TierUnmetered
}

// DefaultMonthlyLimit returns the allotment given to new accounts of this tier
func (t Tier) DefaultMonthlyLimit() int64 {
	return defaultMonthlyLimits[t]
}

// ParseTier parses a tier name, case-insensitively
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		names := make([]string, 0, len(defaultMonthlyLimits))
		for _, valid := range AllTiers() {
			names = append(names, valid.String())
		}
		return "", shared.NewDomainError("INVALID_TIER",
			fmt.Sprintf("Invalid account tier %q, expected one of: %s", s, strings.Join(names, ", ")))
	}
	return t, nil
}
