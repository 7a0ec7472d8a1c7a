package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTier_IsMetered(t *testing.T) {
	assert.True(t, TierMeteredLow.IsMetered())
	assert.True(t, TierMeteredMid.IsMetered())
	assert.True(t, TierMeteredHigh.IsMetered())
	assert.False(t, TierUnmetered.IsMetered())
	assert.False(t, Tier("gold").IsMetered())
}

func TestTier_DefaultMonthlyLimit(t *testing.T) {
	assert.Equal(t, int64(100), TierMeteredLow.DefaultMonthlyLimit())
	assert.Equal(t, int64(1000), TierMeteredMid.DefaultMonthlyLimit())
	assert.Equal(t, int64(10000), TierMeteredHigh.DefaultMonthlyLimit())
	assert.Equal(t, int64(0), TierUnmetered.DefaultMonthlyLimit())
}

func TestParseTier(t *testing.T) {
	t.Run("accepts any case", func(t *testing.T) {
		tier, err := ParseTier(" Metered-MID ")
		require.NoError(t, err)
		assert.Equal(t, TierMeteredMid, tier)
	})

	t.Run("rejects unknown tier", func(t *testing.T) {
		_, err := ParseTier("platinum")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "platinum")
		for _, tier := range AllTiers() {
			assert.Contains(t, err.Error(), tier.String())
		}
	})
}
