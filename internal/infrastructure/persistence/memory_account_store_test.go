package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAccountStore_Lifecycle(t *testing.T) {
	store := NewMemoryAccountStore()
	ctx := context.Background()

	acc := createTestAccount(t, store, account.TierMeteredLow, 1, 0, april)
	assert.ErrorIs(t, store.Create(ctx, acc), shared.ErrAlreadyExists)

	// Stale period refuses the increment until reset
	_, applied, err := store.IncrementIfAllowed(ctx, acc.ID, may)
	require.NoError(t, err)
	assert.False(t, applied)

	reset, err := store.ResetIfDue(ctx, acc.ID, may, may)
	require.NoError(t, err)
	assert.True(t, reset)

	updated, applied, err := store.IncrementIfAllowed(ctx, acc.ID, may)
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, int64(1), updated.UsageCount)

	_, applied, err = store.IncrementIfAllowed(ctx, acc.ID, may)
	require.NoError(t, err)
	assert.False(t, applied)

	// Returned accounts are copies
	updated.UsageCount = 99
	found, err := store.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.UsageCount)
}

func TestMemoryAccountStore_ConcurrentIncrements(t *testing.T) {
	store := NewMemoryAccountStore()
	ctx := context.Background()
	acc := createTestAccount(t, store, account.TierMeteredLow, 100, 98, may)

	var accepted int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := store.IncrementIfAllowed(ctx, acc.ID, may); err == nil && ok {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), accepted)
}

func TestMemoryAccountStore_ResetRacesIncrements(t *testing.T) {
	assertResetRacesIncrements(t, NewMemoryAccountStore())
}

func TestMemoryAccountStore_FindDueIDsPaging(t *testing.T) {
	store := NewMemoryAccountStore()
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		createTestAccount(t, store, account.TierMeteredMid, 1000, 0, april)
	}

	first, err := store.FindDueIDs(ctx, may, uuid.Nil, 4)
	require.NoError(t, err)
	require.Len(t, first, 4)

	second, err := store.FindDueIDs(ctx, may, first[3], 4)
	require.NoError(t, err)
	require.Len(t, second, 3)
	assert.Less(t, first[3].String(), second[0].String())
}

func TestMemoryAccountStore_ForceResetAll(t *testing.T) {
	store := NewMemoryAccountStore()
	ctx := context.Background()
	createTestAccount(t, store, account.TierMeteredLow, 100, 50, may)
	createTestAccount(t, store, account.TierUnmetered, 0, 7, april)

	n, err := store.ForceResetAll(ctx, may, may.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ids, err := store.FindDueIDs(ctx, may, uuid.Nil, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
