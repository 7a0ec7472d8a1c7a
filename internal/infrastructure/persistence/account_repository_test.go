package persistence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupAccountTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&AccountModel{}))
	return db
}

var (
	april = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	may   = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
)

func createTestAccount(t *testing.T, repo account.AccountRepository, tier account.Tier, limit, usage int64, createdAt time.Time) *account.Account {
	t.Helper()
	acc, err := account.NewAccount(tier, limit, createdAt)
	require.NoError(t, err)
	acc.UsageCount = usage
	require.NoError(t, repo.Create(context.Background(), acc))
	return acc
}

func TestAccountRepository_CreateAndFind(t *testing.T) {
	repo := NewAccountRepository(setupAccountTestDB(t))
	ctx := context.Background()

	acc := createTestAccount(t, repo, account.TierMeteredMid, 1000, 0, may.Add(36*time.Hour))

	found, err := repo.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, found.ID)
	assert.Equal(t, account.TierMeteredMid, found.Tier)
	assert.Equal(t, int64(1000), found.MonthlyLimit)
	assert.True(t, may.Equal(found.BillingPeriodStart))
	assert.Nil(t, found.LastReset)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAccountRepository_IncrementIfAllowed(t *testing.T) {
	repo := NewAccountRepository(setupAccountTestDB(t))
	ctx := context.Background()

	t.Run("increments below the limit", func(t *testing.T) {
		acc := createTestAccount(t, repo, account.TierMeteredLow, 2, 1, may)

		updated, applied, err := repo.IncrementIfAllowed(ctx, acc.ID, may)
		require.NoError(t, err)
		require.True(t, applied)
		assert.Equal(t, int64(2), updated.UsageCount)
		assert.Equal(t, int64(2), updated.MonthlyLimit)
		assert.Equal(t, account.TierMeteredLow, updated.Tier)
	})

	t.Run("refuses at the limit without mutating", func(t *testing.T) {
		acc := createTestAccount(t, repo, account.TierMeteredLow, 2, 2, may)

		_, applied, err := repo.IncrementIfAllowed(ctx, acc.ID, may)
		require.NoError(t, err)
		assert.False(t, applied)

		found, err := repo.FindByID(ctx, acc.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), found.UsageCount)
	})

	t.Run("unmetered ignores the limit", func(t *testing.T) {
		acc := createTestAccount(t, repo, account.TierUnmetered, 0, 5000, may)

		updated, applied, err := repo.IncrementIfAllowed(ctx, acc.ID, may)
		require.NoError(t, err)
		require.True(t, applied)
		assert.Equal(t, int64(5001), updated.UsageCount)
	})

	t.Run("refuses rows anchored in a past period", func(t *testing.T) {
		acc := createTestAccount(t, repo, account.TierMeteredHigh, 10000, 3, april)

		_, applied, err := repo.IncrementIfAllowed(ctx, acc.ID, may)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("missing account is not applied", func(t *testing.T) {
		_, applied, err := repo.IncrementIfAllowed(ctx, uuid.New(), may)
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestAccountRepository_ConcurrentIncrementsRespectLimit(t *testing.T) {
	repo := NewAccountRepository(setupAccountTestDB(t))
	ctx := context.Background()

	acc := createTestAccount(t, repo, account.TierMeteredLow, 5, 3, may)

	var accepted int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := repo.IncrementIfAllowed(ctx, acc.ID, may)
			if err == nil && applied {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), accepted)
	found, err := repo.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), found.UsageCount)
}

func TestAccountRepository_ResetIfDue(t *testing.T) {
	repo := NewAccountRepository(setupAccountTestDB(t))
	ctx := context.Background()
	now := may.Add(2 * time.Hour)

	acc := createTestAccount(t, repo, account.TierMeteredLow, 100, 87, april)

	reset, err := repo.ResetIfDue(ctx, acc.ID, may, now)
	require.NoError(t, err)
	assert.True(t, reset)

	found, err := repo.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), found.UsageCount)
	assert.True(t, may.Equal(found.BillingPeriodStart))
	require.NotNil(t, found.LastReset)
	assert.True(t, now.Equal(*found.LastReset))

	// Second evaluation in the same period is a no-op
	reset, err = repo.ResetIfDue(ctx, acc.ID, may, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, reset)

	found2, err := repo.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, now.Equal(*found2.LastReset))
}

func TestAccountRepository_ResetRacesIncrements(t *testing.T) {
	assertResetRacesIncrements(t, NewAccountRepository(setupAccountTestDB(t)))
}

// assertResetRacesIncrements races period rollovers against increments on a
// stale account and checks that exactly one rollover wins and the final
// counter equals the increments accepted in the new period.
func assertResetRacesIncrements(t *testing.T, repo account.AccountRepository) {
	t.Helper()
	ctx := context.Background()
	now := may.Add(2 * time.Hour)

	acc := createTestAccount(t, repo, account.TierMeteredMid, 1000, 700, april)

	var accepted, resets, failures int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			ok, err := repo.ResetIfDue(ctx, acc.ID, may, now)
			switch {
			case err != nil:
				atomic.AddInt32(&failures, 1)
			case ok:
				atomic.AddInt32(&resets, 1)
			}
		}()
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := repo.IncrementIfAllowed(ctx, acc.ID, may)
			switch {
			case err != nil:
				atomic.AddInt32(&failures, 1)
			case ok:
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Zero(t, failures)
	assert.Equal(t, int32(1), resets, "exactly one rollover wins")

	found, err := repo.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, may.Equal(found.BillingPeriodStart))
	assert.Equal(t, int64(accepted), found.UsageCount, "no increment is lost or carried over from the old period")
}

func TestAccountRepository_FindDueIDs(t *testing.T) {
	repo := NewAccountRepository(setupAccountTestDB(t))
	ctx := context.Background()

	due := make(map[uuid.UUID]bool)
	for i := 0; i < 5; i++ {
		acc := createTestAccount(t, repo, account.TierMeteredLow, 100, 1, april)
		due[acc.ID] = true
	}
	createTestAccount(t, repo, account.TierMeteredLow, 100, 1, may)

	var seen []uuid.UUID
	after := uuid.Nil
	for {
		page, err := repo.FindDueIDs(ctx, may, after, 2)
		require.NoError(t, err)
		seen = append(seen, page...)
		if len(page) < 2 {
			break
		}
		after = page[len(page)-1]
	}

	require.Len(t, seen, 5)
	for i, id := range seen {
		assert.True(t, due[id])
		if i > 0 {
			assert.Less(t, seen[i-1].String(), id.String())
		}
	}
}

func TestAccountRepository_ForceReset(t *testing.T) {
	repo := NewAccountRepository(setupAccountTestDB(t))
	ctx := context.Background()
	now := may.Add(10 * 24 * time.Hour)

	a := createTestAccount(t, repo, account.TierMeteredLow, 100, 40, may)
	b := createTestAccount(t, repo, account.TierMeteredMid, 1000, 999, april)

	ok, err := repo.ForceReset(ctx, a.ID, may, now)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), found.UsageCount)

	ok, err = repo.ForceReset(ctx, uuid.New(), may, now)
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := repo.ForceResetAll(ctx, may, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	found, err = repo.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), found.UsageCount)
	assert.True(t, may.Equal(found.BillingPeriodStart))
}

func TestAccountRepository_Ping(t *testing.T) {
	repo := NewAccountRepository(setupAccountTestDB(t))
	assert.NoError(t, repo.Ping(context.Background()))
}
