package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/infrastructure/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seedAccount(t *testing.T, store *persistence.MemoryAccountStore, usage int64, anchoredAt time.Time) uuid.UUID {
	t.Helper()
	acc, err := account.NewAccount(account.TierMeteredLow, 100, anchoredAt)
	require.NoError(t, err)
	acc.UsageCount = usage
	require.NoError(t, store.Create(context.Background(), acc))
	return acc.ID
}

func TestReconciler_Reconcile(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryAccountStore()
	publisher := &recordingPublisher{}
	reconciler := NewReconciler(store, zap.NewNop(), testConfig(),
		WithClock(func() time.Time { return april10 }),
		WithEventPublisher(publisher))

	stale := seedAccount(t, store, 80, march15)
	current := seedAccount(t, store, 80, april10)

	result, err := reconciler.Reconcile(ctx, stale)
	require.NoError(t, err)
	assert.True(t, result.Reset)
	assert.Equal(t, int64(0), result.Account.UsageCount)
	assert.Equal(t, april1, result.Account.BillingPeriodStart)

	result, err = reconciler.Reconcile(ctx, stale)
	require.NoError(t, err)
	assert.False(t, result.Reset)

	result, err = reconciler.Reconcile(ctx, current)
	require.NoError(t, err)
	assert.False(t, result.Reset)
	assert.Equal(t, int64(80), result.Account.UsageCount)

	_, err = reconciler.Reconcile(ctx, uuid.New())
	assert.ErrorIs(t, err, account.ErrAccountNotFound)

	require.Len(t, publisher.resets, 1)
	assert.Equal(t, stale, publisher.resets[0].AccountID)
}

func TestReconciler_ConcurrentReconcileResetsOnce(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryAccountStore()
	recorder := newRecordingRecorder()
	reconciler := NewReconciler(store, zap.NewNop(), testConfig(),
		WithClock(func() time.Time { return april10 }),
		WithRecorder(recorder))

	id := seedAccount(t, store, 99, march15)

	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		calls = 16
	)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := reconciler.Reconcile(ctx, id)
			if assert.NoError(t, err) && result.Reset {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int64(1), recorder.resets[account.ResetTriggerLazy])
}

func TestReconciler_ReconcileDue(t *testing.T) {
	ctx := context.Background()

	t.Run("resets every due account across pages", func(t *testing.T) {
		store := persistence.NewMemoryAccountStore()
		recorder := newRecordingRecorder()
		cfg := testConfig()
		cfg.SweepPageSize = 2
		reconciler := NewReconciler(store, zap.NewNop(), cfg,
			WithClock(func() time.Time { return april10 }),
			WithRecorder(recorder))

		due := make([]uuid.UUID, 0, 5)
		for i := 0; i < 5; i++ {
			due = append(due, seedAccount(t, store, int64(i+1), march15))
		}
		current := seedAccount(t, store, 7, april10)

		result, err := reconciler.ReconcileDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, result.Scanned)
		assert.Equal(t, 5, result.ResetCount)
		assert.Equal(t, 0, result.Failed)
		assert.Equal(t, april10, result.StartedAt)

		for _, id := range due {
			acc, err := store.FindByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(0), acc.UsageCount)
			assert.Equal(t, april1, acc.BillingPeriodStart)
		}
		acc, err := store.FindByID(ctx, current)
		require.NoError(t, err)
		assert.Equal(t, int64(7), acc.UsageCount)

		// Nothing left to do on a second pass
		result, err = reconciler.ReconcileDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Scanned)
		assert.Equal(t, 0, result.ResetCount)

		assert.Equal(t, int64(5), recorder.resets[account.ResetTriggerSweep])
		assert.Equal(t, 2, recorder.sweeps)
	})

	t.Run("a failing account does not abort the sweep", func(t *testing.T) {
		repo := new(mockAccountRepository)
		recorder := newRecordingRecorder()
		ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

		repo.On("FindDueIDs", mock.Anything, april1, uuid.Nil, 500).Return(ids, nil)
		repo.On("ResetIfDue", mock.Anything, ids[0], april1, april10).Return(true, nil)
		repo.On("ResetIfDue", mock.Anything, ids[1], april1, april10).
			Return(false, account.NewStoreError("reset", false, errors.New("lock timeout")))
		repo.On("ResetIfDue", mock.Anything, ids[2], april1, april10).Return(true, nil)

		reconciler := NewReconciler(repo, zap.NewNop(), testConfig(),
			WithClock(func() time.Time { return april10 }),
			WithRecorder(recorder))

		result, err := reconciler.ReconcileDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Scanned)
		assert.Equal(t, 2, result.ResetCount)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, 1, recorder.failures)
		repo.AssertExpectations(t)
	})

	t.Run("listing failure is returned", func(t *testing.T) {
		repo := new(mockAccountRepository)
		repo.On("FindDueIDs", mock.Anything, april1, uuid.Nil, 500).
			Return(nil, account.NewStoreError("find_due", false, errors.New("connection refused")))

		reconciler := NewReconciler(repo, zap.NewNop(), testConfig(),
			WithClock(func() time.Time { return april10 }))

		result, err := reconciler.ReconcileDue(ctx)
		assert.ErrorIs(t, err, account.ErrStoreUnavailable)
		require.NotNil(t, result)
		assert.Equal(t, 0, result.Scanned)
	})

	t.Run("cancelled context stops the sweep", func(t *testing.T) {
		store := persistence.NewMemoryAccountStore()
		seedAccount(t, store, 1, march15)

		reconciler := NewReconciler(store, zap.NewNop(), testConfig(),
			WithClock(func() time.Time { return april10 }))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := reconciler.ReconcileDue(cancelled)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
