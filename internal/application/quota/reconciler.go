package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// ReconcileResult is the outcome of reconciling a single account
type ReconcileResult struct {
	Reset   bool
	Account *account.Account
}

// SweepResult summarizes one fleet-wide reconciliation pass
type SweepResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Scanned    int           `json:"scanned"`
	ResetCount int           `json:"reset_count"`
	Failed     int           `json:"failed"`
}

// Reconciler rolls account counters over at billing period boundaries.
// Resets are conditional writes keyed on the stored period, so any number of
// reconcilers may race on the same account and exactly one of them wins.
type Reconciler struct {
	repo   account.AccountRepository
	logger *zap.Logger
	config Config
	opts   options
}

// NewReconciler creates a new Reconciler
func NewReconciler(repo account.AccountRepository, logger *zap.Logger, config Config, opts ...Option) *Reconciler {
	return newReconciler(repo, logger, config.normalized(), newOptions(opts))
}

func newReconciler(repo account.AccountRepository, logger *zap.Logger, config Config, opts options) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		repo:   repo,
		logger: logger,
		config: config,
		opts:   opts,
	}
}

// Reconcile resets the account if its period has ended and returns the current state
func (r *Reconciler) Reconcile(ctx context.Context, accountID uuid.UUID) (*ReconcileResult, error) {
	reset, err := r.resetIfDue(ctx, accountID, account.ResetTriggerLazy)
	if err != nil {
		return nil, err
	}

	var acc *account.Account
	err = withRetry(ctx, r.config, func(ctx context.Context) error {
		var findErr error
		acc, findErr = r.repo.FindByID(ctx, accountID)
		return findErr
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, account.ErrAccountNotFound
		}
		return nil, err
	}

	return &ReconcileResult{Reset: reset, Account: acc}, nil
}

// resetIfDue applies the conditional reset for one account and reports whether it won
func (r *Reconciler) resetIfDue(ctx context.Context, accountID uuid.UUID, trigger account.ResetTrigger) (bool, error) {
	now := r.opts.clock()
	periodStart := account.MonthStart(now)

	var reset bool
	err := withRetry(ctx, r.config, func(ctx context.Context) error {
		var resetErr error
		reset, resetErr = r.repo.ResetIfDue(ctx, accountID, periodStart, now)
		return resetErr
	})
	if err != nil {
		r.opts.recorder.RecordReconciliationFailure(ctx)
		r.logger.Warn("Failed to reconcile account",
			zap.String("account_id", accountID.String()),
			zap.String("trigger", string(trigger)),
			zap.Error(err))
		return false, &account.ReconciliationError{AccountID: accountID, Err: err}
	}

	if reset {
		r.opts.recorder.RecordReset(ctx, trigger, 1)
		r.logger.Info("Billing period rolled over",
			zap.String("account_id", accountID.String()),
			zap.String("trigger", string(trigger)),
			zap.Time("period_start", periodStart))
		r.publish(ctx, account.CycleResetEvent{
			AccountID:   accountID,
			PeriodStart: periodStart,
			Trigger:     trigger,
			OccurredAt:  now,
		})
	}
	return reset, nil
}

// ReconcileDue resets every account whose period has ended. Accounts are
// paged by ID so that ones which fail to reset are not revisited in the same
// pass. A failure on one account is logged and counted but never aborts the sweep.
func (r *Reconciler) ReconcileDue(ctx context.Context) (*SweepResult, error) {
	started := r.opts.clock()
	periodStart := account.MonthStart(started)
	result := &SweepResult{StartedAt: started}

	defer func() {
		result.Duration = r.opts.clock().Sub(started)
		r.opts.recorder.RecordSweep(ctx, result.Duration, result.ResetCount, result.Failed)
	}()

	after := uuid.Nil
	for {
		var ids []uuid.UUID
		err := withRetry(ctx, r.config, func(ctx context.Context) error {
			var findErr error
			ids, findErr = r.repo.FindDueIDs(ctx, periodStart, after, r.config.SweepPageSize)
			return findErr
		})
		if err != nil {
			r.logger.Error("Failed to list due accounts", zap.Error(err))
			return result, fmt.Errorf("list due accounts: %w", err)
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Scanned++

			reset, err := r.resetIfDue(ctx, id, account.ResetTriggerSweep)
			switch {
			case err != nil:
				result.Failed++
			case reset:
				result.ResetCount++
			}
		}

		if len(ids) < r.config.SweepPageSize {
			break
		}
		after = ids[len(ids)-1]
	}

	r.logger.Info("Reconciliation sweep completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("reset_count", result.ResetCount),
		zap.Int("failed", result.Failed))

	return result, nil
}

func (r *Reconciler) publish(ctx context.Context, event account.CycleResetEvent) {
	if err := r.opts.publisher.PublishCycleReset(ctx, event); err != nil {
		r.logger.Warn("Failed to publish cycle reset event",
			zap.String("account_id", event.AccountID.String()),
			zap.Error(err))
	}
}
