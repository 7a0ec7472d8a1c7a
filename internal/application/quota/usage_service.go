package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/domain/shared"
	"github.com/meterline/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// RegisterAccountInput contains input for provisioning an account
type RegisterAccountInput struct {
	Tier         string
	MonthlyLimit *int64 // nil selects the tier default
}

// ResetResult reports an administrative reset
type ResetResult struct {
	ResetCount  int64     `json:"reset_count"`
	PeriodStart time.Time `json:"period_start"`
}

// UsageService is the entry point for usage reads and consumption events.
// An increment passes the duplicate guard, then lazy reconciliation, then the
// enforcer's conditional write.
type UsageService struct {
	repo       account.AccountRepository
	guard      account.DuplicateGuard
	reconciler *Reconciler
	enforcer   *Enforcer
	logger     *zap.Logger
	config     Config
	opts       options
}

// NewUsageService creates a new UsageService. guard may be nil, in which case
// no duplicate suppression is applied.
func NewUsageService(
	repo account.AccountRepository,
	guard account.DuplicateGuard,
	logger *zap.Logger,
	config Config,
	opts ...Option,
) *UsageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.normalized()
	o := newOptions(opts)
	reconciler := newReconciler(repo, logger, config, o)

	return &UsageService{
		repo:       repo,
		guard:      guard,
		reconciler: reconciler,
		enforcer:   newEnforcer(repo, reconciler, logger, config, o),
		logger:     logger,
		config:     config,
		opts:       o,
	}
}

// Reconciler returns the reconciler shared by this service
func (s *UsageService) Reconciler() *Reconciler {
	return s.reconciler
}

// ReconcileDue runs a fleet-wide reconciliation sweep
func (s *UsageService) ReconcileDue(ctx context.Context) (*SweepResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "reconcile_due")
	defer span.End()

	result, err := s.reconciler.ReconcileDue(ctx)
	if result != nil {
		telemetry.SetSweepResult(span, result.Scanned, result.ResetCount, result.Failed)
	}
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return result, err
}

// GetUsage returns the account's current usage, rolling the counter over first if its period has ended
func (s *UsageService) GetUsage(ctx context.Context, accountID uuid.UUID) (*account.UsageSnapshot, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "get",
		telemetry.WithAccountID(accountID))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	result, err := s.reconciler.Reconcile(ctx, accountID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, s.translate(err)
	}

	snap := result.Account.Snapshot()
	return &snap, nil
}

// IncrementUsage records one consumption event for the account.
// Rejections for quota and duplicates are returned as results, not errors.
func (s *UsageService) IncrementUsage(ctx context.Context, accountID uuid.UUID) (*IncrementResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "increment",
		telemetry.WithAccountID(accountID))
	defer span.End()

	if accountID == uuid.Nil {
		return nil, account.ErrAccountNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	if s.guard != nil {
		admitted, err := s.guard.Admit(ctx, accountID.String(), s.opts.clock())
		if err != nil {
			// Suppression is best-effort; a guard outage must not block consumption.
			s.logger.Warn("Duplicate guard unavailable, admitting request",
				zap.String("account_id", accountID.String()),
				zap.Error(err))
		} else if !admitted {
			s.opts.recorder.RecordIncrement(ctx, string(OutcomeDuplicateSuppressed))
			telemetry.SetOutcome(span, string(OutcomeDuplicateSuppressed))
			return &IncrementResult{
				AccountID:  accountID,
				Outcome:    OutcomeDuplicateSuppressed,
				RetryAfter: s.guard.Window(),
			}, nil
		}
	}

	// Failure here does not block the increment: the enforcer's period
	// predicate refuses to write into a stale row and reconciles on its own.
	_, _ = s.reconciler.resetIfDue(ctx, accountID, account.ResetTriggerLazy)

	result, err := s.enforcer.TryIncrement(ctx, accountID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, s.translate(err)
	}

	s.opts.recorder.RecordIncrement(ctx, string(result.Outcome))
	telemetry.SetOutcome(span, string(result.Outcome))

	if result.Outcome == OutcomeQuotaExceeded {
		s.logger.Info("Quota exceeded",
			zap.String("account_id", accountID.String()),
			zap.String("tier", result.Tier.String()),
			zap.Int64("usage_count", result.UsageCount),
			zap.Int64("monthly_limit", result.MonthlyLimit))
		s.publishQuotaExceeded(ctx, result)
	}

	return result, nil
}

// ResetUsage unconditionally zeroes one account's counter and anchors it at the current month
func (s *UsageService) ResetUsage(ctx context.Context, accountID uuid.UUID) (*ResetResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "reset",
		telemetry.WithAccountID(accountID))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	now := s.opts.clock()
	periodStart := account.MonthStart(now)

	var found bool
	err := withRetry(ctx, s.config, func(ctx context.Context) error {
		var resetErr error
		found, resetErr = s.repo.ForceReset(ctx, accountID, periodStart, now)
		return resetErr
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, s.translate(err)
	}
	if !found {
		return nil, account.ErrAccountNotFound
	}

	s.opts.recorder.RecordReset(ctx, account.ResetTriggerAdmin, 1)
	s.logger.Info("Usage reset by administrator", zap.String("account_id", accountID.String()))
	s.publishCycleReset(ctx, account.CycleResetEvent{
		AccountID:   accountID,
		PeriodStart: periodStart,
		Trigger:     account.ResetTriggerAdmin,
		OccurredAt:  now,
	})

	return &ResetResult{ResetCount: 1, PeriodStart: periodStart}, nil
}

// ResetAllUsage unconditionally zeroes every account's counter
func (s *UsageService) ResetAllUsage(ctx context.Context) (*ResetResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "reset_all")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.config.BulkTimeout)
	defer cancel()

	now := s.opts.clock()
	periodStart := account.MonthStart(now)

	var count int64
	err := withRetry(ctx, s.config, func(ctx context.Context) error {
		var resetErr error
		count, resetErr = s.repo.ForceResetAll(ctx, periodStart, now)
		return resetErr
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, s.translate(err)
	}

	s.opts.recorder.RecordReset(ctx, account.ResetTriggerAdmin, count)
	telemetry.SetResetCount(span, count)
	s.logger.Info("All usage reset by administrator", zap.Int64("reset_count", count))

	return &ResetResult{ResetCount: count, PeriodStart: periodStart}, nil
}

// RegisterAccount provisions a new account with an empty counter
func (s *UsageService) RegisterAccount(ctx context.Context, input RegisterAccountInput) (*account.UsageSnapshot, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "register")
	defer span.End()

	tier, err := account.ParseTier(input.Tier)
	if err != nil {
		return nil, err
	}
	limit := tier.DefaultMonthlyLimit()
	if input.MonthlyLimit != nil {
		limit = *input.MonthlyLimit
	}

	acc, err := account.NewAccount(tier, limit, s.opts.clock())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	if err := s.repo.Create(ctx, acc); err != nil {
		telemetry.RecordError(span, err)
		return nil, s.translate(err)
	}

	s.logger.Info("Account registered",
		zap.String("account_id", acc.ID.String()),
		zap.String("tier", tier.String()),
		zap.Int64("monthly_limit", limit))

	snap := acc.Snapshot()
	return &snap, nil
}

// translate maps infrastructure failures onto the engine's error taxonomy
func (s *UsageService) translate(err error) error {
	switch {
	case errors.Is(err, account.ErrAccountNotFound), errors.Is(err, shared.ErrNotFound):
		return account.ErrAccountNotFound
	case errors.Is(err, account.ErrStoreUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return account.NewStoreError("timeout", false, err)
	}

	var reconcileErr *account.ReconciliationError
	if errors.As(err, &reconcileErr) {
		return account.NewStoreError("reconcile", false, err)
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return fmt.Errorf("usage engine: %w", err)
}

func (s *UsageService) publishQuotaExceeded(ctx context.Context, result *IncrementResult) {
	event := account.QuotaExceededEvent{
		AccountID:    result.AccountID,
		Tier:         result.Tier,
		UsageCount:   result.UsageCount,
		MonthlyLimit: result.MonthlyLimit,
		OccurredAt:   s.opts.clock(),
	}
	if err := s.opts.publisher.PublishQuotaExceeded(ctx, event); err != nil {
		s.logger.Warn("Failed to publish quota exceeded event",
			zap.String("account_id", result.AccountID.String()),
			zap.Error(err))
	}
}

func (s *UsageService) publishCycleReset(ctx context.Context, event account.CycleResetEvent) {
	if err := s.opts.publisher.PublishCycleReset(ctx, event); err != nil {
		s.logger.Warn("Failed to publish cycle reset event",
			zap.String("account_id", event.AccountID.String()),
			zap.Error(err))
	}
}
