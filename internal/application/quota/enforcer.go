package quota

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Outcome classifies an increment attempt
type Outcome string

const (
	OutcomeAccepted            Outcome = "ACCEPTED"
	OutcomeQuotaExceeded       Outcome = "QUOTA_EXCEEDED"
	OutcomeDuplicateSuppressed Outcome = "DUPLICATE_SUPPRESSED"
)

// IncrementResult is the structured outcome of an increment attempt
type IncrementResult struct {
	AccountID    uuid.UUID
	Outcome      Outcome
	Accepted     bool
	UsageCount   int64
	MonthlyLimit int64
	Tier         account.Tier
	RetryAfter   time.Duration          // set for DUPLICATE_SUPPRESSED
	Snapshot     *account.UsageSnapshot // nil for DUPLICATE_SUPPRESSED
}

// Err returns the rejection as an error, or nil for accepted increments
func (r *IncrementResult) Err() error {
	switch r.Outcome {
	case OutcomeQuotaExceeded:
		return account.NewQuotaExceededError(r.AccountID, r.Tier, r.UsageCount, r.MonthlyLimit)
	case OutcomeDuplicateSuppressed:
		return &account.DuplicateSuppressedError{AccountID: r.AccountID, RetryAfter: r.RetryAfter}
	default:
		return nil
	}
}

func resultFromAccount(acc *account.Account, outcome Outcome) *IncrementResult {
	snap := acc.Snapshot()
	return &IncrementResult{
		AccountID:    acc.ID,
		Outcome:      outcome,
		Accepted:     outcome == OutcomeAccepted,
		UsageCount:   acc.UsageCount,
		MonthlyLimit: acc.MonthlyLimit,
		Tier:         acc.Tier,
		Snapshot:     &snap,
	}
}

// Enforcer admits consumption against an account's monthly limit.
// The limit check and the increment are a single conditional write in the
// store, so N concurrent attempts against K free slots admit exactly K.
type Enforcer struct {
	repo       account.AccountRepository
	reconciler *Reconciler
	logger     *zap.Logger
	config     Config
	opts       options
}

// NewEnforcer creates a new Enforcer
func NewEnforcer(repo account.AccountRepository, reconciler *Reconciler, logger *zap.Logger, config Config, opts ...Option) *Enforcer {
	return newEnforcer(repo, reconciler, logger, config.normalized(), newOptions(opts))
}

func newEnforcer(repo account.AccountRepository, reconciler *Reconciler, logger *zap.Logger, config Config, opts options) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		repo:       repo,
		reconciler: reconciler,
		logger:     logger,
		config:     config,
		opts:       opts,
	}
}

// TryIncrement consumes one unit from the account's current period.
//
// When the write is refused the account is re-read without mutation: a missing
// row yields ErrAccountNotFound, a row still anchored in a past period is
// reconciled and the write is retried once, anything else is reported as
// QUOTA_EXCEEDED with the current counter.
func (e *Enforcer) TryIncrement(ctx context.Context, accountID uuid.UUID) (*IncrementResult, error) {
	for attempt := 0; ; attempt++ {
		now := e.opts.clock()
		periodStart := account.MonthStart(now)

		var (
			updated *account.Account
			applied bool
		)
		err := withRetry(ctx, e.config, func(ctx context.Context) error {
			var incErr error
			updated, applied, incErr = e.repo.IncrementIfAllowed(ctx, accountID, periodStart)
			return incErr
		})
		if err != nil {
			return nil, err
		}
		if applied {
			return resultFromAccount(updated, OutcomeAccepted), nil
		}

		var current *account.Account
		err = withRetry(ctx, e.config, func(ctx context.Context) error {
			var findErr error
			current, findErr = e.repo.FindByID(ctx, accountID)
			return findErr
		})
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil, account.ErrAccountNotFound
			}
			return nil, err
		}

		due := current.IsDue(now)
		if attempt == 0 && (due || current.HasRoom()) {
			// Either the month turned after the lazy check or a reset landed
			// between the write and the read. One more try settles both.
			if due {
				if _, err := e.reconciler.resetIfDue(ctx, accountID, account.ResetTriggerLazy); err != nil {
					return nil, account.NewStoreError("reconcile", false, err)
				}
			}
			continue
		}
		if due {
			return nil, account.NewStoreError("increment", false, errors.New("billing period is stale"))
		}

		e.logger.Debug("Increment rejected",
			zap.String("account_id", accountID.String()),
			zap.Int64("usage_count", current.UsageCount),
			zap.Int64("monthly_limit", current.MonthlyLimit))
		return resultFromAccount(current, OutcomeQuotaExceeded), nil
	}
}
