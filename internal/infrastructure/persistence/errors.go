package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// SQLSTATE codes that guarantee the statement was rolled back
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// classifyError maps a driver error onto the account store's error taxonomy.
// Only failures where the server guarantees nothing was applied are marked
// retryable; a lost connection after the write was sent is not.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return account.NewStoreError(op, false, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return account.NewStoreError(op, true, err)
		case sqlStateUniqueViolation:
			return shared.ErrAlreadyExists
		}
		return account.NewStoreError(op, false, err)
	}

	return account.NewStoreError(op, pgconn.SafeToRetry(err), err)
}
