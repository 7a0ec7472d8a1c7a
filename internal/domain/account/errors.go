package account

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/shared"
)

// Error codes surfaced to callers
const (
	CodeAccountNotFound       = "ACCOUNT_NOT_FOUND"
	CodeQuotaExceeded         = "QUOTA_EXCEEDED"
	CodeDuplicateSuppressed   = "DUPLICATE_SUPPRESSED"
	CodeStoreUnavailable      = "STORE_UNAVAILABLE"
	CodeReconciliationFailure = "RECONCILIATION_FAILURE"
)

var (
	// ErrAccountNotFound is returned when the account does not exist. No state is mutated.
	ErrAccountNotFound = shared.NewDomainError(CodeAccountNotFound, "Account not found")

	// ErrStoreUnavailable is matched by every StoreError
	ErrStoreUnavailable = shared.NewDomainError(CodeStoreUnavailable, "Account store is unavailable")
)

// StoreError wraps an infrastructure failure of the account store.
// Retryable is set only when the store guarantees the operation was not applied.
type StoreError struct {
	Op        string
	Retryable bool
	Err       error
}

// NewStoreError creates a StoreError for the given operation
func NewStoreError(op string, retryable bool, err error) *StoreError {
	return &StoreError{Op: op, Retryable: retryable, Err: err}
}

// Error implements the error interface
func (e *StoreError) Error() string {
	return fmt.Sprintf("account store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying driver error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches ErrStoreUnavailable
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// QuotaExceededError represents a rejected increment on an exhausted account
type QuotaExceededError struct {
	AccountID    uuid.UUID
	Tier         Tier
	UsageCount   int64
	MonthlyLimit int64
	Message      string
}

// NewQuotaExceededError creates a new QuotaExceededError
func NewQuotaExceededError(accountID uuid.UUID, tier Tier, usageCount, monthlyLimit int64) *QuotaExceededError {
	return &QuotaExceededError{
		AccountID:    accountID,
		Tier:         tier,
		UsageCount:   usageCount,
		MonthlyLimit: monthlyLimit,
		Message: fmt.Sprintf(
			"Monthly quota exhausted: %d of %d used",
			usageCount, monthlyLimit,
		),
	}
}

// Error implements the error interface
func (e *QuotaExceededError) Error() string {
	return e.Message
}

// HTTPStatusCode returns the HTTP status code for this error (429 Too Many Requests)
func (e *QuotaExceededError) HTTPStatusCode() int {
	return http.StatusTooManyRequests
}

// DuplicateSuppressedError represents an increment attempt that arrived inside the suppression window
type DuplicateSuppressedError struct {
	AccountID  uuid.UUID
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *DuplicateSuppressedError) Error() string {
	return fmt.Sprintf("duplicate request suppressed, retry after %s", e.RetryAfter)
}

// HTTPStatusCode returns the HTTP status code for this error (429 Too Many Requests)
func (e *DuplicateSuppressedError) HTTPStatusCode() int {
	return http.StatusTooManyRequests
}

// ReconciliationError records a failed reset attempt for one account
type ReconciliationError struct {
	AccountID uuid.UUID
	Err       error
}

// Error implements the error interface
func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile account %s: %v", e.AccountID, e.Err)
}

// Unwrap returns the underlying error
func (e *ReconciliationError) Unwrap() error {
	return e.Err
}
