package account

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountRepository is the durable store of quota state.
//
// IncrementIfAllowed and ResetIfDue must each be a single atomic conditional
// write against one account. Implementations return shared.ErrNotFound for
// missing accounts on lookups and wrap infrastructure failures in *StoreError.
type AccountRepository interface {
	// Create persists a newly provisioned account
	Create(ctx context.Context, account *Account) error

	// FindByID retrieves an account by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// IncrementIfAllowed adds one to the counter if and only if the account's
	// period starts at or after periodStart and the tier is unmetered or the
	// counter is below the limit. Returns the updated account, or nil with
	// false when the predicate did not match.
	IncrementIfAllowed(ctx context.Context, id uuid.UUID, periodStart time.Time) (*Account, bool, error)

	// ResetIfDue zeroes the counter and advances the period to periodStart if
	// the stored period starts before periodStart. Returns whether the write was applied.
	ResetIfDue(ctx context.Context, id uuid.UUID, periodStart, now time.Time) (bool, error)

	// FindDueIDs lists up to limit accounts whose period starts before
	// periodStart, ordered by ID and strictly after the given cursor.
	FindDueIDs(ctx context.Context, periodStart time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error)

	// ForceReset unconditionally zeroes one counter and anchors it at periodStart.
	// Returns false if the account does not exist.
	ForceReset(ctx context.Context, id uuid.UUID, periodStart, now time.Time) (bool, error)

	// ForceResetAll unconditionally zeroes every counter and returns the number of accounts reset
	ForceResetAll(ctx context.Context, periodStart, now time.Time) (int64, error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error
}

// DuplicateGuard suppresses increment attempts that arrive too soon after the
// last accepted attempt for the same account. It is best-effort.
type DuplicateGuard interface {
	// Admit returns false if an attempt for accountID was accepted less than
	// one window before now; otherwise it records now and returns true.
	Admit(ctx context.Context, accountID string, now time.Time) (bool, error)

	// Window returns the suppression window
	Window() time.Duration

	// Close releases resources held by the guard
	Close() error
}
