package persistence

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/domain/shared"
)

// MemoryAccountStore is a process-local account store for development and tests.
// Each operation holds the mutex for its whole read-modify-write and does no I/O.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]account.Account
}

// NewMemoryAccountStore creates an empty in-memory account store
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[uuid.UUID]account.Account),
	}
}

// Create persists a newly provisioned account
func (s *MemoryAccountStore) Create(ctx context.Context, acc *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acc.ID]; exists {
		return shared.ErrAlreadyExists
	}
	stored := *acc
	stored.BillingPeriodStart = acc.BillingPeriodStart.UTC()
	s.accounts[acc.ID] = stored
	return nil
}

// FindByID retrieves a copy of the account
func (s *MemoryAccountStore) FindByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &acc, nil
}

// IncrementIfAllowed adds one to the counter when the account is current and has room
func (s *MemoryAccountStore) IncrementIfAllowed(ctx context.Context, id uuid.UUID, periodStart time.Time) (*account.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, account.NewStoreError("increment", false, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok || acc.BillingPeriodStart.Before(periodStart) || !acc.HasRoom() {
		return nil, false, nil
	}
	acc.UsageCount++
	acc.Touch(time.Now().UTC())
	s.accounts[id] = acc

	return &acc, true, nil
}

// ResetIfDue rolls the account into periodStart if it is anchored in an earlier period
func (s *MemoryAccountStore) ResetIfDue(ctx context.Context, id uuid.UUID, periodStart, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok || !acc.BillingPeriodStart.Before(periodStart) {
		return false, nil
	}
	s.accounts[id] = resetAccount(acc, periodStart, now)
	return true, nil
}

// FindDueIDs lists accounts anchored before periodStart in ID order, after the cursor
func (s *MemoryAccountStore) FindDueIDs(ctx context.Context, periodStart time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uuid.UUID, 0)
	for id, acc := range s.accounts {
		if acc.BillingPeriodStart.Before(periodStart) && bytes.Compare(id[:], after[:]) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ForceReset zeroes the counter regardless of its period
func (s *MemoryAccountStore) ForceReset(ctx context.Context, id uuid.UUID, periodStart, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return false, nil
	}
	s.accounts[id] = resetAccount(acc, periodStart, now)
	return true, nil
}

// ForceResetAll zeroes every counter
func (s *MemoryAccountStore) ForceResetAll(ctx context.Context, periodStart, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, acc := range s.accounts {
		s.accounts[id] = resetAccount(acc, periodStart, now)
	}
	return int64(len(s.accounts)), nil
}

// Ping always succeeds
func (s *MemoryAccountStore) Ping(ctx context.Context) error {
	return nil
}

func resetAccount(acc account.Account, periodStart, now time.Time) account.Account {
	now = now.UTC()
	acc.UsageCount = 0
	acc.BillingPeriodStart = periodStart.UTC()
	acc.LastReset = &now
	acc.Touch(now)
	return acc
}

// Ensure MemoryAccountStore implements the interface
var _ account.AccountRepository = (*MemoryAccountStore)(nil)
