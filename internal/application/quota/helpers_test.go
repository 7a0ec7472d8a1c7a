package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/stretchr/testify/mock"
)

var (
	april10 = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	april1  = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	march15 = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	may1    = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
)

// testClock is a settable clock shared by the service and the test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingRecorder counts everything reported to it
type recordingRecorder struct {
	mu         sync.Mutex
	increments map[string]int
	resets     map[account.ResetTrigger]int64
	failures   int
	sweeps     int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{
		increments: make(map[string]int),
		resets:     make(map[account.ResetTrigger]int64),
	}
}

func (r *recordingRecorder) RecordIncrement(_ context.Context, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.increments[outcome]++
}

func (r *recordingRecorder) RecordReset(_ context.Context, trigger account.ResetTrigger, count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets[trigger] += count
}

func (r *recordingRecorder) RecordReconciliationFailure(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

func (r *recordingRecorder) RecordSweep(context.Context, time.Duration, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps++
}

// recordingPublisher keeps published events in order
type recordingPublisher struct {
	mu       sync.Mutex
	exceeded []account.QuotaExceededEvent
	resets   []account.CycleResetEvent
	err      error
}

func (p *recordingPublisher) PublishQuotaExceeded(_ context.Context, event account.QuotaExceededEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exceeded = append(p.exceeded, event)
	return p.err
}

func (p *recordingPublisher) PublishCycleReset(_ context.Context, event account.CycleResetEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, event)
	return p.err
}

// mockAccountRepository is a mock implementation of account.AccountRepository
type mockAccountRepository struct {
	mock.Mock
}

func (m *mockAccountRepository) Create(ctx context.Context, acc *account.Account) error {
	args := m.Called(ctx, acc)
	return args.Error(0)
}

func (m *mockAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Account), args.Error(1)
}

func (m *mockAccountRepository) IncrementIfAllowed(ctx context.Context, id uuid.UUID, periodStart time.Time) (*account.Account, bool, error) {
	args := m.Called(ctx, id, periodStart)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*account.Account), args.Bool(1), args.Error(2)
}

func (m *mockAccountRepository) ResetIfDue(ctx context.Context, id uuid.UUID, periodStart, now time.Time) (bool, error) {
	args := m.Called(ctx, id, periodStart, now)
	return args.Bool(0), args.Error(1)
}

func (m *mockAccountRepository) FindDueIDs(ctx context.Context, periodStart time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, periodStart, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *mockAccountRepository) ForceReset(ctx context.Context, id uuid.UUID, periodStart, now time.Time) (bool, error) {
	args := m.Called(ctx, id, periodStart, now)
	return args.Bool(0), args.Error(1)
}

func (m *mockAccountRepository) ForceResetAll(ctx context.Context, periodStart, now time.Time) (int64, error) {
	args := m.Called(ctx, periodStart, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAccountRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// stubGuard returns fixed answers
type stubGuard struct {
	admit  bool
	err    error
	window time.Duration
}

func (g *stubGuard) Admit(context.Context, string, time.Time) (bool, error) {
	return g.admit, g.err
}

func (g *stubGuard) Window() time.Duration { return g.window }

func (g *stubGuard) Close() error { return nil }

func testConfig() Config {
	return Config{
		OperationTimeout: time.Second,
		RetryAttempts:    3,
		RetryDelay:       time.Millisecond,
		SweepPageSize:    500,
	}
}
