package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meterline/backend/internal/application/quota"
	"go.uber.org/zap"
)

// Sweeper runs one fleet-wide reconciliation pass
type Sweeper interface {
	ReconcileDue(ctx context.Context) (*quota.SweepResult, error)
}

// ReconciliationSchedulerConfig holds configuration for the reconciliation scheduler
type ReconciliationSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// Interval is the time between sweeps. The first sweep runs on Start.
	Interval time.Duration

	// SweepTimeout is the maximum time for a single sweep
	SweepTimeout time.Duration
}

// DefaultReconciliationSchedulerConfig returns default configuration
func DefaultReconciliationSchedulerConfig() ReconciliationSchedulerConfig {
	return ReconciliationSchedulerConfig{
		Enabled:      true,
		Interval:     24 * time.Hour,
		SweepTimeout: 30 * time.Minute,
	}
}

// Validate checks the configuration
func (c ReconciliationSchedulerConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.SweepTimeout <= 0 {
		return fmt.Errorf("%w: sweep timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Status describes the scheduler for operators
type Status struct {
	Running          bool               `json:"running"`
	Enabled          bool               `json:"enabled"`
	Interval         string             `json:"interval"`
	Sweeping         bool               `json:"sweeping"`
	NextFireEstimate *time.Time         `json:"next_fire_estimate,omitempty"`
	LastRunAt        *time.Time         `json:"last_run_at,omitempty"`
	LastResult       *quota.SweepResult `json:"last_result,omitempty"`
	LastError        string             `json:"last_error,omitempty"`
}

// ReconciliationScheduler periodically resets accounts whose billing period
// has ended, so that idle accounts are kept current without traffic.
// It is owned by the caller; nothing runs until Start and Stop waits for
// an in-flight sweep.
type ReconciliationScheduler struct {
	sweeper Sweeper
	logger  *zap.Logger
	config  ReconciliationSchedulerConfig
	clock   func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	isRunning  bool
	sweeping   bool
	nextFire   time.Time
	lastRunAt  time.Time
	lastResult *quota.SweepResult
	lastErr    error
}

// NewReconciliationScheduler creates a new reconciliation scheduler
func NewReconciliationScheduler(
	sweeper Sweeper,
	logger *zap.Logger,
	config ReconciliationSchedulerConfig,
) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{
		sweeper: sweeper,
		logger:  logger,
		config:  config,
		clock:   time.Now,
	}
}

// Start runs a sweep immediately and then once every interval until ctx is
// cancelled or Stop is called
func (s *ReconciliationScheduler) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Reconciliation scheduler is disabled")
		return nil
	}
	s.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Reconciliation scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("sweep_timeout", s.config.SweepTimeout),
	)

	return nil
}

// Stop halts future sweeps and waits for an in-flight sweep, bounded by ctx
func (s *ReconciliationScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.nextFire = time.Time{}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Reconciliation scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Reconciliation scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *ReconciliationScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		// Failures are logged and recorded in Status; the next firing retries.
		_, _ = s.execute(ctx)

		next := s.clock().Add(s.config.Interval)
		s.mu.Lock()
		s.nextFire = next
		s.mu.Unlock()

		s.logger.Debug("Next reconciliation sweep scheduled", zap.Time("next_run", next))

		timer := time.NewTimer(s.config.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Debug("Reconciliation loop stopping")
			return
		case <-timer.C:
		}
	}
}

// execute runs one sweep unless another is already running
func (s *ReconciliationScheduler) execute(ctx context.Context) (*quota.SweepResult, error) {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		return nil, ErrSweepInProgress
	}
	s.sweeping = true
	s.mu.Unlock()

	s.logger.Info("Starting reconciliation sweep")

	sweepCtx, cancel := context.WithTimeout(ctx, s.config.SweepTimeout)
	defer cancel()

	startTime := s.clock()
	result, err := s.sweeper.ReconcileDue(sweepCtx)

	s.mu.Lock()
	s.sweeping = false
	s.lastRunAt = startTime
	s.lastResult = result
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Reconciliation sweep failed",
			zap.Duration("duration", s.clock().Sub(startTime)),
			zap.Error(err),
		)
		return result, err
	}

	s.logger.Info("Reconciliation sweep completed",
		zap.Duration("duration", result.Duration),
		zap.Int("scanned", result.Scanned),
		zap.Int("reset_count", result.ResetCount),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// TriggerNow runs a sweep synchronously outside the regular schedule
func (s *ReconciliationScheduler) TriggerNow(ctx context.Context) (*quota.SweepResult, error) {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil, ErrSchedulerNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.logger.Info("Triggering immediate reconciliation sweep")
	return s.execute(ctx)
}

// Status returns a snapshot of the scheduler state
func (s *ReconciliationScheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:    s.isRunning,
		Enabled:    s.config.Enabled,
		Interval:   s.config.Interval.String(),
		Sweeping:   s.sweeping,
		LastResult: s.lastResult,
	}
	if s.isRunning && !s.nextFire.IsZero() {
		next := s.nextFire
		status.NextFireEstimate = &next
	}
	if !s.lastRunAt.IsZero() {
		last := s.lastRunAt
		status.LastRunAt = &last
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

// IsRunning returns whether the scheduler is running
func (s *ReconciliationScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
