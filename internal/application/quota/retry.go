package quota

import (
	"context"
	"errors"
	"time"

	"github.com/meterline/backend/internal/domain/account"
)

// isRetryable reports whether err is a store failure known not to have been applied
func isRetryable(err error) bool {
	var storeErr *account.StoreError
	return errors.As(err, &storeErr) && storeErr.Retryable
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// the attempt budget is spent. The n-th retry waits n*RetryDelay.
func withRetry(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !isRetryable(err) || attempt >= cfg.RetryAttempts {
			return err
		}

		timer := time.NewTimer(time.Duration(attempt) * cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
