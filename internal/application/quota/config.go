package quota

import "time"

// Config contains tuning for the usage engine
type Config struct {
	// OperationTimeout bounds every store round-trip made on behalf of a caller
	OperationTimeout time.Duration

	// BulkTimeout bounds fleet-wide writes such as resetting every account
	BulkTimeout time.Duration

	// RetryAttempts is the total number of tries for a store call that failed
	// without being applied
	RetryAttempts int

	// RetryDelay is the base delay between tries; the n-th retry waits n*RetryDelay
	RetryDelay time.Duration

	// SweepPageSize is the number of due accounts fetched per sweep page
	SweepPageSize int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		OperationTimeout: 3 * time.Second,
		BulkTimeout:      30 * time.Minute,
		RetryAttempts:    3,
		RetryDelay:       50 * time.Millisecond,
		SweepPageSize:    500,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	if c.BulkTimeout <= 0 {
		c.BulkTimeout = d.BulkTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 1
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.SweepPageSize <= 0 {
		c.SweepPageSize = d.SweepPageSize
	}
	return c
}
