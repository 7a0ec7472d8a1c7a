package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// DuplicateGuardFactory creates duplicate guards based on configuration
type DuplicateGuardFactory struct {
	quotaConfig           config.QuotaConfig
	redisConfig           config.RedisConfig
	redisClient           *redis.Client
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// DuplicateGuardFactoryOption is a functional option for configuring the factory
type DuplicateGuardFactoryOption func(*DuplicateGuardFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) DuplicateGuardFactoryOption {
	return func(f *DuplicateGuardFactory) {
		f.logger = logger
	}
}

// WithRedisClient makes Redis guards share an existing client instead of dialing their own
func WithRedisClient(client *redis.Client) DuplicateGuardFactoryOption {
	return func(f *DuplicateGuardFactory) {
		f.redisClient = client
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory guard when Redis is unavailable.
// Default is true.
func WithInMemoryFallback(allow bool) DuplicateGuardFactoryOption {
	return func(f *DuplicateGuardFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewDuplicateGuardFactory creates a new factory
func NewDuplicateGuardFactory(quotaCfg config.QuotaConfig, redisCfg config.RedisConfig, opts ...DuplicateGuardFactoryOption) *DuplicateGuardFactory {
	f := &DuplicateGuardFactory{
		quotaConfig:           quotaCfg,
		redisConfig:           redisCfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateRedisGuard creates a Redis-backed guard
func (f *DuplicateGuardFactory) CreateRedisGuard() (*RedisDuplicateGuard, error) {
	if f.redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping Redis for duplicate guard: %w", err)
		}
		return NewRedisDuplicateGuardWithClient(f.redisClient, "", f.quotaConfig.DuplicateWindow), nil
	}

	guard, err := NewRedisDuplicateGuard(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	}, f.quotaConfig.DuplicateWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis duplicate guard: %w", err)
	}
	return guard, nil
}

// CreateInMemoryGuard creates a per-process guard
func (f *DuplicateGuardFactory) CreateInMemoryGuard() *InMemoryDuplicateGuard {
	return NewInMemoryDuplicateGuard(InMemoryDuplicateGuardConfig{
		Window:     f.quotaConfig.DuplicateWindow,
		MaxEntries: f.quotaConfig.GuardMaxEntries,
		GCMultiple: f.quotaConfig.GuardGCMultiple,
	})
}

// CreateGuard creates the configured guard. When Redis is selected but
// unreachable it falls back to the in-memory guard if allowed.
func (f *DuplicateGuardFactory) CreateGuard() (account.DuplicateGuard, error) {
	if f.quotaConfig.DuplicateGuard != "redis" {
		f.logger.Info("using in-memory duplicate guard",
			zap.Duration("window", f.quotaConfig.DuplicateWindow))
		return f.CreateInMemoryGuard(), nil
	}

	guard, err := f.CreateRedisGuard()
	if err == nil {
		f.logger.Info("using Redis duplicate guard",
			zap.Duration("window", f.quotaConfig.DuplicateWindow))
		return guard, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for duplicate guard but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory duplicate guard. "+
		"Suppression will only apply per instance.",
		zap.Error(err),
	)
	return f.CreateInMemoryGuard(), nil
}
