package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/meterline/backend/internal/domain/account"
	"github.com/redis/go-redis/v9"
)

// RedisDuplicateGuard implements account.DuplicateGuard with one expiring key
// per account, which gives suppression shared by every instance.
// The window is measured by Redis key expiry rather than the caller's clock.
type RedisDuplicateGuard struct {
	client    *redis.Client
	keyPrefix string
	window    time.Duration
	ownClient bool
}

// NewRedisDuplicateGuard connects to Redis and creates a guard that owns the client
func NewRedisDuplicateGuard(cfg RedisConfig, window time.Duration) (*RedisDuplicateGuard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	g := NewRedisDuplicateGuardWithClient(client, "", window)
	g.ownClient = true
	return g, nil
}

// NewRedisDuplicateGuardWithClient creates a guard over a shared Redis client
func NewRedisDuplicateGuardWithClient(client *redis.Client, keyPrefix string, window time.Duration) *RedisDuplicateGuard {
	if keyPrefix == "" {
		keyPrefix = "meter:dupguard:"
	}
	return &RedisDuplicateGuard{
		client:    client,
		keyPrefix: keyPrefix,
		window:    window,
	}
}

// Admit sets the account's key only if it does not already exist
func (g *RedisDuplicateGuard) Admit(ctx context.Context, accountID string, now time.Time) (bool, error) {
	if g.window <= 0 {
		return true, nil
	}

	ok, err := g.client.SetNX(ctx, g.keyPrefix+accountID, strconv.FormatInt(now.UnixMilli(), 10), g.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record attempt: %w", err)
	}
	return ok, nil
}

// Window returns the suppression window
func (g *RedisDuplicateGuard) Window() time.Duration {
	return g.window
}

// Close closes the Redis client if the guard created it
func (g *RedisDuplicateGuard) Close() error {
	if !g.ownClient {
		return nil
	}
	return g.client.Close()
}

// Ensure RedisDuplicateGuard implements DuplicateGuard
var _ account.DuplicateGuard = (*RedisDuplicateGuard)(nil)
