package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/domain/shared"
	goredis "github.com/redis/go-redis/v9"
)

// RedisAccountStore keeps quota state in Redis hashes and applies every
// conditional write as a Lua script, which Redis runs atomically.
//
// Accounts are also indexed in a sorted set scored by period start so the
// sweep can find due accounts without scanning the keyspace.
type RedisAccountStore struct {
	client    goredis.Cmdable
	keyPrefix string
}

// RedisAccountStoreOption configures RedisAccountStore
type RedisAccountStoreOption func(*RedisAccountStore)

// WithAccountKeyPrefix sets the Redis key prefix (default "meter:{accounts}:").
// Keep a hash tag in the prefix when running against Redis Cluster.
func WithAccountKeyPrefix(prefix string) RedisAccountStoreOption {
	return func(s *RedisAccountStore) { s.keyPrefix = prefix }
}

// NewRedisAccountStore creates a Redis-backed account store
func NewRedisAccountStore(client goredis.Cmdable, opts ...RedisAccountStoreOption) *RedisAccountStore {
	s := &RedisAccountStore{
		client:    client,
		keyPrefix: "meter:{accounts}:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisAccountStore) accountKey(id uuid.UUID) string {
	return s.keyPrefix + "account:" + id.String()
}

func (s *RedisAccountStore) periodIndexKey() string {
	return s.keyPrefix + "period_index"
}

// createScript inserts an account unless it already exists.
// KEYS[1] = account hash, KEYS[2] = period index
// ARGV = id, tier, monthly_limit, period_start, created_at
var createScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1],
    "tier", ARGV[2],
    "monthly_limit", ARGV[3],
    "usage_count", "0",
    "period_start", ARGV[4],
    "created_at", ARGV[5],
    "updated_at", ARGV[5])
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[1])
return 1
`)

// incrementScript adds one to the counter when the account is current and has room.
// KEYS[1] = account hash
// ARGV[1] = current period start (unix ms), ARGV[2] = unmetered tier name, ARGV[3] = now (unix ms)
//
// Returns the updated hash, or 0 when the predicate does not hold.
var incrementScript = goredis.NewScript(`
local period = redis.call("HGET", KEYS[1], "period_start")
if not period then
    return 0
end
if tonumber(period) < tonumber(ARGV[1]) then
    return 0
end
local usage = tonumber(redis.call("HGET", KEYS[1], "usage_count"))
if redis.call("HGET", KEYS[1], "tier") ~= ARGV[2] then
    local limit = tonumber(redis.call("HGET", KEYS[1], "monthly_limit"))
    if usage >= limit then
        return 0
    end
end
redis.call("HSET", KEYS[1], "usage_count", tostring(usage + 1), "updated_at", ARGV[3])
return redis.call("HGETALL", KEYS[1])
`)

// resetScript zeroes the counter and advances the period.
// KEYS[1] = account hash, KEYS[2] = period index
// ARGV[1] = new period start (unix ms), ARGV[2] = now (unix ms), ARGV[3] = id, ARGV[4] = "1" to reset only when due
var resetScript = goredis.NewScript(`
local period = redis.call("HGET", KEYS[1], "period_start")
if not period then
    return 0
end
if ARGV[4] == "1" and tonumber(period) >= tonumber(ARGV[1]) then
    return 0
end
redis.call("HSET", KEYS[1],
    "usage_count", "0",
    "period_start", ARGV[1],
    "last_reset", ARGV[2],
    "updated_at", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[1], ARGV[3])
return 1
`)

// Create persists a newly provisioned account
func (s *RedisAccountStore) Create(ctx context.Context, acc *account.Account) error {
	created, err := createScript.Run(ctx, s.client,
		[]string{s.accountKey(acc.ID), s.periodIndexKey()},
		acc.ID.String(), string(acc.Tier), acc.MonthlyLimit,
		acc.BillingPeriodStart.UnixMilli(), acc.CreatedAt.UnixMilli(),
	).Int64()
	if err != nil {
		return redisStoreError("create", err)
	}
	if created == 0 {
		return shared.ErrAlreadyExists
	}
	return nil
}

// FindByID retrieves an account by its ID
func (s *RedisAccountStore) FindByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(id)).Result()
	if err != nil {
		return nil, redisStoreError("find", err)
	}
	if len(fields) == 0 {
		return nil, shared.ErrNotFound
	}
	return accountFromHash(id, fields)
}

// IncrementIfAllowed adds one to the counter when the account is current and has room
func (s *RedisAccountStore) IncrementIfAllowed(ctx context.Context, id uuid.UUID, periodStart time.Time) (*account.Account, bool, error) {
	res, err := incrementScript.Run(ctx, s.client,
		[]string{s.accountKey(id)},
		periodStart.UnixMilli(), string(account.TierUnmetered), time.Now().UnixMilli(),
	).Result()
	if err != nil {
		return nil, false, redisStoreError("increment", err)
	}

	pairs, ok := res.([]interface{})
	if !ok {
		return nil, false, nil
	}
	fields := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, _ := pairs[i].(string)
		v, _ := pairs[i+1].(string)
		fields[k] = v
	}
	acc, err := accountFromHash(id, fields)
	if err != nil {
		return nil, false, err
	}
	return acc, true, nil
}

// ResetIfDue rolls the account into periodStart if it is anchored in an earlier period
func (s *RedisAccountStore) ResetIfDue(ctx context.Context, id uuid.UUID, periodStart, now time.Time) (bool, error) {
	return s.reset(ctx, "reset", id, periodStart, now, true)
}

// ForceReset zeroes the counter regardless of its period
func (s *RedisAccountStore) ForceReset(ctx context.Context, id uuid.UUID, periodStart, now time.Time) (bool, error) {
	return s.reset(ctx, "force_reset", id, periodStart, now, false)
}

func (s *RedisAccountStore) reset(ctx context.Context, op string, id uuid.UUID, periodStart, now time.Time, onlyIfDue bool) (bool, error) {
	flag := "0"
	if onlyIfDue {
		flag = "1"
	}
	n, err := resetScript.Run(ctx, s.client,
		[]string{s.accountKey(id), s.periodIndexKey()},
		periodStart.UnixMilli(), now.UnixMilli(), id.String(), flag,
	).Int64()
	if err != nil {
		return false, redisStoreError(op, err)
	}
	return n == 1, nil
}

// ForceResetAll zeroes every indexed account. Accounts are reset one script
// call at a time, so the operation as a whole is not atomic.
func (s *RedisAccountStore) ForceResetAll(ctx context.Context, periodStart, now time.Time) (int64, error) {
	members, err := s.client.ZRange(ctx, s.periodIndexKey(), 0, -1).Result()
	if err != nil {
		return 0, redisStoreError("force_reset_all", err)
	}

	var count int64
	for _, member := range members {
		id, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		ok, err := s.ForceReset(ctx, id, periodStart, now)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// FindDueIDs lists accounts anchored before periodStart in ID order, after the cursor.
// The index is ordered by period, so each page filters the full due set in memory.
func (s *RedisAccountStore) FindDueIDs(ctx context.Context, periodStart time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	members, err := s.client.ZRangeByScore(ctx, s.periodIndexKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(periodStart.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, redisStoreError("find_due", err)
	}

	cursor := after.String()
	due := make([]string, 0, len(members))
	for _, m := range members {
		if m > cursor {
			due = append(due, m)
		}
	}
	sort.Strings(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	ids := make([]uuid.UUID, 0, len(due))
	for _, m := range due {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Ping checks Redis is reachable
func (s *RedisAccountStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return redisStoreError("ping", err)
	}
	return nil
}

func accountFromHash(id uuid.UUID, fields map[string]string) (*account.Account, error) {
	parseInt := func(key string) (int64, error) {
		v, ok := fields[key]
		if !ok || v == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("account %s: field %s: %w", id, key, err)
		}
		return n, nil
	}

	values := make(map[string]int64, 6)
	for _, key := range []string{"monthly_limit", "usage_count", "period_start", "last_reset", "created_at", "updated_at"} {
		n, err := parseInt(key)
		if err != nil {
			return nil, account.NewStoreError("decode", false, err)
		}
		values[key] = n
	}

	acc := &account.Account{
		BaseEntity: shared.BaseEntity{
			ID:        id,
			CreatedAt: time.UnixMilli(values["created_at"]).UTC(),
			UpdatedAt: time.UnixMilli(values["updated_at"]).UTC(),
		},
		Tier:               account.Tier(fields["tier"]),
		MonthlyLimit:       values["monthly_limit"],
		UsageCount:         values["usage_count"],
		BillingPeriodStart: time.UnixMilli(values["period_start"]).UTC(),
	}
	if values["last_reset"] != 0 {
		lastReset := time.UnixMilli(values["last_reset"]).UTC()
		acc.LastReset = &lastReset
	}
	return acc, nil
}

// redisStoreError wraps a Redis failure. Only replies that Redis sends before
// executing a command are treated as safe to retry.
func redisStoreError(op string, err error) error {
	if errors.Is(err, goredis.Nil) {
		return shared.ErrNotFound
	}
	msg := err.Error()
	retryable := strings.HasPrefix(msg, "LOADING") || strings.HasPrefix(msg, "TRYAGAIN") || strings.HasPrefix(msg, "CLUSTERDOWN")
	return account.NewStoreError(op, retryable, err)
}

// Ensure RedisAccountStore implements the interface
var _ account.AccountRepository = (*RedisAccountStore)(nil)
