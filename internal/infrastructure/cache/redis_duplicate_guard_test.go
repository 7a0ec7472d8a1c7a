//go:build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDuplicateGuard(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	prefix := "meter:test:" + uuid.NewString() + ":"
	guard := NewRedisDuplicateGuardWithClient(client, prefix, 500*time.Millisecond)
	defer guard.Close()

	ok, err := guard.Admit(ctx, "acc-1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Admit(ctx, "acc-1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = guard.Admit(ctx, "acc-2", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(600 * time.Millisecond)

	ok, err = guard.Admit(ctx, "acc-1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}
