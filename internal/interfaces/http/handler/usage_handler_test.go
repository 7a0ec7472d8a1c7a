package handler

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/interfaces/http/dto"
	"github.com/meterline/backend/internal/interfaces/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageHandler_GetUsage(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	acc := env.register(t, "metered-low", nil)

	w := env.do(t, http.MethodGet, "/api/v1/usage", nil, bearer(acc.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)

	var usage dto.UsageResponse
	decodeData(t, w, &usage)
	assert.Equal(t, acc.Usage.AccountID, usage.AccountID)
	assert.Equal(t, int64(0), usage.UsageCount)
	assert.Equal(t, int64(100), usage.MonthlyLimit)
	assert.Equal(t, int64(100), usage.Remaining)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), usage.BillingPeriodStart)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), usage.BillingPeriodEnd)
}

func TestUsageHandler_RequiresToken(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	w := env.do(t, http.MethodGet, "/api/v1/usage", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/usage/increment", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUsageHandler_Increment(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	acc := env.register(t, "metered-low", int64Ptr(2))

	for i := 1; i <= 2; i++ {
		w := env.do(t, http.MethodPost, "/api/v1/usage/increment", nil, bearer(acc.AccessToken))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp dto.IncrementResponse
		decodeData(t, w, &resp)
		assert.Equal(t, "ACCEPTED", resp.Outcome)
		require.NotNil(t, resp.Usage)
		assert.Equal(t, int64(i), resp.Usage.UsageCount)

		usageToken := w.Header().Get(middleware.UsageTokenHeader)
		require.NotEmpty(t, usageToken)
		claims, err := env.jwt.ValidateUsageToken(usageToken)
		require.NoError(t, err)
		assert.Equal(t, int64(i), claims.Usage.UsageCount)
	}

	w := env.do(t, http.MethodPost, "/api/v1/usage/increment", nil, bearer(acc.AccessToken))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Empty(t, w.Header().Get(middleware.UsageTokenHeader))

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeQuotaExceeded, resp.Error.Code)

	var data dto.QuotaExceededData
	decodeData(t, w, &data)
	assert.Equal(t, int64(2), data.UsageCount)
	assert.Equal(t, int64(2), data.MonthlyLimit)
}

func TestUsageHandler_ConcurrentIncrements(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	acc := env.register(t, "metered-low", int64Ptr(2))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := env.do(t, http.MethodPost, "/api/v1/usage/increment", nil, bearer(acc.AccessToken))
			mu.Lock()
			statuses[w.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, statuses[http.StatusOK])
	assert.Equal(t, 8, statuses[http.StatusTooManyRequests])
}

func TestUsageHandler_DuplicateSuppressed(t *testing.T) {
	env := newTestEnv(t, 5*time.Second, nil)
	acc := env.register(t, "metered-mid", nil)

	w := env.do(t, http.MethodPost, "/api/v1/usage/increment", nil, bearer(acc.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)

	env.clock.Advance(time.Second)
	w = env.do(t, http.MethodPost, "/api/v1/usage/increment", nil, bearer(acc.AccessToken))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	resp := decodeResponse(t, w)
	assert.Equal(t, dto.ErrCodeDuplicateSuppressed, resp.Error.Code)

	env.clock.Advance(9 * time.Second)
	w = env.do(t, http.MethodPost, "/api/v1/usage/increment", nil, bearer(acc.AccessToken))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUsageHandler_UnknownAccount(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	token, err := env.jwt.IssueAccessToken(uuid.New(), time.Hour)
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/api/v1/usage/increment", nil, bearer(token.Token))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, dto.ErrCodeAccountNotFound, decodeResponse(t, w).Error.Code)

	w = env.do(t, http.MethodGet, "/api/v1/usage", nil, bearer(token.Token))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsageHandler_RolloverOnRead(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	acc := env.register(t, "metered-low", int64Ptr(1))

	w := env.do(t, http.MethodPost, "/api/v1/usage/increment", nil, bearer(acc.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)

	env.clock.Advance(25 * 24 * time.Hour) // 2024-05-05

	w = env.do(t, http.MethodGet, "/api/v1/usage", nil, bearer(acc.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)

	var usage dto.UsageResponse
	decodeData(t, w, &usage)
	assert.Equal(t, int64(0), usage.UsageCount)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), usage.BillingPeriodStart)
}

func TestUsageHandler_Unmetered(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	acc := env.register(t, "unmetered", nil)

	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodPost, "/api/v1/usage/increment", nil, bearer(acc.AccessToken))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/v1/usage", nil, bearer(acc.AccessToken))
	var usage dto.UsageResponse
	decodeData(t, w, &usage)
	assert.Equal(t, int64(3), usage.UsageCount)
	assert.Equal(t, int64(-1), usage.Remaining)
	assert.Equal(t, float64(0), usage.PercentUsed)
}
