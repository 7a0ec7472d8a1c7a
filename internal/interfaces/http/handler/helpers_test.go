package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meterline/backend/internal/application/quota"
	"github.com/meterline/backend/internal/infrastructure/auth"
	"github.com/meterline/backend/internal/infrastructure/cache"
	"github.com/meterline/backend/internal/infrastructure/config"
	"github.com/meterline/backend/internal/infrastructure/persistence"
	"github.com/meterline/backend/internal/infrastructure/scheduler"
	"github.com/meterline/backend/internal/interfaces/http/dto"
	"github.com/meterline/backend/internal/interfaces/http/middleware"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store   *persistence.MemoryAccountStore
	service *quota.UsageService
	jwt     *auth.JWTService
	clock   *testClock
	router  *gin.Engine
}

// newTestEnv wires a UsageService over the in-memory store behind the
// usage and admin routes
func newTestEnv(t *testing.T, window time.Duration, sched SchedulerController) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)}
	store := persistence.NewMemoryAccountStore()
	guard := cache.NewInMemoryDuplicateGuard(cache.InMemoryDuplicateGuardConfig{Window: window, Clock: clock.Now})
	t.Cleanup(func() { _ = guard.Close() })

	service := quota.NewUsageService(store, guard, zap.NewNop(), quota.DefaultConfig(), quota.WithClock(clock.Now))
	jwtSvc := auth.NewJWTService(config.JWTConfig{
		Secret: "handler-test-secret-0123456789abcdef",
		Issuer: "meterline-test",
	})

	r := gin.New()
	r.Use(middleware.RequestID())
	api := r.Group("/api/v1")

	authed := api.Group("", middleware.JWTAuth(middleware.JWTMiddlewareConfig{Validator: jwtSvc}))
	NewUsageHandler(service, jwtSvc).RegisterRoutes(authed)

	admin := api.Group("/admin", middleware.AdminKey("admin-key", nil))
	NewAdminHandler(service, jwtSvc, sched, time.Hour).RegisterRoutes(admin)

	return &testEnv{store: store, service: service, jwt: jwtSvc, clock: clock, router: r}
}

func (e *testEnv) register(t *testing.T, tier string, limit *int64) dto.RegisterAccountResponse {
	t.Helper()
	body := map[string]any{"tier": tier}
	if limit != nil {
		body["monthly_limit"] = *limit
	}
	w := e.do(t, http.MethodPost, "/api/v1/admin/accounts", body, map[string]string{middleware.AdminKeyHeader: "admin-key"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var out dto.RegisterAccountResponse
	decodeData(t, w, &out)
	return out
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func bearer(token string) map[string]string {
	return map[string]string{middleware.AuthHeaderKey: middleware.BearerPrefix + token}
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// decodeData unmarshals the data field of an envelope into out
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

type fakeScheduler struct {
	status scheduler.Status
	result *quota.SweepResult
	err    error
	calls  int
}

func (f *fakeScheduler) Status() scheduler.Status { return f.status }

func (f *fakeScheduler) TriggerNow(context.Context) (*quota.SweepResult, error) {
	f.calls++
	return f.result, f.err
}

func int64Ptr(v int64) *int64 { return &v }
