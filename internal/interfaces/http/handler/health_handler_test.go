package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := NewHealthHandler("1.2.3", map[string]HealthCheck{
			"store": func(context.Context) error { return nil },
		})
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

		h.Health(c)

		assert.Equal(t, http.StatusOK, w.Code)
		var body HealthResponse
		decodeData(t, w, &body)
		assert.Equal(t, "healthy", body.Status)
		assert.Equal(t, "1.2.3", body.Version)
		assert.Equal(t, "ok", body.Checks["store"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		h := NewHealthHandler("1.2.3", map[string]HealthCheck{
			"store": func(context.Context) error { return errors.New("connection refused") },
			"guard": func(context.Context) error { return nil },
		})
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

		h.Health(c)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var body HealthResponse
		decodeData(t, w, &body)
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, "connection refused", body.Checks["store"])
		assert.Equal(t, "ok", body.Checks["guard"])
	})

	t.Run("ping", func(t *testing.T) {
		h := NewHealthHandler("dev", nil)
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/ping", nil)

		h.Ping(c)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decodeResponse(t, w).Success)
	})
}
