package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meterline/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// AdminKey guards operator endpoints with a shared key sent in X-Admin-Key.
// An empty configured key disables the endpoints entirely.
func AdminKey(apiKey string, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	expected := []byte(apiKey)

	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeForbidden, "Admin API is disabled", GetRequestID(c)))
			return
		}

		provided := []byte(c.GetHeader(AdminKeyHeader))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			log.Warn("Rejected admin request",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeUnauthorized, "Invalid admin key", GetRequestID(c)))
			return
		}

		c.Next()
	}
}
