package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/meterline/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationDetails(t *testing.T) {
	SetupValidator()

	var details []dto.ValidationDetail
	r := gin.New()
	r.POST("/accounts", func(c *gin.Context) {
		var req dto.RegisterAccountRequest
		err := c.ShouldBindJSON(&req)
		details = ValidationDetails(err)
		c.Status(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{"tier":"platinum","monthly_limit":-1}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, details, 2)
	fields := map[string]string{}
	for _, d := range details {
		fields[d.Field] = d.Message
	}
	assert.Contains(t, fields["tier"], "Must be one of")
	assert.Contains(t, fields["monthly_limit"], "greater than or equal to 0")
}

func TestValidationDetails_NotValidatorError(t *testing.T) {
	assert.Nil(t, ValidationDetails(errors.New("unexpected EOF")))
	assert.Nil(t, ValidationDetails(nil))
}
