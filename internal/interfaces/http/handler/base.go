package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/domain/shared"
	"github.com/meterline/backend/internal/infrastructure/logger"
	"github.com/meterline/backend/internal/infrastructure/scheduler"
	"github.com/meterline/backend/internal/interfaces/http/dto"
	"github.com/meterline/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response with the given status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// ErrorWithCode sends an error response, deriving the status code from the error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BindError answers a failed ShouldBind* call
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	if details := middleware.ValidationDetails(err); details != nil {
		c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
			"Request validation failed",
			middleware.GetRequestID(c),
			details,
		))
		return
	}
	h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Invalid request body")
}

// QuotaExceeded sends a 429 carrying the usage that caused the rejection
func (h *BaseHandler) QuotaExceeded(c *gin.Context, e *account.QuotaExceededError) {
	c.JSON(e.HTTPStatusCode(), dto.NewErrorResponseWithData(
		dto.ErrCodeQuotaExceeded,
		e.Message,
		middleware.GetRequestID(c),
		dto.QuotaExceededData{
			AccountID:    e.AccountID.String(),
			Tier:         e.Tier.String(),
			UsageCount:   e.UsageCount,
			MonthlyLimit: e.MonthlyLimit,
		},
	))
}

// DuplicateSuppressed sends a 429 with Retry-After set to the suppression window
func (h *BaseHandler) DuplicateSuppressed(c *gin.Context, e *account.DuplicateSuppressedError) {
	seconds := retryAfterSeconds(e.RetryAfter)
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.JSON(e.HTTPStatusCode(), dto.NewErrorResponseWithData(
		dto.ErrCodeDuplicateSuppressed,
		"Duplicate request suppressed",
		middleware.GetRequestID(c),
		dto.DuplicateSuppressedData{RetryAfterSeconds: seconds},
	))
}

// HandleError maps engine and domain errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var quotaErr *account.QuotaExceededError
	if errors.As(err, &quotaErr) {
		h.QuotaExceeded(c, quotaErr)
		return
	}
	var dupErr *account.DuplicateSuppressedError
	if errors.As(err, &dupErr) {
		h.DuplicateSuppressed(c, dupErr)
		return
	}

	var storeErr *account.StoreError
	if errors.As(err, &storeErr) {
		logger.L(c.Request.Context()).Error("Account store unavailable",
			zap.String("op", storeErr.Op),
			zap.Error(storeErr.Err))
		h.ErrorWithCode(c, dto.ErrCodeStoreUnavailable, "Usage store is temporarily unavailable")
		return
	}

	switch {
	case errors.Is(err, scheduler.ErrSchedulerNotRunning):
		h.ErrorWithCode(c, dto.ErrCodeSchedulerNotRunning, "Reconciliation scheduler is not running")
		return
	case errors.Is(err, scheduler.ErrSweepInProgress):
		h.ErrorWithCode(c, dto.ErrCodeSweepInProgress, "A reconciliation sweep is already running")
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.ErrorWithCode(c, dto.NormalizeErrorCode(domainErr.Code), domainErr.Message)
		return
	}

	logger.L(c.Request.Context()).Error("Unhandled error", zap.Error(err))
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, "An unexpected error occurred")
}

// retryAfterSeconds rounds up so clients never retry inside the window
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
