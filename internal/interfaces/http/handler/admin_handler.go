package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/meterline/backend/internal/application/quota"
	"github.com/meterline/backend/internal/infrastructure/scheduler"
	"github.com/meterline/backend/internal/interfaces/http/dto"
)

// SchedulerController exposes the reconciliation scheduler to operators
type SchedulerController interface {
	Status() scheduler.Status
	TriggerNow(ctx context.Context) (*quota.SweepResult, error)
}

// AdminHandler serves operator endpoints. Routes are expected behind middleware.AdminKey.
type AdminHandler struct {
	BaseHandler
	service        UsageService
	tokens         TokenIssuer
	scheduler      SchedulerController
	accessTokenTTL time.Duration
}

// NewAdminHandler creates a new AdminHandler. sched may be nil when the
// scheduler is disabled.
func NewAdminHandler(service UsageService, tokens TokenIssuer, sched SchedulerController, accessTokenTTL time.Duration) *AdminHandler {
	return &AdminHandler{
		service:        service,
		tokens:         tokens,
		scheduler:      sched,
		accessTokenTTL: accessTokenTTL,
	}
}

// RegisterAccount provisions an account and returns a bearer token for it
// POST /api/v1/admin/accounts
func (h *AdminHandler) RegisterAccount(c *gin.Context) {
	var req dto.RegisterAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	snap, err := h.service.RegisterAccount(c.Request.Context(), quota.RegisterAccountInput{
		Tier:         req.Tier,
		MonthlyLimit: req.MonthlyLimit,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	token, err := h.tokens.IssueAccessToken(snap.AccountID, h.accessTokenTTL)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, dto.RegisterAccountResponse{
		Usage:       dto.ToUsageResponse(*snap),
		AccessToken: token.Token,
		ExpiresAt:   token.ExpiresAt,
	})
}

// GetAccountUsage returns any account's usage
// GET /api/v1/admin/accounts/:id/usage
func (h *AdminHandler) GetAccountUsage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "Invalid account ID")
		return
	}

	snap, err := h.service.GetUsage(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToUsageResponse(*snap))
}

// ResetUsage zeroes one account's counter, or every counter when all is set
// POST /api/v1/admin/usage/reset
func (h *AdminHandler) ResetUsage(c *gin.Context) {
	var req dto.ResetUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	var (
		result *quota.ResetResult
		err    error
	)
	switch {
	case req.All && req.AccountID != "":
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "Specify either account_id or all, not both")
		return
	case req.All:
		result, err = h.service.ResetAllUsage(c.Request.Context())
	case req.AccountID != "":
		result, err = h.service.ResetUsage(c.Request.Context(), uuid.MustParse(req.AccountID))
	default:
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "account_id or all is required")
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.ResetUsageResponse{
		ResetCount:  result.ResetCount,
		PeriodStart: result.PeriodStart,
	})
}

// SchedulerStatus reports the reconciliation scheduler state
// GET /api/v1/admin/scheduler/status
func (h *AdminHandler) SchedulerStatus(c *gin.Context) {
	if h.scheduler == nil {
		h.Success(c, scheduler.Status{Enabled: false})
		return
	}
	h.Success(c, h.scheduler.Status())
}

// TriggerSweep runs a reconciliation sweep now and waits for it
// POST /api/v1/admin/scheduler/trigger
func (h *AdminHandler) TriggerSweep(c *gin.Context) {
	if h.scheduler == nil {
		h.HandleError(c, scheduler.ErrSchedulerNotRunning)
		return
	}

	result, err := h.scheduler.TriggerNow(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// RegisterRoutes registers the admin routes
func (h *AdminHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/accounts", h.RegisterAccount)
	rg.GET("/accounts/:id/usage", h.GetAccountUsage)
	rg.POST("/usage/reset", h.ResetUsage)
	rg.GET("/scheduler/status", h.SchedulerStatus)
	rg.POST("/scheduler/trigger", h.TriggerSweep)
}
