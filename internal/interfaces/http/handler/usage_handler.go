package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/meterline/backend/internal/application/quota"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/infrastructure/auth"
	"github.com/meterline/backend/internal/infrastructure/logger"
	"github.com/meterline/backend/internal/interfaces/http/dto"
	"github.com/meterline/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// UsageService is the part of quota.UsageService the HTTP layer calls
type UsageService interface {
	GetUsage(ctx context.Context, accountID uuid.UUID) (*account.UsageSnapshot, error)
	IncrementUsage(ctx context.Context, accountID uuid.UUID) (*quota.IncrementResult, error)
	ResetUsage(ctx context.Context, accountID uuid.UUID) (*quota.ResetResult, error)
	ResetAllUsage(ctx context.Context) (*quota.ResetResult, error)
	RegisterAccount(ctx context.Context, input quota.RegisterAccountInput) (*account.UsageSnapshot, error)
}

// TokenIssuer signs tokens for accounts. auth.JWTService implements it.
type TokenIssuer interface {
	IssueAccessToken(accountID uuid.UUID, ttl time.Duration) (*auth.IssuedToken, error)
	IssueUsageToken(snap account.UsageSnapshot) (*auth.IssuedToken, error)
}

// UsageHandler serves the account-facing usage endpoints
type UsageHandler struct {
	BaseHandler
	service UsageService
	tokens  TokenIssuer
}

// NewUsageHandler creates a new UsageHandler
func NewUsageHandler(service UsageService, tokens TokenIssuer) *UsageHandler {
	return &UsageHandler{service: service, tokens: tokens}
}

// GetUsage returns the authenticated account's usage for the current period
// GET /api/v1/usage
func (h *UsageHandler) GetUsage(c *gin.Context) {
	snap, err := h.service.GetUsage(c.Request.Context(), middleware.GetAccountID(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToUsageResponse(*snap))
}

// Increment records one consumption event for the authenticated account.
// Accepted increments carry a fresh usage token in X-Usage-Token.
// POST /api/v1/usage/increment
func (h *UsageHandler) Increment(c *gin.Context) {
	result, err := h.service.IncrementUsage(c.Request.Context(), middleware.GetAccountID(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if rejection := result.Err(); rejection != nil {
		h.HandleError(c, rejection)
		return
	}

	resp := dto.IncrementResponse{Outcome: string(result.Outcome)}
	if result.Snapshot != nil {
		usage := dto.ToUsageResponse(*result.Snapshot)
		resp.Usage = &usage

		token, err := h.tokens.IssueUsageToken(*result.Snapshot)
		if err != nil {
			// The increment is already committed; the token is a convenience.
			logger.L(c.Request.Context()).Warn("Failed to issue usage token", zap.Error(err))
		} else {
			c.Header(middleware.UsageTokenHeader, token.Token)
		}
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// RegisterRoutes registers the usage routes on an authenticated group
func (h *UsageHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/usage", h.GetUsage)
	rg.POST("/usage/increment", h.Increment)
}
