package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/infrastructure/config"
)

// TokenType distinguishes bearer tokens from usage snapshots
type TokenType string

const (
	// TokenTypeAccess authenticates calls made on behalf of an account
	TokenTypeAccess TokenType = "access"
	// TokenTypeUsage carries a usage snapshot taken right after an accepted increment.
	// It is informational and is never accepted as a bearer token.
	TokenTypeUsage TokenType = "usage"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidTokenType = errors.New("invalid token type")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingAccountID = errors.New("missing account_id in claims")
	ErrMissingSecret    = errors.New("jwt secret is not configured")
	ErrInvalidAccountID = errors.New("account_id claim is not a valid UUID")
)

// UsageClaim is the usage snapshot embedded in usage tokens
type UsageClaim struct {
	Tier               string    `json:"tier"`
	UsageCount         int64     `json:"usage_count"`
	MonthlyLimit       int64     `json:"monthly_limit"`
	Remaining          int64     `json:"remaining"`
	BillingPeriodStart time.Time `json:"billing_period_start"`
	BillingPeriodEnd   time.Time `json:"billing_period_end"`
}

// Claims represents the JWT claims used by the service
type Claims struct {
	jwt.RegisteredClaims
	AccountID string      `json:"account_id"`
	TokenType TokenType   `json:"token_type"`
	Usage     *UsageClaim `json:"usage,omitempty"`
}

// AccountUUID parses the account_id claim
func (c *Claims) AccountUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.AccountID)
	if err != nil {
		return uuid.Nil, ErrInvalidAccountID
	}
	return id, nil
}

// IssuedToken is a signed token and its expiry
type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// JWTService signs and validates account tokens
type JWTService struct {
	secret        []byte
	issuer        string
	usageLifetime time.Duration
	now           func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.JWTConfig) *JWTService {
	lifetime := cfg.UsageTokenLifetime
	if lifetime <= 0 {
		lifetime = 15 * time.Minute
	}
	return &JWTService{
		secret:        []byte(cfg.Secret),
		issuer:        cfg.Issuer,
		usageLifetime: lifetime,
		now:           time.Now,
	}
}

// IssueAccessToken issues a bearer token for the account valid for ttl
func (s *JWTService) IssueAccessToken(accountID uuid.UUID, ttl time.Duration) (*IssuedToken, error) {
	return s.issue(accountID, TokenTypeAccess, ttl, nil)
}

// IssueUsageToken signs the snapshot so clients can present their usage
// without another round-trip. It is derived from the engine's state after
// the increment, never from the caller's token.
func (s *JWTService) IssueUsageToken(snap account.UsageSnapshot) (*IssuedToken, error) {
	return s.issue(snap.AccountID, TokenTypeUsage, s.usageLifetime, &UsageClaim{
		Tier:               snap.Tier.String(),
		UsageCount:         snap.UsageCount,
		MonthlyLimit:       snap.MonthlyLimit,
		Remaining:          snap.Remaining,
		BillingPeriodStart: snap.BillingPeriodStart,
		BillingPeriodEnd:   snap.BillingPeriodEnd,
	})
}

func (s *JWTService) issue(accountID uuid.UUID, tokenType TokenType, ttl time.Duration, usage *UsageClaim) (*IssuedToken, error) {
	if len(s.secret) == 0 {
		return nil, ErrMissingSecret
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   accountID.String(),
			Audience:  jwt.ClaimStrings{s.issuer},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		AccountID: accountID.String(),
		TokenType: tokenType,
		Usage:     usage,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &IssuedToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// ValidateAccessToken validates a bearer token and returns its claims
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, TokenTypeAccess)
}

// ValidateUsageToken validates a usage snapshot token and returns its claims
func (s *JWTService) ValidateUsageToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, TokenTypeUsage)
}

func (s *JWTService) validate(tokenString string, expected TokenType) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, ErrMissingSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, ErrTokenNotYetValid
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.TokenType != expected {
		return nil, ErrInvalidTokenType
	}
	if claims.AccountID == "" {
		return nil, ErrMissingAccountID
	}
	if _, err := claims.AccountUUID(); err != nil {
		return nil, err
	}
	return claims, nil
}
