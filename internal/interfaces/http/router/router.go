package router

import (
	"github.com/gin-gonic/gin"
	"github.com/meterline/backend/internal/infrastructure/auth"
	"github.com/meterline/backend/internal/infrastructure/logger"
	"github.com/meterline/backend/internal/interfaces/http/handler"
	"github.com/meterline/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Config holds everything the HTTP surface needs
type Config struct {
	Logger         *zap.Logger
	ServiceName    string
	TracingEnabled bool
	CORS           middleware.CORSConfig
	TrustedProxies []string

	// Validator authenticates account bearer tokens
	Validator middleware.TokenValidator
	// AdminAPIKey guards the /admin group; empty disables it
	AdminAPIKey string

	Usage  *handler.UsageHandler
	Admin  *handler.AdminHandler
	Health *handler.HealthHandler
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	groups     []group
}

type group struct {
	prefix     string
	middleware []gin.HandlerFunc
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds registrars under prefix, behind the given middleware
func (r *Router) Register(prefix string, mw []gin.HandlerFunc, registrars ...RouteRegistrar) *Router {
	r.groups = append(r.groups, group{prefix: prefix, middleware: mw, registrars: registrars})
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, g := range r.groups {
		rg := api.Group(g.prefix, g.middleware...)
		for _, registrar := range g.registrars {
			registrar.RegisterRoutes(rg)
		}
	}
}

// New builds the gin engine with the global middleware chain and every route
func New(cfg Config) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		middleware.Tracing(middleware.TracingConfig{ServiceName: cfg.ServiceName, Enabled: cfg.TracingEnabled}),
		logger.GinMiddleware(log, "/health", "/ping"),
		middleware.SpanErrorMarker(),
		middleware.Secure(),
		middleware.CORSWithConfig(cfg.CORS),
		middleware.BodyLimit(middleware.DefaultBodyLimit),
	)

	if cfg.Health != nil {
		engine.GET("/health", cfg.Health.Health)
		engine.GET("/ping", cfg.Health.Ping)
	}

	r := NewRouter(engine)
	if cfg.Usage != nil {
		r.Register("", []gin.HandlerFunc{
			middleware.JWTAuth(middleware.JWTMiddlewareConfig{Validator: cfg.Validator, Logger: log}),
			middleware.TracingAttributeInjector(),
		}, cfg.Usage)
	}
	if cfg.Admin != nil {
		r.Register("/admin", []gin.HandlerFunc{
			middleware.AdminKey(cfg.AdminAPIKey, log),
			middleware.TracingAttributeInjector(),
		}, cfg.Admin)
	}
	r.Setup()

	return engine, nil
}

var _ middleware.TokenValidator = (*auth.JWTService)(nil)
