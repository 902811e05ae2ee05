// Package api provides the HTTP API for the key server.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mkserv/keyserv/internal/api/handlers"
	"github.com/mkserv/keyserv/internal/api/middleware"
	"github.com/mkserv/keyserv/internal/config"
	"github.com/mkserv/keyserv/internal/db"
	"github.com/mkserv/keyserv/internal/keys"
)

// Config holds configuration for the API router.
type Config struct {
	// Environment switches Gin into release mode for production.
	Environment config.Environment
	// RateLimitRequests is the number of activate/check requests allowed
	// per period for each client IP. Zero disables limiting.
	RateLimitRequests int
	// RateLimitPeriod is the sliding window for the limit.
	RateLimitPeriod time.Duration
	// Registry receives the /metrics collectors. Nil uses the default
	// Prometheus registry.
	Registry *prometheus.Registry
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment:       config.EnvDevelopment,
		RateLimitRequests: 100,
		RateLimitPeriod:   time.Minute,
	}
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, database *db.DB, svc *keys.Service, logger zerolog.Logger) *Router {
	if cfg.Environment == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))

	// Health check endpoint (no rate limit)
	healthHandler := handlers.NewHealthHandler(database, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	// Prometheus metrics endpoint
	if cfg.Registry != nil {
		r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	} else {
		r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	apiV1 := r.Engine.Group("/api/v1")

	// Management endpoints
	appsHandler := handlers.NewApplicationsHandler(svc, database, logger)
	appsHandler.RegisterRoutes(apiV1)

	keysHandler := handlers.NewKeysHandler(svc, database, logger)
	keysHandler.RegisterRoutes(apiV1)

	auditHandler := handlers.NewAuditLogsHandler(database, logger)
	auditHandler.RegisterRoutes(apiV1)

	// Client-facing lifecycle endpoints, rate limited per client IP
	lifecycleGroup := apiV1.Group("")
	lifecycleGroup.Use(middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod))
	lifecycleHandler := handlers.NewLifecycleHandler(svc, database, logger)
	lifecycleHandler.RegisterRoutes(lifecycleGroup)

	return r
}
