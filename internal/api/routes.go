// Package api provides the bot's HTTP operations surface: health checks,
// Prometheus metrics and build information.
package api

import (
	"time"

	"github.com/XpNow/PHX-Bot/internal/api/handlers"
	"github.com/XpNow/PHX-Bot/internal/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
)

// Config holds configuration for the API router.
type Config struct {
	// RateLimitRequests is the number of requests allowed per period and client.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m").
	RateLimitPeriod string
	// ReconcileMaxAge is how old the last reconcile tick may be before
	// /health/reconcile reports unhealthy.
	ReconcileMaxAge time.Duration

	Version   string
	Commit    string
	BuildDate string
	GuildID   string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RateLimitRequests: 120,
		RateLimitPeriod:   "1m",
		ReconcileMaxAge:   5 * time.Minute,
		Version:           "dev",
		Commit:            "unknown",
		BuildDate:         "unknown",
	}
}

// Dependencies are the components the router reports on.
type Dependencies struct {
	Database  handlers.DatabaseHealthChecker
	Reconcile handlers.ReconcileStatus
	Gatherer  prometheus.Gatherer
	// Shutdown, when set, marks /health unhealthy while draining.
	Shutdown handlers.ShutdownStatus
	// LimiterStore shares HTTP rate limit counters; nil keeps them in memory.
	LimiterStore limiter.Store
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Dependencies, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger, "/health", "/health/db", "/health/reconcile", "/metrics"))

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, deps.LimiterStore, logger)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	health := handlers.NewHealthHandler(deps.Database, deps.Reconcile, cfg.ReconcileMaxAge, logger)
	if deps.Shutdown != nil {
		health.SetShutdownStatus(deps.Shutdown)
	}
	health.RegisterPublicRoutes(r.Engine)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	handlers.NewMetricsHandler(gatherer, logger).RegisterPublicRoutes(r.Engine)

	handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate, cfg.GuildID, logger).RegisterPublicRoutes(r.Engine)

	r.logger.Debug().Msg("routes registered")
	return r, nil
}
