package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status   HealthStatus   `json:"status"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status HealthStatus                  `json:"status"`
	Checks map[string]*HealthCheckResult `json:"checks,omitempty"`
	Error  string                        `json:"error,omitempty"`
}

// DatabaseHealthChecker defines the interface for database health checking.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
	Health() map[string]any
}

// ReconcileStatus reports when the reconciliation scheduler last completed a tick.
type ReconcileStatus interface {
	LastTick() time.Time
}

// ShutdownStatus reports whether the process is still serving.
type ShutdownStatus interface {
	IsAccepting() bool
}

// HealthHandler handles health-related HTTP endpoints.
type HealthHandler struct {
	db        DatabaseHealthChecker
	reconcile ReconcileStatus
	maxAge    time.Duration
	shutdown  ShutdownStatus
	now       func() time.Time
	logger    zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. The reconciler is reported
// unhealthy when its last completed tick is older than maxAge.
func NewHealthHandler(db DatabaseHealthChecker, reconcile ReconcileStatus, maxAge time.Duration, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		reconcile: reconcile,
		maxAge:    maxAge,
		now:       time.Now,
		logger:    logger.With().Str("component", "health_handler").Logger(),
	}
}

// SetShutdownStatus makes /health report unhealthy once shutdown has begun.
func (h *HealthHandler) SetShutdownStatus(s ShutdownStatus) {
	h.shutdown = s
}

// RegisterPublicRoutes registers health check routes.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	health := r.Group("/health")
	{
		health.GET("", h.Overall)
		health.GET("/db", h.Database)
		health.GET("/reconcile", h.Reconcile)
	}
}

// Overall returns the overall bot health status.
// GET /health
func (h *HealthHandler) Overall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status: HealthStatusHealthy,
		Checks: map[string]*HealthCheckResult{
			"database":  h.checkDatabase(ctx),
			"reconcile": h.checkReconcile(),
		},
	}
	if h.shutdown != nil {
		response.Checks["lifecycle"] = h.checkLifecycle()
	}

	for _, check := range response.Checks {
		if check.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
	}

	c.JSON(http.StatusOK, response)
}

// Database returns the database health status.
// GET /health/db
func (h *HealthHandler) Database(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	h.single(c, "database", h.checkDatabase(ctx))
}

// Reconcile returns the reconciliation scheduler health status.
// GET /health/reconcile
func (h *HealthHandler) Reconcile(c *gin.Context) {
	h.single(c, "reconcile", h.checkReconcile())
}

func (h *HealthHandler) single(c *gin.Context, name string, result *HealthCheckResult) {
	response := &HealthResponse{
		Status: result.Status,
		Checks: map[string]*HealthCheckResult{name: result},
	}

	if result.Status == HealthStatusUnhealthy {
		response.Error = result.Error
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// checkDatabase performs a database health check.
func (h *HealthHandler) checkDatabase(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{
		Status: HealthStatusHealthy,
	}

	if h.db == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database not configured"
		result.Duration = time.Since(start).String()
		return result
	}

	err := h.db.Ping(ctx)
	result.Duration = time.Since(start).String()

	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database ping failed"
		h.logger.Warn().Err(err).Msg("database health check failed")
		return result
	}

	result.Details = h.db.Health()
	return result
}

func (h *HealthHandler) checkLifecycle() *HealthCheckResult {
	if h.shutdown.IsAccepting() {
		return &HealthCheckResult{Status: HealthStatusHealthy}
	}
	return &HealthCheckResult{Status: HealthStatusUnhealthy, Error: "shutting down"}
}

// checkReconcile reports whether the scheduler has completed a tick recently.
func (h *HealthHandler) checkReconcile() *HealthCheckResult {
	result := &HealthCheckResult{
		Status: HealthStatusHealthy,
	}

	if h.reconcile == nil {
		result.Details = map[string]any{"running": false}
		return result
	}

	last := h.reconcile.LastTick()
	if last.IsZero() {
		result.Status = HealthStatusUnhealthy
		result.Error = "no tick completed yet"
		return result
	}

	age := h.now().Sub(last)
	result.Details = map[string]any{
		"running":   true,
		"last_tick": last.UTC().Format(time.RFC3339),
		"age":       age.Round(time.Second).String(),
	}
	if h.maxAge > 0 && age > h.maxAge {
		result.Status = HealthStatusUnhealthy
		result.Error = "last tick is stale"
		h.logger.Warn().Dur("age", age).Msg("reconcile health check failed")
	}
	return result
}
