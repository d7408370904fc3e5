package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/erp/datacore/internal/infrastructure/tenancy"
	"github.com/erp/datacore/internal/interfaces/http/dto"
	"github.com/erp/datacore/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// PoolStats reports connection pool occupancy
type PoolStats interface {
	Stats() tenancy.Stats
}

// Pinger checks a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler serves health, readiness and pool introspection
type SystemHandler struct {
	BaseHandler
	version   string
	startTime time.Time
	pool      PoolStats
	checks    map[string]Pinger
}

// NewSystemHandler creates a new SystemHandler. checks are pinged by the
// readiness check.
func NewSystemHandler(version string, pool PoolStats, checks map[string]Pinger) *SystemHandler {
	return &SystemHandler{
		version:   version,
		startTime: time.Now(),
		pool:      pool,
		checks:    checks,
	}
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// RegisterHealthChecks registers the unauthenticated health endpoints on the engine root
func (h *SystemHandler) RegisterHealthChecks(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
}

// RegisterRoutes registers the tenant-scoped system routes under rg
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/system/info", h.Info)
	rg.GET("/system/pool", h.Pool)
	rg.GET("/tenant", h.CurrentTenant)
}

// Health reports liveness
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready pings every dependency and answers 503 when one fails
func (h *SystemHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Info returns version and uptime
func (h *SystemHandler) Info(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Pool returns the connection pool counters
func (h *SystemHandler) Pool(c *gin.Context) {
	s := h.pool.Stats()
	h.Success(c, dto.PoolStatsResponse{
		Size:         s.Size,
		InUse:        s.InUse,
		Idle:         s.Idle,
		Dialing:      s.Dialing,
		MaxSize:      s.MaxSize,
		Dials:        s.Dials,
		DialFailures: s.DialFailures,
		Evictions:    s.Evictions,
		Hits:         s.Hits,
		Misses:       s.Misses,
	})
}

// CurrentTenant returns the tenant resolved for the request, without its
// connection coordinates
func (h *SystemHandler) CurrentTenant(c *gin.Context) {
	t := middleware.GetTenant(c)
	if t == nil {
		h.BadRequest(c, "no tenant resolved for request")
		return
	}
	h.Success(c, dto.TenantResponse{
		ID:       t.ID,
		Name:     t.Name,
		Driver:   string(t.Driver),
		Platform: t.Platform,
		Active:   t.Active,
	})
}
