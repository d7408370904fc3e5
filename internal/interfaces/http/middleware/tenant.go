package middleware

import (
	"context"
	"strings"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/erp/datacore/internal/infrastructure/logger"
	"github.com/erp/datacore/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Gin context keys set by TenantContext
const (
	TenantIDKey = "tenant_id"
	TenantKey   = "tenant"
)

// TenantResolver looks up a servable tenant
type TenantResolver interface {
	Resolve(ctx context.Context, id string) (*tenant.Tenant, error)
}

// TenantConfig holds configuration for the tenant middleware
type TenantConfig struct {
	// Header carries the tenant identifier, X-Tenant-ID by default
	Header string
	// UserHeader optionally carries the user id set by an upstream gateway
	UserHeader string
	// SkipPaths are paths that don't require tenant context (e.g., health check)
	SkipPaths []string
	Resolver  TenantResolver
	Logger    *zap.Logger
}

// DefaultTenantConfig returns default tenant middleware configuration
func DefaultTenantConfig(resolver TenantResolver) TenantConfig {
	return TenantConfig{
		Header:     "X-Tenant-ID",
		UserHeader: "X-User-ID",
		SkipPaths:  []string{"/health", "/ready", "/metrics"},
		Resolver:   resolver,
	}
}

// TenantContext resolves the tenant named by the request header and stores it
// in the request context, where the logger and the data access service pick
// it up. Unknown tenants get 404 and inactive ones 403; nothing downstream
// runs for them.
func TenantContext(cfg TenantConfig) gin.HandlerFunc {
	if cfg.Header == "" {
		cfg.Header = "X-Tenant-ID"
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skipPath := range cfg.SkipPaths {
			if path == skipPath || strings.HasPrefix(path, skipPath+"/") {
				c.Next()
				return
			}
		}

		tenantID := strings.TrimSpace(c.GetHeader(cfg.Header))
		if tenantID == "" {
			abortWithCode(c, dto.ErrCodeTenantRequired, "Tenant identification required")
			return
		}
		if !tenant.ValidID(tenantID) {
			abortWithError(c, shared.ErrInvalidInput.WithMessage("Invalid tenant ID format"))
			return
		}

		ctx := c.Request.Context()
		rec, err := cfg.Resolver.Resolve(ctx, tenantID)
		if err != nil {
			logger.Enrich(ctx, log).Warn("Tenant rejected",
				zap.String("tenant_id", tenantID),
				zap.String("code", shared.CodeOf(err)),
			)
			abortWithError(c, err)
			return
		}

		ctx = logger.WithTenantID(ctx, rec.ID)
		if cfg.UserHeader != "" {
			if userID := strings.TrimSpace(c.GetHeader(cfg.UserHeader)); userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(TenantIDKey, rec.ID)
		c.Set(TenantKey, rec)

		c.Next()
	}
}

// GetTenant returns the tenant resolved by TenantContext
func GetTenant(c *gin.Context) *tenant.Tenant {
	if v, ok := c.Get(TenantKey); ok {
		if t, ok := v.(*tenant.Tenant); ok {
			return t
		}
	}
	return nil
}

// GetTenantID returns the tenant id resolved by TenantContext
func GetTenantID(c *gin.Context) string {
	return c.GetString(TenantIDKey)
}

func abortWithError(c *gin.Context, err error) {
	status, info := dto.ErrorInfoFrom(err, logger.RequestID(c.Request.Context()))
	c.AbortWithStatusJSON(status, dto.Response{Error: info})
}

func abortWithCode(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(dto.GetHTTPStatus(code),
		dto.NewErrorResponse(code, message, logger.RequestID(c.Request.Context())))
}
