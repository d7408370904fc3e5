// Package middleware provides the gin middleware of the data access API.
package middleware

import (
	"net/http"

	"github.com/erp/datacore/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	// ServiceName is the name of the service for trace identification.
	ServiceName string
	// Enabled controls whether tracing is active.
	Enabled bool
	// TracerProvider overrides the global provider, mainly for tests.
	TracerProvider trace.TracerProvider
}

// Tracing returns OpenTelemetry tracing middleware. It wraps otelgin, so the
// span name follows "HTTP METHOD route_pattern" and spans continue incoming
// W3C trace context.
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	var opts []otelgin.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelgin.WithTracerProvider(cfg.TracerProvider))
	}
	return otelgin.Middleware(cfg.ServiceName, opts...)
}

// SpanEnricher tags the request span with the request and tenant ids and
// marks it as failed for 4xx/5xx responses. It must run after Tracing and
// TenantContext.
func SpanEnricher() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		if id := logger.RequestID(ctx); id != "" {
			span.SetAttributes(attribute.String("request_id", id))
		}
		if id := logger.TenantID(ctx); id != "" {
			span.SetAttributes(attribute.String("tenant_id", id))
		}

		c.Next()

		statusCode := c.Writer.Status()
		if statusCode < http.StatusBadRequest {
			return
		}
		if len(c.Errors) > 0 {
			span.SetAttributes(attribute.String("error.code", c.Errors.Last().Error()))
		}
		span.SetStatus(codes.Error, http.StatusText(statusCode))
	}
}
