package middleware

import (
	"context"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/orderflow/backend/internal/infrastructure/telemetry"
)

// ProfilingConfig holds configuration for the profiling middleware.
type ProfilingConfig struct {
	Enabled bool
	// SkipPaths are served without labels (health checks).
	SkipPaths []string
}

// DefaultProfilingConfig returns default profiling middleware configuration.
func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		Enabled:   true,
		SkipPaths: []string{"/health", "/api/v1/admin/health"},
	}
}

// Profiling returns profiling middleware with default configuration.
func Profiling() gin.HandlerFunc {
	return ProfilingWithConfig(DefaultProfilingConfig())
}

// ProfilingWithConfig labels Pyroscope samples taken while a request is
// handled with its method, route pattern and area ("api" or "admin").
func ProfilingWithConfig(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		if slices.Contains(cfg.SkipPaths, c.Request.URL.Path) {
			c.Next()
			return
		}

		telemetry.WithProfilingLabels(c.Request.Context(), func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		}, extractProfilingLabels(c)...)
	}
}

func extractProfilingLabels(c *gin.Context) []string {
	labels := []string{telemetry.ProfilingLabelMethod, c.Request.Method}

	// route pattern, not the raw path, keeps cardinality low
	route := c.FullPath()
	if route == "" {
		return labels
	}
	labels = append(labels, telemetry.ProfilingLabelRoute, route)
	if area := routeArea(route); area != "" {
		labels = append(labels, telemetry.ProfilingLabelArea, area)
	}
	return labels
}

// routeArea maps "/api/v1/orders/:id" to "api" and "/api/v1/admin/outbox/stats" to "admin".
func routeArea(route string) string {
	parts := strings.Split(strings.TrimPrefix(route, "/"), "/")
	if parts[0] != "api" {
		return ""
	}
	if len(parts) > 2 && parts[2] == "admin" {
		return "admin"
	}
	return "api"
}
