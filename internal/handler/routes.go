package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dashboard-proxy/internal/config"
	"dashboard-proxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Only GET is registered on /api/v1/*; Echo answers other methods with 405.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, fwd *ForwardHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.GET("/api/v1/*", fwd.Handle)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
