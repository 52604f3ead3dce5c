package handler

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xhttp-relay/internal/config"
	"xhttp-relay/internal/metrics"
	"xhttp-relay/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The relay
// answers every method on each mount; static routes take precedence.
// Relayed responses carry only upstream headers, so request IDs and security
// headers are attached to the relay's own routes.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	own := []echo.MiddlewareFunc{echomw.RequestID(), middleware.SecurityHeaders()}

	e.GET("/healthz", health.Healthz, own...)
	e.GET("/proxy/status", health.Status, own...)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), own...)
	}

	for _, mount := range cfg.Server.Mounts {
		if mount == "/" {
			e.Any("/*", proxy.Handle)
			continue
		}
		e.Any(mount, proxy.Handle)
		e.Any(mount+"/*", proxy.Handle)
	}
}
