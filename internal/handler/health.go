package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"xhttp-relay/internal/client"
	"xhttp-relay/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg      *config.Config
	version  Version
	upstream *client.UpstreamClient
}

// NewHealthHandler creates a HealthHandler. upstream may be nil.
func NewHealthHandler(cfg *config.Config, v Version, upstream *client.UpstreamClient) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, upstream: upstream}
}

// StatusResponse is the body of GET /proxy/status.
type StatusResponse struct {
	Status          string   `json:"status"`
	Version         string   `json:"version"`
	UpstreamOrigin  string   `json:"upstream_origin"`
	RewriteMode     string   `json:"rewrite_mode"`
	Mounts          []string `json:"mounts"`
	Redirects       string   `json:"redirects"`
	ContentEncoding string   `json:"content_encoding"`
	CircuitBreaker  string   `json:"circuit_breaker"`
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns relay status information.
func (h *HealthHandler) Status(c echo.Context) error {
	breaker := "disabled"
	if h.upstream != nil {
		breaker = h.upstream.BreakerState()
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Status:          "ok",
		Version:         string(h.version),
		UpstreamOrigin:  h.cfg.Upstream.Origin,
		RewriteMode:     h.cfg.Rewrite.Mode,
		Mounts:          h.cfg.Server.Mounts,
		Redirects:       h.cfg.Upstream.Redirects,
		ContentEncoding: h.cfg.Headers.ContentEncoding,
		CircuitBreaker:  breaker,
	})
}
