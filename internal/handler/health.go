// Package handler contains the Echo handlers for the proxy and its
// operational endpoints.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"nominatim-proxy-go/internal/model"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	route   model.Route
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(route model.Route, v Version) *HealthHandler {
	return &HealthHandler{route: route, version: v}
}

// Healthz returns a simple OK response for liveness probes. It does not
// contact the upstream.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "ok",
		"version":      string(h.version),
		"upstream_url": h.route.Target.String(),
		"path_prefix":  h.route.Prefix,
		"user_agent":   h.route.UserAgent,
	})
}
