package audit

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/entitygraph/pkg/auth"
)

// RegisterRoutes registers audit log routes
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/audit")
	g.Use(authMiddleware.RequireTenant())

	g.GET("", h.List)
}
