package snapshots

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/entitygraph/pkg/auth"
)

// RegisterRoutes registers snapshot routes.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/snapshots")
	g.Use(authMiddleware.RequireTenant())

	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/regenerate", h.Regenerate)
}
