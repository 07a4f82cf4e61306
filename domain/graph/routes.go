package graph

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/entitygraph/pkg/auth"
)

// RegisterRoutes registers all graph routes.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/graph")
	g.Use(authMiddleware.RequireTenant())

	nodes := g.Group("/nodes")
	nodes.GET("", h.ListNodes)
	nodes.POST("", h.CreateNode)
	nodes.GET("/:id", h.GetNode)
	nodes.PATCH("/:id", h.UpdateNode)
	nodes.DELETE("/:id", h.DeleteNode)
	nodes.GET("/:id/neighbors", h.GetNeighbors)

	edges := g.Group("/edges")
	edges.GET("", h.ListEdges)
	edges.POST("", h.CreateEdge)
	edges.GET("/:id", h.GetEdge)
	edges.PATCH("/:id", h.UpdateEdge)
	edges.DELETE("/:id", h.DeleteEdge)

	g.POST("/query", h.Query)
	g.POST("/traverse", h.Traverse)
	g.POST("/path", h.ShortestPath)
	g.POST("/path/explain", h.ExplainPath)
	g.POST("/merge", h.Merge)

	analytics := g.Group("/metrics")
	analytics.GET("", h.GetMetrics)
	analytics.POST("/centrality", h.ComputeCentrality)
	analytics.POST("/clusters", h.ComputeClusters)
}
