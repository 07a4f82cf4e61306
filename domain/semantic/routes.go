package semantic

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/entitygraph/pkg/auth"
)

// RegisterRoutes registers the semantic search and embedding routes.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/semantic")
	g.Use(authMiddleware.RequireTenant())

	g.POST("/search", h.Search)

	emb := g.Group("/embeddings")
	emb.POST("/batch", h.GenerateBatch)
	emb.POST("/nodes/:id", h.GenerateNode)
	emb.POST("/edges/:id", h.GenerateEdge)
	emb.GET("/:kind/:id", h.History)
}
