package semantic

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/auth"
)

// Handler handles HTTP requests for embeddings and semantic search.
type Handler struct {
	svc *Service
}

// NewHandler creates a new semantic handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Search handles POST /api/semantic/search
// @Summary      Semantic node search
// @Tags         semantic
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        request body SearchRequest true "Search"
// @Success      200 {object} SearchResponse
// @Failure      422 {object} apperror.Error "Validation error"
// @Failure      502 {object} apperror.Error "Embedding provider unavailable"
// @Router       /api/semantic/search [post]
func (h *Handler) Search(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	resp, err := h.svc.SemanticSearch(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// GenerateBatch handles POST /api/semantic/embeddings/batch
func (h *Handler) GenerateBatch(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	result, err := h.svc.GenerateBatch(c.Request().Context(), tenantID, auth.ActorID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// GenerateNode handles POST /api/semantic/embeddings/nodes/:id
func (h *Handler) GenerateNode(c echo.Context) error {
	return h.generate(c, KindNode)
}

// GenerateEdge handles POST /api/semantic/embeddings/edges/:id
func (h *Handler) GenerateEdge(c echo.Context) error {
	return h.generate(c, KindEdge)
}

func (h *Handler) generate(c echo.Context, kind EntityKind) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.NewBadRequest("invalid id")
	}
	force := false
	if raw := c.QueryParam("force"); raw != "" {
		force, err = strconv.ParseBool(raw)
		if err != nil {
			return apperror.NewBadRequest("invalid force")
		}
	}

	ctx := c.Request().Context()
	var res *GenerateResult
	if kind == KindNode {
		res, err = h.svc.GenerateNodeEmbedding(ctx, tenantID, auth.ActorID(c), id, force)
	} else {
		res, err = h.svc.GenerateEdgeEmbedding(ctx, tenantID, auth.ActorID(c), id, force)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// History handles GET /api/semantic/embeddings/:kind/:id
func (h *Handler) History(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.NewBadRequest("invalid id")
	}
	var kind EntityKind
	switch c.Param("kind") {
	case "nodes":
		kind = KindNode
	case "edges":
		kind = KindEdge
	default:
		return apperror.NewBadRequest("kind must be nodes or edges")
	}
	records, err := h.svc.History(c.Request().Context(), tenantID, kind, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}
