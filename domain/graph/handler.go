package graph

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/auth"
)

// Handler handles HTTP requests for graph operations.
type Handler struct {
	svc *Service
}

// NewHandler creates a new graph handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// =============================================================================
// Nodes
// =============================================================================

// CreateNode handles POST /api/graph/nodes
// @Summary      Create node
// @Tags         graph
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        request body CreateNodeRequest true "Node"
// @Success      201 {object} Node
// @Failure      422 {object} apperror.Error "Validation error"
// @Router       /api/graph/nodes [post]
func (h *Handler) CreateNode(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	var req CreateNodeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	node, err := h.svc.CreateNode(c.Request().Context(), tenantID, auth.ActorID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, node)
}

// GetNode handles GET /api/graph/nodes/:id
func (h *Handler) GetNode(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	node, err := h.svc.GetNode(c.Request().Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, node)
}

// UpdateNode handles PATCH /api/graph/nodes/:id
// Only fields present in the body are changed; null clears a field.
func (h *Handler) UpdateNode(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req UpdateNodeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	node, err := h.svc.UpdateNode(c.Request().Context(), tenantID, auth.ActorID(c), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, node)
}

// DeleteNode handles DELETE /api/graph/nodes/:id
func (h *Handler) DeleteNode(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteNode(c.Request().Context(), tenantID, auth.ActorID(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListNodes handles GET /api/graph/nodes
// @Summary      List nodes
// @Tags         graph
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        types query string false "Comma-separated node types"
// @Param        tags query string false "Comma-separated tags (overlap)"
// @Param        categories query string false "Comma-separated categories (overlap)"
// @Param        search query string false "Text match over label and description"
// @Param        source_system query string false "Source system"
// @Param        is_active query bool false "Active flag (default true)"
// @Param        cluster_id query string false "Cluster ID"
// @Param        community_id query string false "Community ID"
// @Param        sort_by query string false "Sort column"
// @Param        sort_order query string false "asc or desc"
// @Param        limit query int false "Page size (default 50, max 500)"
// @Param        offset query int false "Offset"
// @Success      200 {object} NodeListResponse
// @Router       /api/graph/nodes [get]
func (h *Handler) ListNodes(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}

	params := NodeListParams{
		NodeTypes:    listParam(c, "types"),
		Tags:         listParam(c, "tags"),
		Categories:   listParam(c, "categories"),
		Search:       c.QueryParam("search"),
		SourceSystem: c.QueryParam("source_system"),
		SortBy:       c.QueryParam("sort_by"),
		SortOrder:    c.QueryParam("sort_order"),
	}
	if params.IsActive, err = boolQuery(c, "is_active"); err != nil {
		return err
	}
	if params.ClusterID, err = uuidQuery(c, "cluster_id"); err != nil {
		return err
	}
	if params.CommunityID, err = uuidQuery(c, "community_id"); err != nil {
		return err
	}
	if params.Limit, params.Offset, err = pageQuery(c); err != nil {
		return err
	}

	result, err := h.svc.ListNodes(c.Request().Context(), tenantID, auth.ActorID(c), params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// GetNeighbors handles GET /api/graph/nodes/:id/neighbors
func (h *Handler) GetNeighbors(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	result, err := h.svc.GetNeighbors(c.Request().Context(), tenantID, auth.ActorID(c), id,
		Direction(c.QueryParam("direction")), listParam(c, "edge_types"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// =============================================================================
// Edges
// =============================================================================

// CreateEdge handles POST /api/graph/edges
// @Summary      Create edge
// @Tags         graph
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        request body CreateEdgeRequest true "Edge"
// @Success      201 {object} Edge
// @Failure      422 {object} apperror.Error "Endpoint missing or invalid type"
// @Router       /api/graph/edges [post]
func (h *Handler) CreateEdge(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	var req CreateEdgeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	edge, err := h.svc.CreateEdge(c.Request().Context(), tenantID, auth.ActorID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, edge)
}

// GetEdge handles GET /api/graph/edges/:id
func (h *Handler) GetEdge(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	edge, err := h.svc.GetEdge(c.Request().Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, edge)
}

// UpdateEdge handles PATCH /api/graph/edges/:id
func (h *Handler) UpdateEdge(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req UpdateEdgeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	edge, err := h.svc.UpdateEdge(c.Request().Context(), tenantID, auth.ActorID(c), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, edge)
}

// DeleteEdge handles DELETE /api/graph/edges/:id
func (h *Handler) DeleteEdge(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteEdge(c.Request().Context(), tenantID, auth.ActorID(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListEdges handles GET /api/graph/edges
func (h *Handler) ListEdges(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}

	params := EdgeListParams{
		EdgeTypes:    listParam(c, "types"),
		SourceSystem: c.QueryParam("source_system"),
		SortBy:       c.QueryParam("sort_by"),
		SortOrder:    c.QueryParam("sort_order"),
	}
	if params.SourceNodeID, err = uuidQuery(c, "source_node_id"); err != nil {
		return err
	}
	if params.TargetNodeID, err = uuidQuery(c, "target_node_id"); err != nil {
		return err
	}
	if params.NodeID, err = uuidQuery(c, "node_id"); err != nil {
		return err
	}
	if params.IsBidirectional, err = boolQuery(c, "is_bidirectional"); err != nil {
		return err
	}
	if params.IsActive, err = boolQuery(c, "is_active"); err != nil {
		return err
	}
	if params.Limit, params.Offset, err = pageQuery(c); err != nil {
		return err
	}

	result, err := h.svc.ListEdges(c.Request().Context(), tenantID, auth.ActorID(c), params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// =============================================================================
// Query, traversal, merge
// =============================================================================

// Query handles POST /api/graph/query
// @Summary      Query the graph
// @Description  Dispatches to semantic search, traversal or filtered listing
// @Tags         graph
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        request body QueryRequest true "Query"
// @Success      200 {object} QueryResult
// @Router       /api/graph/query [post]
func (h *Handler) Query(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	result, err := h.svc.QueryGraph(c.Request().Context(), tenantID, auth.ActorID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Traverse handles POST /api/graph/traverse
func (h *Handler) Traverse(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	var req TraverseRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	result, err := h.svc.Traverse(c.Request().Context(), tenantID, auth.ActorID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// ShortestPath handles POST /api/graph/path
// A missing path is a 200 with "path": null.
func (h *Handler) ShortestPath(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	var req ShortestPathRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	path, err := h.svc.FindShortestPath(c.Request().Context(), tenantID, auth.ActorID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ShortestPathResponse{Path: path})
}

// ExplainPath handles POST /api/graph/path/explain
func (h *Handler) ExplainPath(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	var req ShortestPathRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	result, err := h.svc.ExplainPath(c.Request().Context(), tenantID, auth.ActorID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Merge handles POST /api/graph/merge
// @Summary      Merge duplicate nodes
// @Tags         graph
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        request body MergeRequest true "Merge"
// @Success      200 {object} MergeResult
// @Router       /api/graph/merge [post]
func (h *Handler) Merge(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	var req MergeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	result, err := h.svc.MergeNodes(c.Request().Context(), tenantID, auth.ActorID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// =============================================================================
// Analytics
// =============================================================================

// ComputeCentrality handles POST /api/graph/metrics/centrality
func (h *Handler) ComputeCentrality(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	result, err := h.svc.ComputeCentrality(c.Request().Context(), tenantID, auth.ActorID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// ComputeClusters handles POST /api/graph/metrics/clusters
func (h *Handler) ComputeClusters(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	result, err := h.svc.ComputeClusters(c.Request().Context(), tenantID, auth.ActorID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// GetMetrics handles GET /api/graph/metrics
func (h *Handler) GetMetrics(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	result, err := h.svc.GetMetrics(c.Request().Context(), tenantID, auth.ActorID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// =============================================================================
// Param helpers
// =============================================================================

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperror.NewBadRequest("invalid " + name)
	}
	return id, nil
}

func uuidQuery(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperror.NewBadRequest("invalid " + name)
	}
	return &id, nil
}

func boolQuery(c echo.Context, name string) (*bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperror.NewBadRequest("invalid " + name)
	}
	return &b, nil
}

func pageQuery(c echo.Context) (limit, offset int, err error) {
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			return 0, 0, apperror.NewBadRequest("invalid limit")
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil {
			return 0, 0, apperror.NewBadRequest("invalid offset")
		}
	}
	return limit, offset, nil
}

// listParam accepts repeated and comma-separated values.
func listParam(c echo.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryParams()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
