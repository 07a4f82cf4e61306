package audit

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/auth"
)

// Handler handles HTTP requests for the audit log
type Handler struct {
	svc *Service
}

// NewHandler creates a new audit handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List handles GET /api/audit
// @Summary      List audit entries
// @Tags         audit
// @Produce      json
// @Param        action query string false "Action filter"
// @Param        entity_id query string false "Entity ID filter"
// @Param        limit query int false "Page size (default 50, max 500)"
// @Param        offset query int false "Offset"
// @Success      200 {object} ListResponse
// @Router       /api/audit [get]
func (h *Handler) List(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}

	params := ListParams{TenantID: tenantID}

	if action := c.QueryParam("action"); action != "" {
		a := Action(action)
		params.Action = &a
	}
	if raw := c.QueryParam("entity_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperror.NewBadRequest("invalid entity_id")
		}
		params.EntityID = &id
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return apperror.NewBadRequest("invalid limit")
		}
		params.Limit = limit
	}
	if raw := c.QueryParam("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return apperror.NewBadRequest("invalid offset")
		}
		params.Offset = offset
	}

	result, err := h.svc.List(c.Request().Context(), params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
