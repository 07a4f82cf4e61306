package snapshots

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/auth"
)

// Handler handles HTTP requests for snapshots.
type Handler struct {
	svc *Service
}

// NewHandler creates a new snapshot handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /api/snapshots
// @Summary      Create snapshot
// @Description  Stores a pending snapshot and schedules generation. Poll GET /api/snapshots/{id} for the outcome.
// @Tags         snapshots
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string true "Tenant ID"
// @Param        request body CreateSnapshotRequest true "Snapshot"
// @Success      202 {object} Snapshot
// @Failure      422 {object} apperror.Error "Validation error"
// @Router       /api/snapshots [post]
func (h *Handler) Create(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}
	var req CreateSnapshotRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	snap, err := h.svc.Create(c.Request().Context(), tenantID, auth.ActorID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, snap)
}

// List handles GET /api/snapshots
func (h *Handler) List(c echo.Context) error {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return err
	}

	var params ListParams
	if raw := c.QueryParam("status"); raw != "" {
		st := Status(raw)
		params.Status = &st
	}
	if raw := c.QueryParam("type"); raw != "" {
		typ := SnapshotType(raw)
		params.SnapshotType = &typ
	}
	if raw := c.QueryParam("limit"); raw != "" {
		if params.Limit, err = strconv.Atoi(raw); err != nil {
			return apperror.NewBadRequest("invalid limit")
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		if params.Offset, err = strconv.Atoi(raw); err != nil {
			return apperror.NewBadRequest("invalid offset")
		}
	}

	resp, err := h.svc.List(c.Request().Context(), tenantID, params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/snapshots/:id
func (h *Handler) Get(c echo.Context) error {
	tenantID, id, err := tenantAndID(c)
	if err != nil {
		return err
	}
	snap, err := h.svc.Get(c.Request().Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

// Regenerate handles POST /api/snapshots/:id/regenerate
func (h *Handler) Regenerate(c echo.Context) error {
	tenantID, id, err := tenantAndID(c)
	if err != nil {
		return err
	}
	snap, err := h.svc.Regenerate(c.Request().Context(), tenantID, auth.ActorID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, snap)
}

// Delete handles DELETE /api/snapshots/:id
func (h *Handler) Delete(c echo.Context) error {
	tenantID, id, err := tenantAndID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), tenantID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func tenantAndID(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := auth.TenantID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, apperror.NewBadRequest("invalid id")
	}
	return tenantID, id, nil
}
