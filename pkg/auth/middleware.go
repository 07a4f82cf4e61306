// Package auth carries the caller identity resolved upstream into request context.
// Tokens are verified by the gateway; this service trusts the forwarded headers.
package auth

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderActorID  = "X-Actor-ID"
)

// Principal identifies the tenant and the acting user of a request
type Principal struct {
	TenantID uuid.UUID  `json:"tenantId"`
	ActorID  *uuid.UUID `json:"actorId,omitempty"`
}

type contextKey string

const principalContextKey contextKey = "auth_principal"

// Module provides the tenant middleware
var Module = fx.Module("auth",
	fx.Provide(NewMiddleware),
)

// GetPrincipal retrieves the principal from the Echo context
func GetPrincipal(c echo.Context) *Principal {
	if p, ok := c.Get(string(principalContextKey)).(*Principal); ok {
		return p
	}
	return nil
}

// SetPrincipal stores the principal on the Echo context
func SetPrincipal(c echo.Context, p *Principal) {
	c.Set(string(principalContextKey), p)
}

// TenantID returns the tenant of the request or a bad request error
func TenantID(c echo.Context) (uuid.UUID, error) {
	p := GetPrincipal(c)
	if p == nil {
		return uuid.Nil, apperror.NewBadRequest("x-tenant-id header required")
	}
	return p.TenantID, nil
}

// ActorID returns the acting user of the request, if any
func ActorID(c echo.Context) *uuid.UUID {
	if p := GetPrincipal(c); p != nil {
		return p.ActorID
	}
	return nil
}

// Middleware resolves the principal from forwarded headers
type Middleware struct {
	log *slog.Logger
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(log *slog.Logger) *Middleware {
	return &Middleware{log: log.With(logger.Scope("auth"))}
}

// RequireTenant rejects requests without a valid X-Tenant-ID header.
// X-Actor-ID is optional but must be a UUID when present.
func (m *Middleware) RequireTenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := principalFromHeaders(c)
			if err != nil {
				m.log.Debug("rejected request without tenant context",
					slog.String("path", c.Path()),
					logger.Error(err))
				return err
			}
			SetPrincipal(c, p)
			return next(c)
		}
	}
}

func principalFromHeaders(c echo.Context) (*Principal, error) {
	raw := c.Request().Header.Get(HeaderTenantID)
	if raw == "" {
		return nil, apperror.NewBadRequest("x-tenant-id header required")
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperror.NewBadRequest("x-tenant-id must be a UUID")
	}

	p := &Principal{TenantID: tenantID}
	if rawActor := c.Request().Header.Get(HeaderActorID); rawActor != "" {
		actorID, err := uuid.Parse(rawActor)
		if err != nil {
			return nil, apperror.NewBadRequest("x-actor-id must be a UUID")
		}
		p.ActorID = &actorID
	}
	return p, nil
}
