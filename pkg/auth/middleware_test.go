package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/entitygraph/pkg/apperror"
)

func TestRequireTenant(t *testing.T) {
	tenant := uuid.New()
	actor := uuid.New()

	tests := []struct {
		name      string
		tenant    string
		actor     string
		wantErr   bool
		wantActor bool
	}{
		{name: "tenant and actor", tenant: tenant.String(), actor: actor.String(), wantActor: true},
		{name: "tenant only", tenant: tenant.String()},
		{name: "missing tenant", wantErr: true},
		{name: "malformed tenant", tenant: "acme", wantErr: true},
		{name: "malformed actor", tenant: tenant.String(), actor: "bob", wantErr: true},
	}

	m := NewMiddleware(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.tenant != "" {
				req.Header.Set(HeaderTenantID, tt.tenant)
			}
			if tt.actor != "" {
				req.Header.Set(HeaderActorID, tt.actor)
			}
			c := e.NewContext(req, httptest.NewRecorder())

			var seen *Principal
			err := m.RequireTenant()(func(c echo.Context) error {
				seen = GetPrincipal(c)
				return nil
			})(c)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperror.ErrBadRequest)
				assert.Nil(t, seen)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, seen)
			assert.Equal(t, tenant, seen.TenantID)
			if tt.wantActor {
				require.NotNil(t, seen.ActorID)
				assert.Equal(t, actor, *seen.ActorID)
			} else {
				assert.Nil(t, seen.ActorID)
			}
		})
	}
}

func TestTenantID_WithoutPrincipal(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	_, err := TenantID(c)
	assert.Error(t, err)
	assert.Nil(t, ActorID(c))
}
