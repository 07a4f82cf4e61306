package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, method string, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorHandler(slog.Default())(err, c)

	if rec.Body.Len() == 0 {
		return rec, nil
	}
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	inner, _ := body["error"].(map[string]any)
	return rec, inner
}

func TestHTTPErrorHandler(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{
			name:        "app error",
			err:         NewBadRequest("invalid tenant id"),
			wantStatus:  http.StatusBadRequest,
			wantCode:    "bad_request",
			wantMessage: "invalid tenant id",
		},
		{
			name:        "wrapped app error",
			err:         fmt.Errorf("create edge: %w", NewValidation("source_node_not_found")),
			wantStatus:  http.StatusUnprocessableEntity,
			wantCode:    "validation_error",
			wantMessage: "source_node_not_found",
		},
		{
			name:        "echo error with string message",
			err:         echo.NewHTTPError(http.StatusNotFound, "route not found"),
			wantStatus:  http.StatusNotFound,
			wantCode:    "not_found",
			wantMessage: "route not found",
		},
		{
			name:        "echo error with structured message",
			err:         ErrConflict.WithMessage("snapshot is generating").ToEchoError(),
			wantStatus:  http.StatusConflict,
			wantCode:    "conflict",
			wantMessage: "snapshot is generating",
		},
		{
			name:        "unknown error",
			err:         errors.New("kaboom"),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "internal_error",
			wantMessage: "An internal error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := serve(t, http.MethodGet, tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, body["code"])
			assert.Equal(t, tt.wantMessage, body["message"])
		})
	}
}

func TestHTTPErrorHandler_Details(t *testing.T) {
	err := NewValidation("invalid filter").WithDetails(map[string]any{"field": "score"})
	_, body := serve(t, http.MethodPost, err)

	assert.Equal(t, map[string]any{"field": "score"}, body["details"])
}

func TestHTTPErrorHandler_HeadRequest(t *testing.T) {
	rec, body := serve(t, http.MethodHead, ErrNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Nil(t, body)
}

func TestHTTPErrorHandler_CommittedResponse(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, c.String(http.StatusOK, "done"))
	HTTPErrorHandler(slog.Default())(ErrInternal, c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", rec.Body.String())
}
