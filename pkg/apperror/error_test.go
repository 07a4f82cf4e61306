package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without internal",
			err:  New(http.StatusNotFound, "not_found", "node missing"),
			want: "not_found: node missing",
		},
		{
			name: "with internal",
			err:  ErrDatabase.WithInternal(errors.New("connection reset")),
			want: "database_error: Database operation failed (connection reset)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorIs(t *testing.T) {
	derived := ErrNotFound.WithMessage("edge 'x' not found")
	wrapped := fmt.Errorf("load edge: %w", derived)

	assert.True(t, errors.Is(derived, ErrNotFound))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrValidation))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("provider timeout")
	err := NewUpstream("embedding provider", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
	assert.Equal(t, "embedding provider unavailable", err.Message)
}

func TestCopiesDoNotMutateSentinel(t *testing.T) {
	_ = ErrValidation.WithMessage("label is required").WithDetails(map[string]any{"field": "label"})

	assert.Equal(t, "Validation failed", ErrValidation.Message)
	assert.Nil(t, ErrValidation.Details)
}

func TestWithInternalKeepsDetails(t *testing.T) {
	err := ErrValidation.WithDetails(map[string]any{"field": "weight"}).WithInternal(errors.New("negative"))
	assert.Equal(t, "weight", err.Details["field"])
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"app error", NewValidation("bad filter"), http.StatusUnprocessableEntity, "validation_error"},
		{"wrapped app error", fmt.Errorf("ctx: %w", NewNotFound("node", "42")), http.StatusNotFound, "not_found"},
		{"plain error", errors.New("oops"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ToHTTPError(tt.err)
			assert.Equal(t, tt.wantStatus, status)

			inner, ok := body["error"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, inner["code"])
		})
	}
}

func TestToEchoError(t *testing.T) {
	he := ErrConflict.WithMessage("snapshot is generating").WithDetails(map[string]any{"status": "generating"}).ToEchoError()

	assert.Equal(t, http.StatusConflict, he.Code)
	msg := he.Message.(map[string]any)["error"].(map[string]any)
	assert.Equal(t, "conflict", msg["code"])
	assert.Equal(t, map[string]any{"status": "generating"}, msg["details"])
}
