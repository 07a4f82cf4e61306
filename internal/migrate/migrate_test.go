package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/entitygraph/migrations"
)

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, e := range entries {
		raw, err := fs.ReadFile(migrations.FS, e.Name())
		require.NoError(t, err)

		body := string(raw)
		assert.True(t, strings.HasSuffix(e.Name(), ".sql"), e.Name())
		assert.Contains(t, body, "-- +goose Up", e.Name())
		assert.Contains(t, body, "-- +goose Down", e.Name())
	}
}

func TestPrepare(t *testing.T) {
	assert.NoError(t, prepare())
}
