package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedFilesAreAnnotated(t *testing.T) {
	for _, dir := range []string{"sql/migrations", "sql/seeds"} {
		entries, err := fs.ReadDir(embedded, dir)
		require.NoError(t, err)
		require.NotEmpty(t, entries, dir)
		for _, e := range entries {
			body, err := fs.ReadFile(embedded, dir+"/"+e.Name())
			require.NoError(t, err)
			text := string(body)
			assert.Contains(t, text, "-- +goose Up", e.Name())
			assert.Contains(t, text, "-- +goose Down", e.Name())
		}
	}
}

func TestSeedsAreIdempotent(t *testing.T) {
	entries, err := fs.ReadDir(embedded, "sql/seeds")
	require.NoError(t, err)
	for _, e := range entries {
		body, err := fs.ReadFile(embedded, "sql/seeds/"+e.Name())
		require.NoError(t, err)
		text := strings.ToLower(string(body))
		assert.True(t, strings.Contains(text, "on conflict") || strings.Contains(text, "not exists"), e.Name())
	}
}

func TestSourcesInVersionOrder(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	names, err := NewManager(db).Sources()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"00001_reference_data.sql",
		"00002_permits.sql",
		"00003_evidences.sql",
	}, names)
}
