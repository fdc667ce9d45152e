package migration

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openMemory(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRun_CreatesTablesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	runner := NewRunner()

	require.NoError(t, runner.Run(ctx, db))
	require.NoError(t, runner.Run(ctx, db))

	var tables []string
	require.NoError(t, db.SelectContext(ctx, &tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`))
	assert.Contains(t, tables, "analysis_reports")
	assert.Contains(t, tables, "schema_version")

	versions, err := AppliedVersions(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, versions)
}

func TestDialectFor(t *testing.T) {
	d, err := dialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "JSONB", d.payload)

	d, err = dialectFor("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "TEXT", d.payload)

	_, err = dialectFor("mysql")
	assert.Error(t, err)
}
