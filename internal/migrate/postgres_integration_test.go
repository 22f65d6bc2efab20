//go:build integration

package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exodus/internal/config"
	"exodus/internal/db"
	"exodus/internal/storage"
)

// Run with: EXODUS_TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/migrate/
func TestPostgresMigrateAndRollback(t *testing.T) {
	dsn := os.Getenv("EXODUS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EXODUS_TEST_POSTGRES_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	adapter, err := db.Open(config.DBConfig{Adapter: "postgresql", DSN: dsn})
	require.NoError(t, err)
	defer adapter.Close()

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	table := "public.exodus_it_migrations_" + suffix
	backend, err := NewBackend(adapter, table)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = adapter.Exec(context.Background(), "DROP TABLE IF EXISTS "+db.Postgres.QuoteIdent(table))
	})

	dir := t.TempDir()
	var tables []string
	for i, name := range []string{"a", "b", "c"} {
		tbl := fmt.Sprintf("public.exodus_it_%s_%s", name, suffix)
		tables = append(tables, tbl)
		text := strings.NewReplacer(
			"-- CREATE TABLE public.example (id SERIAL PRIMARY KEY);", "CREATE TABLE "+tbl+" (id SERIAL PRIMARY KEY);",
			"-- DROP TABLE public.example;", "DROP TABLE "+tbl+";",
		).Replace(storage.Template(db.Postgres))
		file := fmt.Sprintf("%d_%s.sql", i+1, name)
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(text), 0o644))
	}

	engine := NewEngine(adapter, backend, storage.Dir{}, dir, discardLogger())
	applied, err := engine.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1_a.sql", "2_b.sql", "3_c.sql"}, applied)
	for _, tbl := range tables {
		assert.True(t, relationExists(ctx, t, adapter, tbl), tbl)
	}

	st, err := engine.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Applied, 3)
	assert.Empty(t, st.Pending)

	rolled, err := engine.Rollback(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"3_c.sql", "2_b.sql", "1_a.sql"}, rolled)
	for _, tbl := range tables {
		assert.False(t, relationExists(ctx, t, adapter, tbl), tbl)
	}
}

func relationExists(ctx context.Context, t *testing.T, q db.Executor, name string) bool {
	t.Helper()
	var found bool
	require.NoError(t, q.Query(ctx, func(r db.Row) error {
		return r.Scan(&found)
	}, `SELECT to_regclass($1) IS NOT NULL`, name))
	return found
}
