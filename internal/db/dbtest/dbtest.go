// Package dbtest provides migrated throwaway SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/expense-tracker/apiserver/config"
	"github.com/expense-tracker/apiserver/internal/db"
	"github.com/stretchr/testify/require"
)

// Config returns a sqlite database config pointing into the test's temp dir.
func Config(t testing.TB) config.DatabaseConfig {
	t.Helper()
	return config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "expenses_test.db"),
	}
}

// Open migrates a fresh database and returns a pool closed at test cleanup.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	cfg := Config(t)
	require.NoError(t, db.MigrateUp(cfg), "migrate test database")

	conn, err := db.Open(context.Background(), cfg)
	require.NoError(t, err, "open test database")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
