// Package storagetest opens migrated in-memory databases for store tests.
package storagetest

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/platinummonkey/passportd/pkg/storage/postgres"
	"github.com/stretchr/testify/require"
)

// NewDB returns an in-memory sqlite database with the passportd schema applied.
// The pool holds a single connection, so code under test must not query the
// database while it holds an open transaction or unclosed rows.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = postgres.Migrate(context.Background(), db)
	require.NoError(t, err)
	return db
}
