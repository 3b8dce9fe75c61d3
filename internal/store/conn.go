package store

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type connKey struct{}

// Acquire reserves one pooled connection for the lifetime of a request.
// Repositories called with the returned context run on that connection.
// The release func must be called exactly once, typically deferred.
func Acquire(ctx context.Context, db *sql.DB) (context.Context, func(), error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return ctx, func() {}, err
	}
	release := func() {
		_ = conn.Close()
	}
	return context.WithValue(ctx, connKey{}, conn), release, nil
}

// querier returns the request-scoped connection when present and the pool otherwise.
func querier(ctx context.Context, db DBTX) DBTX {
	if conn, ok := ctx.Value(connKey{}).(*sql.Conn); ok && conn != nil {
		return conn
	}
	return db
}
