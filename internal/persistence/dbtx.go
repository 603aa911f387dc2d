package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// DBTX abstracts *sql.DB and *sql.Tx so store methods can run either
// standalone or inside the projector's per-event transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsLockConflict reports whether the error is a Postgres serialization
// failure, deadlock, or lock-not-available condition. The projector
// treats these as transient and retries the whole event with backoff.
func IsLockConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

