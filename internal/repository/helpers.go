package repository

import (
	"context"
	"database/sql"
	"errors"
)

// sqlxDB is the query surface shared by *sqlx.DB and *sqlx.Tx, so a
// repository can run against either a pooled connection or an open
// transaction.
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// HandleNotFound converts sql.ErrNoRows into a nil record without error.
// Session fragments and wallet profiles are routinely looked up before they
// exist, so a missing row is an answer, not a failure.
//
// Usage:
//
//	var record model.WalletSessionRecord
//	err := r.db.GetContext(ctx, &record, query, args...)
//	return HandleNotFound(&record, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
