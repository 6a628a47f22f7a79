package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/apollo-xwb/paysecure/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the repositories translate
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeCheckViolation      = "23514"
	codeInvalidTextRepr     = "22P02"
	codeQueryCanceled       = "57014"
)

// MapPostgresError translates driver errors into the model sentinels the services
// switch on. Unrecognized errors are returned unchanged.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeUniqueViolation:
		return models.ErrConflict
	case codeForeignKeyViolation, codeNotNullViolation, codeCheckViolation:
		return models.ErrBadRequest
	case codeInvalidTextRepr:
		// a malformed uuid can never name a stored row
		return models.ErrNotFound
	case codeQueryCanceled:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, pgErr.Message)
	}
	return err
}

// WithTransaction runs fn in a read-committed transaction. pgx commits when fn
// returns nil and rolls back otherwise.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, db.Pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}
