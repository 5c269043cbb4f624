package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Database is the query surface shared by *pgxpool.Pool, pgx.Tx and pgxmock pools
type Database interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	// ErrDuplicate reports a unique constraint violation
	ErrDuplicate = errors.New("duplicate record")

	// ErrStoreUnavailable reports that the store could not serve the call
	// (connection failure, timeout, cancellation or a broken query)
	ErrStoreUnavailable = errors.New("store unavailable")
)

const uniqueViolation = "23505"

// classify tags a driver error with ErrDuplicate or ErrStoreUnavailable
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w (%s)", op, ErrDuplicate, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// ctxErr reports a cancelled or expired context as a store failure
func ctxErr(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return classify(op, err)
	}
	return nil
}
