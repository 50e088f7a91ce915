// Package postgres contains PostgreSQL implementations of repository interfaces.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/and161185/kanban-keeper/internal/errs"
)

// PgxPool is a minimal abstraction over a Postgres connection pool,
// used by repositories. It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	// Exec executes a SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query executes a SELECT and returns a rows iterator.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// BeginTx starts a transaction with the provided options.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close shuts down the pool and frees resources.
	Close()
}

// DB wraps pgxpool.Pool to satisfy repository constructors and allow testing.
type DB struct{ Pool PgxPool }

// Connect creates a pool for dsn and waits until the database answers, retrying
// with exponential backoff for up to attempts pings.
func Connect(ctx context.Context, dsn string, attempts uint64) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	b := retry.WithMaxRetries(attempts, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

// Close closes the underlying pool.
func (db *DB) Close() { db.Pool.Close() }

// Constraint names of the per-parent ordering keys; see migrations.
const (
	cardOrderKey   = "cards_column_position_key"
	columnOrderKey = "columns_board_position_key"
)

// IsTransientConflict reports whether err is a concurrency conflict that a fresh
// attempt of the whole transaction may resolve: serialization failure, deadlock,
// lock timeout, or a collision on a sibling ordering key.
func IsTransientConflict(err error) bool {
	var pg *pgconn.PgError
	if !errors.As(err, &pg) {
		return false
	}
	switch pg.Code {
	case "40001", "40P01", "55P03":
		return true
	case "23505":
		return pg.ConstraintName == cardOrderKey || pg.ConstraintName == columnOrderKey
	}
	return false
}

// isUniqueViolation reports whether the error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23505"
}

// isForeignKeyViolation reports whether the error is a foreign key violation.
func isForeignKeyViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23503"
}

// notFound maps pgx.ErrNoRows to a domain not-found error for entity.
func notFound(err error, entity string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFound(entity)
	}
	return err
}
