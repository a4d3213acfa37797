// Package postgres is the PostgreSQL backend of the store. Connections are
// pooled with pgxpool, queries are built with goqu and the schema is managed
// by goose migrations embedded in the binary.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	dialectPostgres = "postgres"

	tableUsers     = "users"
	tableSessions  = "sessions"
	tableProfiles  = "profiles"
	tableReadBooks = "profile_read_books"
	tableReviews   = "reviews"

	pgUniqueViolation = "23505"
)

var dialect = goqu.Dialect(dialectPostgres)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// sqlBuilder is any goqu dataset.
type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

// Store provides PostgreSQL-backed persistence for the Bookshelf server.
type Store struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	emitter store.EventEmitter
	clock   *store.Clock
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, applies pending migrations and returns the store.
func Open(ctx context.Context, dsn string, logger *slog.Logger, emitter store.EventEmitter) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if emitter == nil {
		emitter = store.NewNoopEmitter()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	logger.Info("PostgreSQL database opened")
	return &Store{
		pool:    pool,
		logger:  logger,
		emitter: emitter,
		clock:   store.NewClock(),
	}, nil
}

// migrate runs the embedded goose migrations over a database/sql handle
// that borrows connections from the pool.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialectPostgres); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) exec(ctx context.Context, q querier, b sqlBuilder) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) queryRow(ctx context.Context, q querier, b sqlBuilder) (pgx.Row, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.QueryRow(ctx, query, args...), nil
}

func (s *Store) query(ctx context.Context, q querier, b sqlBuilder) (pgx.Rows, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.Query(ctx, query, args...)
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
