package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/tgcalendar/internal/store"
	"github.com/tyemirov/tgcalendar/internal/store/internal/sealed"
)

const (
	driverLabel = "postgres"
	// uniqueViolation is the SQLSTATE of a unique constraint failure.
	uniqueViolation = "23505"
)

// BuildPool creates a pgx pool with sane defaults.
func BuildPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	config.MinConns = 1
	config.MaxConns = 8
	config.MaxConnLifetime = 30 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	return pgxpool.NewWithConfig(ctx, config)
}

// DB owns the connection pool of the relational backend.
type DB struct {
	pool     *pgxpool.Pool
	reporter store.ErrorReporter
}

// Open builds the pool and verifies connectivity.
func Open(ctx context.Context, databaseURL string, reporter store.ErrorReporter) (*DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("pg_store.open: %w", store.ErrEmptyDatabaseURL)
	}
	pool, err := BuildPool(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pg_store.open: %w", err)
	}
	if pingErr := pool.Ping(ctx); pingErr != nil {
		pool.Close()
		return nil, fmt.Errorf("pg_store.ping: %w", pingErr)
	}
	return &DB{pool: pool, reporter: reporter}, nil
}

// Begin starts a transaction-scoped session.
func (database *DB) Begin(ctx context.Context) (*Session, error) {
	transaction, err := database.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pg_store.begin: %w", err)
	}
	return &Session{tx: transaction, reporter: database.reporter}, nil
}

// Close closes the pool.
func (database *DB) Close() error {
	database.pool.Close()
	return nil
}

// Session is a pgx transaction bound to one request.
type Session struct {
	sealed.Marker
	tx       pgx.Tx
	reporter store.ErrorReporter
}

var _ store.Session = (*Session)(nil)

// Kind reports the relational backend.
func (session *Session) Kind() store.Kind {
	return store.KindPostgres
}

// Commit commits the transaction and returns its connection to the pool.
func (session *Session) Commit(ctx context.Context) error {
	if err := session.tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("pg_store.commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Calling it after Commit is a no-op.
func (session *Session) Rollback(ctx context.Context) error {
	if err := session.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("pg_store.rollback: %w", err)
	}
	return nil
}

// NewRepositories binds both repositories to the session.
func NewRepositories(session *Session) store.Repositories {
	return store.Repositories{
		Users:  &UserRepository{db: session.tx, reporter: session.reporter},
		Tokens: &TokenRepository{db: session.tx, reporter: session.reporter},
	}
}

// querier is satisfied by pgx.Tx, *pgx.Conn and *pgxpool.Pool.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// translate maps unique constraint violations to store.ErrDuplicate.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
	}
	return err
}

func nullable(value *string) *string {
	if value == nil || *value == "" {
		return nil
	}
	copied := *value
	return &copied
}
