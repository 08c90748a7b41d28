package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tyemirov/tgcalendar/internal/store"
	"github.com/tyemirov/tgcalendar/internal/store/pgstore"
	"github.com/tyemirov/tgcalendar/internal/store/sqlitestore"
)

var (
	// ErrUnsupportedKind indicates a backend kind with no implementation.
	ErrUnsupportedKind = errors.New("backend.unsupported_kind")
	// ErrSessionMismatch indicates a session opened by a different backend.
	ErrSessionMismatch = errors.New("backend.session_mismatch")
	// ErrSchemeMismatch indicates a database URL whose scheme does not match the kind.
	ErrSchemeMismatch = errors.New("backend.scheme_mismatch")
)

// Config selects and locates the storage backend.
type Config struct {
	Kind store.Kind
	URL  string
}

// Select returns the repositories of kind bound to session.
func Select(kind store.Kind, session store.Session) (store.Repositories, error) {
	switch kind {
	case store.KindSQLite:
		sqliteSession, ok := session.(*sqlitestore.Session)
		if !ok {
			return store.Repositories{}, fmt.Errorf("backend.select.%s: %w", kind, ErrSessionMismatch)
		}
		return sqlitestore.NewRepositories(sqliteSession), nil
	case store.KindPostgres:
		pgSession, ok := session.(*pgstore.Session)
		if !ok {
			return store.Repositories{}, fmt.Errorf("backend.select.%s: %w", kind, ErrSessionMismatch)
		}
		return pgstore.NewRepositories(pgSession), nil
	default:
		return store.Repositories{}, fmt.Errorf("backend.select.%q: %w", kind, ErrUnsupportedKind)
	}
}

type transactor interface {
	begin(ctx context.Context) (store.Session, error)
	Close() error
}

type sqliteTransactor struct {
	*sqlitestore.DB
}

func (database sqliteTransactor) begin(ctx context.Context) (store.Session, error) {
	session, err := database.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

type pgTransactor struct {
	*pgstore.DB
}

func (database pgTransactor) begin(ctx context.Context) (store.Session, error) {
	session, err := database.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Database hands out transaction-scoped repositories for one backend.
type Database struct {
	kind       store.Kind
	transactor transactor
}

// Open connects to the configured backend after checking that the URL
// scheme belongs to the configured kind.
func Open(ctx context.Context, config Config, reporter store.ErrorReporter) (*Database, error) {
	if err := checkScheme(config); err != nil {
		return nil, err
	}
	switch config.Kind {
	case store.KindSQLite:
		database, err := sqlitestore.Open(ctx, config.URL, reporter)
		if err != nil {
			return nil, err
		}
		return &Database{kind: config.Kind, transactor: sqliteTransactor{database}}, nil
	case store.KindPostgres:
		database, err := pgstore.Open(ctx, config.URL, reporter)
		if err != nil {
			return nil, err
		}
		return &Database{kind: config.Kind, transactor: pgTransactor{database}}, nil
	default:
		return nil, fmt.Errorf("backend.open.%q: %w", config.Kind, ErrUnsupportedKind)
	}
}

// Kind reports the backend in use.
func (database *Database) Kind() store.Kind {
	return database.kind
}

// Transaction runs work inside one storage transaction. The transaction is
// committed when work succeeds and rolled back on error or panic.
func (database *Database) Transaction(ctx context.Context, work func(store.Repositories) error) (err error) {
	session, beginErr := database.transactor.begin(ctx)
	if beginErr != nil {
		return beginErr
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			_ = session.Rollback(ctx)
			panic(recovered)
		}
	}()

	repositories, selectErr := Select(database.kind, session)
	if selectErr != nil {
		_ = session.Rollback(ctx)
		return selectErr
	}
	if workErr := work(repositories); workErr != nil {
		if rollbackErr := session.Rollback(ctx); rollbackErr != nil {
			return errors.Join(workErr, rollbackErr)
		}
		return workErr
	}
	return session.Commit(ctx)
}

// CreateSchema creates the users and tokens tables in one transaction.
func (database *Database) CreateSchema(ctx context.Context) error {
	return database.Transaction(ctx, func(repositories store.Repositories) error {
		if err := repositories.Users.CreateSchema(ctx); err != nil {
			return err
		}
		return repositories.Tokens.CreateSchema(ctx)
	})
}

// DropSchema removes both tables.
func (database *Database) DropSchema(ctx context.Context) error {
	return database.Transaction(ctx, func(repositories store.Repositories) error {
		return repositories.Users.DropSchema(ctx)
	})
}

// Close releases the backend connections.
func (database *Database) Close() error {
	return database.transactor.Close()
}

func checkScheme(config Config) error {
	parsed, err := url.Parse(config.URL)
	if err != nil {
		return fmt.Errorf("backend.parse_url: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	var matches bool
	switch config.Kind {
	case store.KindSQLite:
		matches = scheme == "sqlite" || scheme == "sqlite3"
	case store.KindPostgres:
		matches = scheme == "postgres" || scheme == "postgresql"
	default:
		return fmt.Errorf("backend.open.%q: %w", config.Kind, ErrUnsupportedKind)
	}
	if !matches {
		return fmt.Errorf("backend.open.%s.%s: %w", config.Kind, scheme, ErrSchemeMismatch)
	}
	return nil
}
