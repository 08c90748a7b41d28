package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/tyemirov/tgcalendar/internal/store"
	"github.com/tyemirov/tgcalendar/internal/store/internal/sealed"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const driverLabel = "sqlite"

var (
	// ErrUnsupportedScheme indicates a database URL that is not sqlite:// or sqlite3://.
	ErrUnsupportedScheme = errors.New("sqlite_store.unsupported_scheme")

	errSQLiteEmptyPath  = errors.New("sqlite_store.empty_path")
	errSQLiteInvalidURL = errors.New("sqlite_store.invalid_url")
)

// DB owns the GORM handle of the embedded backend.
type DB struct {
	gormDB   *gorm.DB
	reporter store.ErrorReporter
}

// Open connects to the SQLite file named by a sqlite:// URL. Foreign keys are
// always enabled so token rows cascade with their user.
func Open(ctx context.Context, databaseURL string, reporter store.ErrorReporter) (*DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("sqlite_store.open: %w", store.ErrEmptyDatabaseURL)
	}
	parsed, parseErr := url.Parse(databaseURL)
	if parseErr != nil {
		return nil, fmt.Errorf("sqlite_store.parse_url: %w", parseErr)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "sqlite", "sqlite3":
	default:
		return nil, fmt.Errorf("sqlite_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedScheme)
	}
	dsn, dsnErr := buildSQLiteDSN(parsed)
	if dsnErr != nil {
		return nil, fmt.Errorf("sqlite_store.dsn: %w", dsnErr)
	}
	gormDB, openErr := gorm.Open(sqliteDialector.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if openErr != nil {
		return nil, fmt.Errorf("sqlite_store.open.%s: %w", driverLabel, openErr)
	}
	sqlDB, handleErr := gormDB.DB()
	if handleErr != nil {
		return nil, fmt.Errorf("sqlite_store.open.%s: %w", driverLabel, handleErr)
	}
	// One writer per file. Callers keep transactions short and never hold one
	// across a remote call, so queueing on the connection stays brief.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite_store.ping.%s: %w", driverLabel, pingErr)
	}
	return &DB{gormDB: gormDB, reporter: reporter}, nil
}

// Begin starts a transaction-scoped session.
func (database *DB) Begin(ctx context.Context) (*Session, error) {
	transaction := database.gormDB.WithContext(ctx).Begin()
	if transaction.Error != nil {
		return nil, fmt.Errorf("sqlite_store.begin: %w", transaction.Error)
	}
	return &Session{tx: transaction, reporter: database.reporter}, nil
}

// Close releases the underlying connection.
func (database *DB) Close() error {
	sqlDB, err := database.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Session is a GORM transaction bound to one request.
type Session struct {
	sealed.Marker
	tx       *gorm.DB
	reporter store.ErrorReporter
	finished bool
}

var _ store.Session = (*Session)(nil)

// Kind reports the embedded backend.
func (session *Session) Kind() store.Kind {
	return store.KindSQLite
}

// Commit commits the transaction.
func (session *Session) Commit(ctx context.Context) error {
	if session.finished {
		return nil
	}
	session.finished = true
	if err := session.tx.Commit().Error; err != nil {
		return fmt.Errorf("sqlite_store.commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Calling it after Commit is a no-op.
func (session *Session) Rollback(ctx context.Context) error {
	if session.finished {
		return nil
	}
	session.finished = true
	if err := session.tx.Rollback().Error; err != nil {
		return fmt.Errorf("sqlite_store.rollback: %w", err)
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

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	query := parsed.RawQuery
	if !strings.Contains(query, "foreign_keys") {
		if query != "" {
			query += "&"
		}
		query += "_pragma=foreign_keys(1)"
	}
	builder.WriteString("?")
	builder.WriteString(query)
	return builder.String(), nil
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// translate maps unique constraint violations to store.ErrDuplicate.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
	}
	return err
}

func optionalValue(value *string) any {
	if value == nil || *value == "" {
		return nil
	}
	return *value
}

func optionalPointer(value *string) *string {
	if value == nil || *value == "" {
		return nil
	}
	trimmed := *value
	return &trimmed
}
