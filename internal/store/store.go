// Package store persists tasks, messages and translations behind database/sql.
// The driver is selected from the DATABASE_URL scheme: sqlite (default, used
// by tests via file::memory:), postgres via pgx stdlib, and mysql.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/verbatik/agent-stream/internal/apperr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Driver identifies the backing database engine.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// DefaultURL is the development/test database: shared in-memory SQLite.
const DefaultURL = "file::memory:?cache=shared"

// Store is the persistence interface the orchestrator and HTTP layer use.
type Store interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	SetTaskStatus(ctx context.Context, id string, status TaskStatus) error
	UpdateTaskRunID(ctx context.Context, id, runID string) error

	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (Message, error)
	SetMessageStatus(ctx context.Context, id string, status MessageStatus) error
	UpdateMessageThread(ctx context.Context, id, threadID string) error
	UpdateMessageText(ctx context.Context, id, text string) error
	UpdateMessageRunID(ctx context.Context, id, runID string) error
	AppendMessageContent(ctx context.Context, messageID string, part ContentPart) error

	UpsertFilePreset(ctx context.Context, preset *FilePreset) error
	GetFilePreset(ctx context.Context, id string) (FilePreset, error)
	UpsertOriginalText(ctx context.Context, text *OriginalText) error
	GetOriginalText(ctx context.Context, fileID string) (OriginalText, error)

	CreateTranslation(ctx context.Context, tr *Translation) error
	GetTranslation(ctx context.Context, id string) (Translation, error)
	SetTranslationStatus(ctx context.Context, id string, status TranslationStatus) error
	ListTranslations(ctx context.Context, fileID string) ([]Translation, error)
	FinalizeTranslation(ctx context.Context, id string, agentData string, status TranslationStatus, message string) error
	UpdateTranslationText(ctx context.Context, id, translatedText string) error

	Close() error
}

// DB implements Store over database/sql.
type DB struct {
	db     *sql.DB
	driver Driver
}

// Ping verifies the database connection, for readiness probes.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

var _ Store = (*DB)(nil)

// Open connects to the database named by databaseURL, configures the pool and
// applies pending migrations. An empty URL opens the in-memory default.
func Open(databaseURL string) (*DB, error) {
	if databaseURL == "" {
		databaseURL = DefaultURL
	}

	driver, dsn := resolveDriver(databaseURL)
	db, err := sql.Open(sqlDriverName(driver), dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "opening database", err)
	}

	// In-memory SQLite is per-connection; a second connection would see an
	// empty schema.
	if driver == DriverSQLite && (strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(apperr.KindStorage, "pinging database", err)
	}

	s := &DB{db: db, driver: driver}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies pending schema migrations.
func (d *DB) Migrate() error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(gooseDialect(d.driver)); err != nil {
		return apperr.Wrap(apperr.KindStorage, "setting migration dialect", err)
	}
	if err := goose.Up(d.db, "migrations"); err != nil {
		return apperr.Wrap(apperr.KindStorage, "applying migrations", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Driver returns the active database driver.
func (d *DB) Driver() Driver { return d.driver }

// resolveDriver picks the driver from the URL scheme. SQLite DSNs (paths,
// file: URLs, :memory:) are passed through; the mysql:// prefix is stripped
// because go-sql-driver expects a plain DSN.
func resolveDriver(databaseURL string) (Driver, string) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres, databaseURL
	case strings.HasPrefix(databaseURL, "mysql://"):
		return DriverMySQL, strings.TrimPrefix(databaseURL, "mysql://")
	default:
		return DriverSQLite, sqliteDSN(databaseURL)
	}
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&_journal=WAL&_foreign_keys=on&_loc=UTC"
	}
	return dsn + "?_journal=WAL&_foreign_keys=on&_loc=UTC"
}

func sqlDriverName(driver Driver) string {
	switch driver {
	case DriverPostgres:
		return "pgx"
	case DriverMySQL:
		return "mysql"
	default:
		return "sqlite3"
	}
}

func gooseDialect(driver Driver) string {
	switch driver {
	case DriverPostgres:
		return "postgres"
	case DriverMySQL:
		return "mysql"
	default:
		return "sqlite3"
	}
}

// rebind converts ? placeholders to $n for postgres. SQLite and MySQL use ?
// natively.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 10)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.rebind(query), args...)
}

func (d *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.rebind(query), args...)
}

// transaction runs fn in a transaction, rolling back on error or panic.
func (d *DB) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "beginning transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindStorage, "committing transaction", err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
