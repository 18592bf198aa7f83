// Package warehouse wraps the SQL connection to the analytical warehouse
// with query logging and secret redaction.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/rudderlabs/redshift-manager/internal/logfield"
	"github.com/rudderlabs/redshift-manager/utils/misc"
)

// Credentials identify one warehouse database.
type Credentials struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string
}

// Connect opens a database handle to the warehouse. Redshift speaks the
// Postgres wire protocol, so lib/pq is used as the driver.
func Connect(cred Credentials) (*sql.DB, error) {
	if cred.SSLMode == "" {
		cred.SSLMode = "require"
	}
	dsn := fmt.Sprintf("sslmode=%s user=%s password=%s host=%s port=%s dbname=%s",
		cred.SSLMode,
		cred.User,
		cred.Password,
		cred.Host,
		cred.Port,
		cred.Database,
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("warehouse connect: %w", err)
	}
	return db, nil
}

type Opt func(*DB)

type logger interface {
	Infow(msg string, keysAndValues ...interface{})
}

// DB decorates *sql.DB, logging statements that exceed the slow-query
// threshold with credentials redacted.
type DB struct {
	*sql.DB

	since              func(time.Time) time.Duration
	logger             logger
	keysAndValues      []any
	slowQueryThreshold time.Duration
	secretsRegex       map[string]string
}

func WithLogger(logger logger) Opt {
	return func(db *DB) {
		db.logger = logger
	}
}

func WithKeyAndValues(keyAndValues ...any) Opt {
	return func(db *DB) {
		db.keysAndValues = keyAndValues
	}
}

func WithSlowQueryThreshold(slowQueryThreshold time.Duration) Opt {
	return func(db *DB) {
		db.slowQueryThreshold = slowQueryThreshold
	}
}

func WithSecretsRegex(secretsRegex map[string]string) Opt {
	return func(db *DB) {
		db.secretsRegex = secretsRegex
	}
}

func New(db *sql.DB, opts ...Opt) *DB {
	wrapped := &DB{
		DB:                 db,
		since:              time.Since,
		slowQueryThreshold: 300 * time.Second,
		secretsRegex: map[string]string{
			"CREDENTIALS '[^']*'": "CREDENTIALS '***'",
		},
	}
	for _, opt := range opts {
		opt(wrapped)
	}
	return wrapped
}

func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	startedAt := time.Now()
	result, err := db.DB.Exec(query, args...)
	db.logQuery(query, db.since(startedAt))
	return result, err
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	startedAt := time.Now()
	result, err := db.DB.ExecContext(ctx, query, args...)
	db.logQuery(query, db.since(startedAt))
	return result, err
}

func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	startedAt := time.Now()
	rows, err := db.DB.Query(query, args...)
	db.logQuery(query, db.since(startedAt))
	return rows, err
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	startedAt := time.Now()
	rows, err := db.DB.QueryContext(ctx, query, args...)
	db.logQuery(query, db.since(startedAt))
	return rows, err
}

func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	startedAt := time.Now()
	row := db.DB.QueryRow(query, args...)
	db.logQuery(query, db.since(startedAt))
	return row
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	startedAt := time.Now()
	row := db.DB.QueryRowContext(ctx, query, args...)
	db.logQuery(query, db.since(startedAt))
	return row
}

// TableExists probes information_schema for the given table. The name may be
// schema-qualified; unqualified names are resolved against public.
func (db *DB) TableExists(ctx context.Context, table string) (bool, error) {
	schema, name := "public", table
	if idx := strings.IndexByte(table, '.'); idx >= 0 {
		schema, name = table[:idx], table[idx+1:]
	}
	schema = strings.Trim(schema, `"`)
	name = strings.Trim(name, `"`)

	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
		  SELECT 1
		    FROM information_schema.tables
		   WHERE table_schema = $1
		     AND table_name = $2
		);`,
		schema,
		name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking table %q exists: %w", table, err)
	}
	return exists, nil
}

func (db *DB) logQuery(query string, elapsed time.Duration) {
	if db.logger == nil || elapsed < db.slowQueryThreshold {
		return
	}

	sanitizedQuery, _ := misc.ReplaceMultiRegex(query, db.secretsRegex)

	keysAndValues := []any{
		logfield.Query, sanitizedQuery,
		logfield.QueryExecutionTime, elapsed,
	}
	keysAndValues = append(keysAndValues, db.keysAndValues...)

	db.logger.Infow("executing query", keysAndValues...)
}
