package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Options configures the connection and its pool
type Options struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB represents the database connection with pooling
type DB struct {
	*sqlx.DB
	opts Options
}

// ParseURL maps a DATABASE_URL to a driver name and DSN. sqlite://<path> opens a file
// with WAL and a busy timeout; postgres:// and postgresql:// are passed to lib/pq as is.
func ParseURL(url string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite URL has no path")
		}
		if path == ":memory:" {
			return DriverSQLite, "file::memory:?cache=shared&_foreign_keys=on", nil
		}
		return DriverSQLite, path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres, url, nil
	default:
		return "", "", fmt.Errorf("unsupported database URL scheme in %q", redact(url))
	}
}

func redact(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i+3] + "..."
	}
	return "..."
}

// Open connects, configures pooling and runs migrations
func Open(ctx context.Context, opts Options) (*DB, error) {
	driver, dsn, err := ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite && !strings.HasPrefix(dsn, "file::memory:") {
		dir := filepath.Dir(strings.TrimPrefix(opts.URL, "sqlite://"))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	conn, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := New(conn, opts)
	if err := db.Migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Database initialized with connection pooling",
		"driver", driver,
		"max_open_conns", opts.MaxOpenConns,
		"max_idle_conns", opts.MaxIdleConns,
		"max_lifetime", opts.ConnMaxLifetime)

	return db, nil
}

// New wraps an existing connection and applies the pool settings
func New(conn *sqlx.DB, opts Options) *DB {
	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return &DB{DB: conn, opts: opts}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS applicant_profiles (
		user_id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS prediction_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		profile TEXT NOT NULL,
		decision TEXT NOT NULL,
		probability DOUBLE PRECISION NOT NULL,
		rejection_reason TEXT NOT NULL DEFAULT '',
		shap_top3 TEXT NOT NULL,
		model_version TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_prediction_history_user ON prediction_history(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS chat_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		from_user BOOLEAN NOT NULL,
		metadata TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_chat_logs_user ON chat_logs(user_id, created_at)`,
}

// Migrate creates the tables if they do not exist. Statements are portable across
// SQLite and PostgreSQL.
func (db *DB) Migrate(ctx context.Context) error {
	for _, query := range migrations {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	stats := db.Stats()

	return map[string]interface{}{
		"driver":               db.DriverName(),
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": db.opts.MaxOpenConns,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		"max_lifetime_closed":  stats.MaxLifetimeClosed,
	}
}
