package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	msPerSecond = 1000

	// connectionTimeout bounds the initial ping.
	connectionTimeout = 5 * time.Second
)

// DB wraps sql.DB with the bridge's lifecycle helpers.
//
// It stores paired entries (including daemon access tokens), the command log
// and the audit log.
//
// Thread Safety:
//   - Safe for concurrent use from multiple goroutines.
//   - The pool is capped at one connection, so statements run one at a time
//     and SQLite's single writer never returns SQLITE_BUSY to the bridge.
type DB struct {
	*sql.DB
	path string
}

// Config contains database connection settings.
type Config struct {
	// Path to the SQLite file. The parent directory is created if missing.
	Path string

	// WALMode enables write-ahead logging.
	WALMode bool

	// BusyTimeout is how long to wait on a locked database, in seconds.
	BusyTimeout int
}

// Open opens the SQLite database at cfg.Path, creating it if needed.
//
// It performs the following setup:
//  1. Creates the parent directory (0750)
//  2. Opens the file with foreign keys on and the configured busy timeout
//  3. Enables WAL journaling when cfg.WALMode is set
//  4. Pings the database, then restricts the file to 0600
//
// Parameters:
//   - cfg: path and tuning from the database section of config.yaml
//
// Returns:
//   - *DB: open handle; call Migrate before first use
//   - error: if the directory, open or ping fails
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The file exists after the first ping; entries hold access tokens.
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // Best effort

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close closes the database connection. Safe to call on a nil pool.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to verify the database is usable.
// It backs the "database" entry of the bridge health endpoint.
//
// Parameters:
//   - ctx: context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, the wrapped query error otherwise
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
