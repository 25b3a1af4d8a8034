// Package sqlstore implements the persistence repositories on top of sqlx.
// The same queries run against SQLite (modernc.org/sqlite) and PostgreSQL
// (lib/pq); placeholders are written as '?' and rebound per driver.
package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/example/availability-engine/internal/persistence/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Options configures the connection pool.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Retry           RetryConfig
}

// Store implements persistence.Store.
type Store struct {
	db     *sqlx.DB
	mapper *ErrorMapper
	retry  *RetryHelper
}

// Open connects to the database and verifies it answers a ping.
func Open(ctx context.Context, opts Options) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	dsn := opts.DSN
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", opts.Driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
		if driver == DriverSQLite {
			maxOpen = 4
		}
	}
	db.SetMaxOpenConns(maxOpen)
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlstore: enable WAL: %w", err)
		}
	}

	retry := opts.Retry
	if retry.MaxRetries == 0 && retry.InitialDelay == 0 {
		retry = DefaultRetryConfig()
	}

	mapper := NewErrorMapper()
	return &Store{
		db:     db,
		mapper: mapper,
		retry:  NewRetryHelper(retry, mapper),
	}, nil
}

// sqliteDSN enables foreign keys and a busy timeout unless the DSN sets them.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "file:booking.db"
	}
	var extra []string
	if !strings.Contains(dsn, "foreign_keys") {
		extra = append(extra, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		extra = append(extra, "_pragma=busy_timeout(5000)")
	}
	if len(extra) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(extra, "&")
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context, logger *slog.Logger) (int, error) {
	manager := migration.NewManager(
		migration.NewScanner(migrationFiles, "migrations"),
		migration.NewExecutor(s.db),
		logger,
	)
	return manager.Run(ctx)
}

// DB exposes the underlying pool.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Parse(time.RFC3339Nano, value)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
