package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL,
	checksum TEXT NOT NULL DEFAULT '',
	execution_time_ms INTEGER NOT NULL DEFAULT 0
)`

// SQLExecutor applies migrations through sqlx. Placeholders are rebound for
// the connected driver so the same executor serves SQLite and PostgreSQL.
type SQLExecutor struct {
	db *sqlx.DB
}

// NewExecutor wraps db.
func NewExecutor(db *sqlx.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// InitializeVersionTable creates schema_migrations when missing.
func (e *SQLExecutor) InitializeVersionTable(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, createVersionTable); err != nil {
		return newDatabaseError("", "create schema_migrations table", err)
	}
	return nil
}

// ExecuteMigration runs every statement of m inside one transaction.
func (e *SQLExecutor) ExecuteMigration(ctx context.Context, m Migration) (err error) {
	stmts := statements(m.SQL)
	if len(stmts) == 0 {
		return newMigrationError(m.Version, m.FilePath, "parse SQL", fmt.Errorf("%w: no SQL statements found", ErrInvalidMigrationFile))
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return newDatabaseError(m.Version, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return newDatabaseError(m.Version, fmt.Sprintf("execute statement %d", i+1), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return newDatabaseError(m.Version, "commit transaction", err)
	}
	return nil
}

// RecordMigration inserts the version row for m.
func (e *SQLExecutor) RecordMigration(ctx context.Context, m Migration, executionTime time.Duration) error {
	query := e.db.Rebind(`INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`)
	appliedAt := time.Now().UTC().Format(time.RFC3339)
	if _, err := e.db.ExecContext(ctx, query, m.Version, appliedAt, m.Checksum, executionTime.Milliseconds()); err != nil {
		return newDatabaseError(m.Version, "record migration", err)
	}
	return nil
}

type appliedRow struct {
	Version         string `db:"version"`
	AppliedAt       string `db:"applied_at"`
	Checksum        string `db:"checksum"`
	ExecutionTimeMS int64  `db:"execution_time_ms"`
}

// AppliedMigrations lists recorded versions in ascending order.
func (e *SQLExecutor) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	var rows []appliedRow
	if err := e.db.SelectContext(ctx, &rows, `SELECT version, applied_at, checksum, execution_time_ms FROM schema_migrations ORDER BY version ASC`); err != nil {
		return nil, newDatabaseError("", "list applied migrations", err)
	}

	applied := make([]AppliedMigration, 0, len(rows))
	for _, row := range rows {
		appliedAt, err := time.Parse(time.RFC3339, row.AppliedAt)
		if err != nil {
			return nil, newDatabaseError(row.Version, "parse applied_at", err)
		}
		applied = append(applied, AppliedMigration{
			Version:       row.Version,
			AppliedAt:     appliedAt,
			ExecutionTime: time.Duration(row.ExecutionTimeMS) * time.Millisecond,
			Checksum:      row.Checksum,
		})
	}
	return applied, nil
}
