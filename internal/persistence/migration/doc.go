// Package migration applies versioned SQL schema changes.
//
// Migration files are read from an fs.FS, usually an embedded directory, and
// follow the naming convention {version}_{description}.sql (for example
// "001_create_sync_events.sql"). Versions must form a continuous sequence.
// Each file runs in its own transaction and is recorded in the
// schema_migrations table so it is applied exactly once.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(files, "migrations"), migration.NewExecutor(db), logger)
//	if err := manager.Run(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
