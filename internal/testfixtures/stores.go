package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/persistence/memory"
	"github.com/example/availability-engine/internal/persistence/sqlstore"
)

// StoreFactory opens an empty, ready to use store for one test.
type StoreFactory struct {
	Name string
	Open func(tb testing.TB) persistence.Store
}

// NewMemoryStore returns an in-memory store closed on test cleanup.
func NewMemoryStore(tb testing.TB) persistence.Store {
	tb.Helper()

	store := memory.Open()
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// NewSQLiteStore opens a migrated SQLite database in a temporary directory.
func NewSQLiteStore(tb testing.TB) *sqlstore.Store {
	tb.Helper()

	ctx := context.Background()
	dsn := "file:" + filepath.Join(tb.TempDir(), "booking.db")
	store, err := sqlstore.Open(ctx, sqlstore.Options{Driver: sqlstore.DriverSQLite, DSN: dsn})
	if err != nil {
		tb.Fatalf("failed to open sqlite store: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })

	if _, err := store.Migrate(ctx, nil); err != nil {
		tb.Fatalf("failed to migrate sqlite store: %v", err)
	}
	return store
}

// Stores lists every backend that must honour the repository contracts.
func Stores() []StoreFactory {
	return []StoreFactory{
		{Name: "memory", Open: NewMemoryStore},
		{Name: "sqlite", Open: func(tb testing.TB) persistence.Store { return NewSQLiteStore(tb) }},
	}
}
