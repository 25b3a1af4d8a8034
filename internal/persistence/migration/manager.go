package migration

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Manager applies pending migrations in version order.
type Manager struct {
	source   Source
	executor Executor
	logger   *slog.Logger
}

// NewManager constructs a Manager. A nil logger discards output.
func NewManager(source Source, executor Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{source: source, executor: executor, logger: logger}
}

// Run applies every pending migration and returns the number applied.
func (m *Manager) Run(ctx context.Context) (int, error) {
	start := time.Now()

	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		m.logger.DebugContext(ctx, "schema up to date")
		return 0, nil
	}

	for i, mig := range pending {
		migStart := time.Now()
		m.logger.InfoContext(ctx, "applying migration",
			slog.String("version", mig.Version),
			slog.String("description", mig.Description),
			slog.Int("position", i+1),
			slog.Int("total", len(pending)),
		)

		if err := m.executor.ExecuteMigration(ctx, mig); err != nil {
			m.logger.ErrorContext(ctx, "migration failed", slog.String("version", mig.Version), slog.Any("error", err))
			return i, newMigrationError(mig.Version, mig.FilePath, "execute migration", fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}

		elapsed := time.Since(migStart)
		if err := m.executor.RecordMigration(ctx, mig, elapsed); err != nil {
			return i, newMigrationError(mig.Version, mig.FilePath, "record migration", err)
		}
	}

	m.logger.InfoContext(ctx, "migrations applied",
		slog.Int("count", len(pending)),
		slog.Duration("duration", time.Since(start)),
	)
	return len(pending), nil
}

// Pending returns the migrations not yet recorded, after validating the
// sequence against what has been applied.
func (m *Manager) Pending(ctx context.Context) ([]Migration, error) {
	available, err := m.source.Scan()
	if err != nil {
		return nil, fmt.Errorf("scan migrations: %w", err)
	}

	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("initialize version table: %w", err)
	}
	applied, err := m.executor.AppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	if err := validateSequence(available, applied); err != nil {
		return nil, err
	}

	appliedSet := make(map[string]struct{}, len(applied))
	for _, a := range applied {
		appliedSet[a.Version] = struct{}{}
	}

	var pending []Migration
	for _, mig := range available {
		if _, ok := appliedSet[mig.Version]; !ok {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// Status reports the current version with applied and pending migrations.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.AppliedMigrations(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list applied migrations: %w", err)
	}

	status := Status{Applied: applied, Pending: pending}
	highest := -1
	for _, a := range applied {
		if v, err := strconv.Atoi(a.Version); err == nil && v > highest {
			highest = v
			status.CurrentVersion = a.Version
		}
	}
	return status, nil
}

func validateSequence(available []Migration, applied []AppliedMigration) error {
	byVersion := make(map[int]Migration, len(available))
	for i, mig := range available {
		v, err := strconv.Atoi(mig.Version)
		if err != nil {
			return newMigrationError(mig.Version, mig.FilePath, "validate sequence", ErrInvalidVersion)
		}
		byVersion[v] = mig
		if i > 0 {
			prev, _ := strconv.Atoi(available[i-1].Version)
			if v != prev+1 {
				return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, prev+1)
			}
		}
	}

	for _, a := range applied {
		v, err := strconv.Atoi(a.Version)
		if err != nil {
			return fmt.Errorf("%w: applied version %q is not numeric", ErrInvalidVersion, a.Version)
		}
		mig, ok := byVersion[v]
		if !ok {
			return fmt.Errorf("%w: applied migration %s has no file", ErrVersionConflict, a.Version)
		}
		if a.Checksum != "" && a.Checksum != mig.Checksum {
			return newMigrationError(mig.Version, mig.FilePath, "validate checksum", ErrChecksumMismatch)
		}
	}
	return nil
}
