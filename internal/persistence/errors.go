package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist or no
	// longer matches the expected state.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a record with the same key already exists.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a write breaks a CHECK or NOT NULL constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrForeignKeyViolation is returned when a write references a missing row.
	ErrForeignKeyViolation = errors.New("persistence: foreign key violation")
	// ErrDatabaseLocked is returned when the database stays busy past the retry budget.
	ErrDatabaseLocked = errors.New("persistence: database locked")
)
