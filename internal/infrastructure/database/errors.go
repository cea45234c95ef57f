package database

import "errors"

// Sentinel errors for database operations.
var (
	// ErrNoPath is returned by Open when the configuration has no file path.
	ErrNoPath = errors.New("database: path not configured")

	// ErrMissingDownSQL is returned by MigrateDown when the latest migration
	// has no .down.sql file.
	ErrMissingDownSQL = errors.New("database: migration has no down SQL")
)
