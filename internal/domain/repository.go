// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// CaseRepository persists cases outside the process.
// The case store stays the owner of case records; the repository only
// mirrors what the store has already accepted.
type CaseRepository interface {
	// SaveCase inserts or replaces a case by ID.
	SaveCase(ctx context.Context, c *Case) error

	// DeleteCase removes a case. Returns ErrNotFound if absent.
	DeleteCase(ctx context.Context, id string) error

	// ListCases returns every case, oldest first.
	ListCases(ctx context.Context) ([]*Case, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "memory", "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
