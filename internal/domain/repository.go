// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require workspaceID: one workspace is one planning session,
// and nothing leaks between sessions.
type Repository interface {
	// Rule operations. ListRules returns rules in plan order.
	SaveRule(ctx context.Context, workspaceID string, rule *Rule) error
	GetRule(ctx context.Context, workspaceID string, ruleID string) (*Rule, error)
	ListRules(ctx context.Context, workspaceID string) ([]*Rule, error)
	DeleteRule(ctx context.Context, workspaceID string, ruleID string) error

	// Resolution snapshots
	SaveResolution(ctx context.Context, workspaceID string, res *Resolution) error
	GetResolution(ctx context.Context, workspaceID string, resID string) (*Resolution, error)
	LatestResolution(ctx context.Context, workspaceID string) (*Resolution, error)

	// Fetched metric values, persisted so a workspace can resolve offline.
	SaveMetricValues(ctx context.Context, workspaceID string, metricTypeID int, values map[int]float64) error
	GetMetricValues(ctx context.Context, workspaceID string, metricTypeID int) (map[int]float64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
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
