// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Claim operations
	SaveClaim(ctx context.Context, tenantID string, claim *Claim) error
	GetClaim(ctx context.Context, tenantID string, claimID string) (*Claim, error)
	ListClaimsByStatus(ctx context.Context, tenantID string, status string, limit int) ([]*Claim, error)
	UpdateClaimStatus(ctx context.Context, tenantID string, claimID string, status string) error

	// Policy operations
	SavePolicy(ctx context.Context, tenantID string, policy *Policy) error
	GetPolicy(ctx context.Context, tenantID string, policyID string) (*Policy, error)

	// Damage estimate operations (one estimate per claim, replaced on update)
	SaveEstimate(ctx context.Context, tenantID string, estimate *DamageEstimate) error
	GetEstimate(ctx context.Context, tenantID string, claimID string) (*DamageEstimate, error)

	// Decision operations. Decisions are append-only: SaveDecision always
	// inserts; prior decisions are never updated or removed.
	SaveDecision(ctx context.Context, tenantID string, decision *Decision) error
	GetDecision(ctx context.Context, tenantID string, decisionID string) (*Decision, error)
	LatestDecision(ctx context.Context, tenantID string, claimID string) (*Decision, error)
	ListDecisions(ctx context.Context, tenantID string, claimID string) ([]*Decision, error)

	// Custom check configuration operations
	SaveCheckConfig(ctx context.Context, tenantID string, check *CheckConfig) error
	GetCheckConfig(ctx context.Context, tenantID string, checkID string) (*CheckConfig, error)
	ListCheckConfigs(ctx context.Context, tenantID string) ([]*CheckConfig, error)
	DeleteCheckConfig(ctx context.Context, tenantID string, checkID string) error

	// CountClaimsByClaimant returns the number of claims a claimant
	// submitted since the given instant. Backs claimant-history checks.
	CountClaimsByClaimant(ctx context.Context, tenantID string, claimantID string, since time.Time) (int, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgres_password"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime"`
}
