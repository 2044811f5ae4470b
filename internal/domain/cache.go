package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (embedded) + Redis (distributed).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetDecision retrieves the cached latest-decision summary for a claim.
	GetDecision(ctx context.Context, tenantID string, claimID string) (*DecisionSummary, error)

	// SetDecision caches the latest-decision summary for a claim.
	SetDecision(ctx context.Context, tenantID string, claimID string, summary *DecisionSummary, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for claim-frequency accounting (e.g., submissions per claimant
	// in a time window).
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// DecisionSummary is the lean cached form of a claim's latest decision.
type DecisionSummary struct {
	DecisionID string    `json:"decisionId"`
	ClaimID    string    `json:"claimId"`
	Verdict    string    `json:"verdict"`
	Tier       string    `json:"tier"`
	Score      float64   `json:"score"`
	Sequence   int       `json:"sequence"`
	DecidedAt  time.Time `json:"decidedAt"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `json:"localMaxSize" yaml:"local_max_size"`
	LocalTTL     time.Duration `json:"localTtl" yaml:"local_ttl"`

	// Redis settings
	RedisAddr     string `json:"redisAddr" yaml:"redis_addr"`
	RedisPassword string `json:"redisPassword" yaml:"redis_password"`
	RedisDB       int    `json:"redisDb" yaml:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enable_two_phase"` // If true, check local first, then Redis
}
