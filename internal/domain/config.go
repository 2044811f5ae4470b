package domain

import (
	"math"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Engine holds the decision-engine thresholds, weights, and verdict
	// mappings. Validated once at startup; invalid values are fatal.
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus"`

	// Workers is the pool size for batch evaluation.
	Workers int `json:"workers" yaml:"workers"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"service_name"`
}

// EngineConfig is the decision engine's configuration surface: every
// check threshold, aggregation weight, and tier mapping. Business policy
// lives here as data, never hard-coded in engine logic.
type EngineConfig struct {
	// Check thresholds
	CostMismatchRatio  float64 `json:"costMismatchRatio" yaml:"cost_mismatch_ratio"`
	NearLimitFraction  float64 `json:"nearLimitFraction" yaml:"near_limit_fraction"`
	MinEvidenceCount   int     `json:"minEvidenceCount" yaml:"min_evidence_count"`
	StaleReportingDays int     `json:"staleReportingDays" yaml:"stale_reporting_days"`

	// Aggregation weights, must sum to 1.
	WeightModel float64 `json:"weightModel" yaml:"weight_model"`
	WeightRules float64 `json:"weightRules" yaml:"weight_rules"`

	// TierBreakpoints is the ordered pair [b0, b1]: score < b0 is LOW,
	// score < b1 is MEDIUM, else HIGH. Must be strictly increasing and
	// inside (0,1) so the tiers partition [0,1].
	TierBreakpoints []float64 `json:"tierBreakpoints" yaml:"tier_breakpoints"`

	// TierVerdicts maps each tier to a verdict.
	TierVerdicts map[string]string `json:"tierVerdicts" yaml:"tier_verdicts"`
}

// weightTolerance is the allowed deviation of weight_model + weight_rules
// from 1.
const weightTolerance = 1e-9

// DefaultEngineConfig returns the canonical engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CostMismatchRatio:  0.30,
		NearLimitFraction:  0.90,
		MinEvidenceCount:   2,
		StaleReportingDays: 30,
		WeightModel:        0.6,
		WeightRules:        0.4,
		TierBreakpoints:    []float64{0.3, 0.7},
		TierVerdicts: map[string]string{
			TierLow:    VerdictApprove,
			TierMedium: VerdictManualReview,
			TierHigh:   VerdictDeny,
		},
	}
}

// Validate checks the engine configuration. Every failure is a
// ConfigurationError; the first one found is returned.
func (c *EngineConfig) Validate() error {
	if c.CostMismatchRatio <= 0 {
		return NewConfigurationError("cost_mismatch_ratio", "must be positive")
	}
	if c.NearLimitFraction <= 0 || c.NearLimitFraction > 1 {
		return NewConfigurationError("near_limit_fraction", "must be in (0,1]")
	}
	if c.MinEvidenceCount <= 0 {
		return NewConfigurationError("min_evidence_count", "must be positive")
	}
	if c.StaleReportingDays <= 0 {
		return NewConfigurationError("stale_reporting_days", "must be positive")
	}

	if c.WeightModel < 0 || c.WeightModel > 1 {
		return NewConfigurationError("weight_model", "must be in [0,1]")
	}
	if c.WeightRules < 0 || c.WeightRules > 1 {
		return NewConfigurationError("weight_rules", "must be in [0,1]")
	}
	if math.Abs(c.WeightModel+c.WeightRules-1) > weightTolerance {
		return NewConfigurationError("weights", "weight_model + weight_rules must sum to 1")
	}

	if len(c.TierBreakpoints) != 2 {
		return NewConfigurationError("tier_breakpoints", "must be an ordered pair")
	}
	b0, b1 := c.TierBreakpoints[0], c.TierBreakpoints[1]
	if b0 <= 0 || b1 >= 1 || b0 >= b1 {
		return NewConfigurationError("tier_breakpoints", "must be strictly increasing inside (0,1)")
	}

	if len(c.TierVerdicts) == 0 {
		return NewConfigurationError("tier_verdicts", "missing tier-to-verdict mapping")
	}
	for _, tier := range []string{TierLow, TierMedium, TierHigh} {
		verdict, ok := c.TierVerdicts[tier]
		if !ok {
			return NewConfigurationError("tier_verdicts", "no verdict mapped for tier "+tier)
		}
		switch verdict {
		case VerdictApprove, VerdictDeny, VerdictManualReview:
		default:
			return NewConfigurationError("tier_verdicts", "unknown verdict "+verdict+" for tier "+tier)
		}
	}

	return nil
}

// TierFor maps a score to its tier. Lower bound inclusive, upper
// exclusive; a pure function of the score under fixed breakpoints.
func (c *EngineConfig) TierFor(score float64) string {
	switch {
	case score < c.TierBreakpoints[0]:
		return TierLow
	case score < c.TierBreakpoints[1]:
		return TierMedium
	default:
		return TierHigh
	}
}

// DefaultConfig returns the embedded single-node configuration:
// SQLite + in-process cache + channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Engine: DefaultEngineConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Workers: 8,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// DistributedConfig returns the multi-node configuration:
// PostgreSQL + Redis + NATS.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
