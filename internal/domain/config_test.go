package domain

import (
	"errors"
	"testing"
	"time"
)

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", s, err)
	}
	return ts
}

func TestDefaultEngineConfigValid(t *testing.T) {
	cfg := DefaultEngineConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default engine config should validate, got: %v", err)
	}
}

func TestEngineConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"ZeroCostMismatchRatio", func(c *EngineConfig) { c.CostMismatchRatio = 0 }},
		{"NegativeCostMismatchRatio", func(c *EngineConfig) { c.CostMismatchRatio = -0.1 }},
		{"NearLimitFractionTooLarge", func(c *EngineConfig) { c.NearLimitFraction = 1.5 }},
		{"NearLimitFractionZero", func(c *EngineConfig) { c.NearLimitFraction = 0 }},
		{"ZeroMinEvidence", func(c *EngineConfig) { c.MinEvidenceCount = 0 }},
		{"ZeroStaleDays", func(c *EngineConfig) { c.StaleReportingDays = 0 }},
		{"WeightsNotSummingToOne", func(c *EngineConfig) { c.WeightModel = 0.6; c.WeightRules = 0.5 }},
		{"WeightModelNegative", func(c *EngineConfig) { c.WeightModel = -0.2; c.WeightRules = 1.2 }},
		{"BreakpointsNotIncreasing", func(c *EngineConfig) { c.TierBreakpoints = []float64{0.7, 0.3} }},
		{"BreakpointsEqual", func(c *EngineConfig) { c.TierBreakpoints = []float64{0.5, 0.5} }},
		{"BreakpointAtZero", func(c *EngineConfig) { c.TierBreakpoints = []float64{0, 0.7} }},
		{"BreakpointAtOne", func(c *EngineConfig) { c.TierBreakpoints = []float64{0.3, 1.0} }},
		{"BreakpointsWrongLength", func(c *EngineConfig) { c.TierBreakpoints = []float64{0.5} }},
		{"MissingTierVerdict", func(c *EngineConfig) { delete(c.TierVerdicts, TierMedium) }},
		{"UnknownVerdict", func(c *EngineConfig) { c.TierVerdicts[TierHigh] = "ESCALATE" }},
		{"EmptyVerdictTable", func(c *EngineConfig) { c.TierVerdicts = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected configuration error, got nil")
			}

			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Errorf("expected ConfigurationError, got %T: %v", err, err)
			}
		})
	}
}

func TestEngineConfigWeightTolerance(t *testing.T) {
	// Weights that sum to 1 within floating-point tolerance must pass.
	cfg := DefaultEngineConfig()
	cfg.WeightModel = 0.1 + 0.2 // 0.30000000000000004
	cfg.WeightRules = 0.7

	if err := cfg.Validate(); err != nil {
		t.Errorf("weights within tolerance should validate, got: %v", err)
	}
}

func TestTierForPartitionsScoreRange(t *testing.T) {
	cfg := DefaultEngineConfig()

	tests := []struct {
		score float64
		want  string
	}{
		{0.0, TierLow},
		{0.29, TierLow},
		{0.3, TierMedium}, // lower bound inclusive
		{0.5, TierMedium},
		{0.69, TierMedium},
		{0.7, TierHigh},
		{0.99, TierHigh},
		{1.0, TierHigh},
	}

	for _, tt := range tests {
		if got := cfg.TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%.2f) = %s, want %s", tt.score, got, tt.want)
		}
	}

	// Exhaustive sweep: every score maps to exactly one tier, no gaps.
	for i := 0; i <= 1000; i++ {
		score := float64(i) / 1000
		tier := cfg.TierFor(score)
		if tier != TierLow && tier != TierMedium && tier != TierHigh {
			t.Fatalf("TierFor(%.3f) returned unknown tier %q", score, tier)
		}
	}
}

func TestPolicyActiveAt(t *testing.T) {
	from := mustParseTime(t, "2026-01-01T00:00:00Z")
	until := mustParseTime(t, "2026-12-31T23:59:59Z")

	p := &Policy{ActiveFrom: from, ActiveUntil: until}

	if !p.ActiveAt(mustParseTime(t, "2026-06-01T00:00:00Z")) {
		t.Error("expected policy active mid-period")
	}
	if p.ActiveAt(mustParseTime(t, "2025-12-31T00:00:00Z")) {
		t.Error("expected policy inactive before start")
	}
	if p.ActiveAt(mustParseTime(t, "2027-01-01T00:00:00Z")) {
		t.Error("expected policy inactive after end")
	}

	open := &Policy{}
	if !open.ActiveAt(mustParseTime(t, "2026-06-01T00:00:00Z")) {
		t.Error("expected open-ended policy always active")
	}
}
