package rules

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// cleanRecord returns features for an unremarkable claim that trips no
// built-in check under the default configuration.
func cleanRecord() *domain.FeatureRecord {
	return &domain.FeatureRecord{
		ClaimID:            "claim-001",
		TenantID:           "tenant-001",
		ClaimantID:         "claimant-001",
		ClaimType:          domain.ClaimTypeAuto,
		ClaimedAmount:      10000.0,
		EstimatedCost:      9800.0,
		CoverageLimit:      50000.0,
		Deductible:         500.0,
		CostRatio:          10000.0 / 9800.0,
		CostDeviation:      200.0 / 9800.0,
		LimitRatio:         0.2,
		EvidenceCount:      3,
		EvidenceRatio:      1.5,
		ReportingDelayDays: 2.0,
		DelayKnown:         true,
		EstimateAvailable:  true,
		PolicyActive:       true,
	}
}

func signalNames(signals []domain.FraudSignal) []string {
	names := make([]string, 0, len(signals))
	for _, s := range signals {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(nil, 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.ChecksCount() != 0 {
		t.Errorf("expected 0 CEL checks, got %d", engine.ChecksCount())
	}
}

func TestLoadCheck(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	check := &domain.CheckConfig{
		ID:         "test-check-001",
		Name:       "test-check",
		Expression: "claimed > 100.0",
		Enabled:    true,
	}

	err := engine.LoadCheck(check)
	if err != nil {
		t.Fatalf("failed to load check: %v", err)
	}

	if engine.ChecksCount() != 1 {
		t.Errorf("expected 1 check, got %d", engine.ChecksCount())
	}
}

func TestLoadInvalidCheck(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	check := &domain.CheckConfig{
		ID:         "invalid-check",
		Name:       "invalid-check",
		Expression: "this is not valid CEL !!!",
		Enabled:    true,
	}

	err := engine.LoadCheck(check)
	if err == nil {
		t.Error("expected error for invalid CEL expression")
	}
}

func TestLoadDisabledCheckUnloads(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	check := &domain.CheckConfig{
		ID:         "toggle-check",
		Name:       "toggle-check",
		Expression: "claimed > 100.0",
		Enabled:    true,
	}
	engine.LoadCheck(check)

	if engine.ChecksCount() != 1 {
		t.Fatalf("expected 1 check, got %d", engine.ChecksCount())
	}

	check.Enabled = false
	if err := engine.LoadCheck(check); err != nil {
		t.Fatalf("failed to reload disabled check: %v", err)
	}

	if engine.ChecksCount() != 0 {
		t.Errorf("expected disabled check to be unloaded, got %d", engine.ChecksCount())
	}
}

func TestBuiltinCostMismatch(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	tests := []struct {
		name      string
		mutate    func(rec *domain.FeatureRecord)
		triggered bool
		skipped   bool
	}{
		{name: "small deviation passes", mutate: func(rec *domain.FeatureRecord) {}, triggered: false},
		{
			name: "large deviation triggers",
			mutate: func(rec *domain.FeatureRecord) {
				rec.ClaimedAmount = 48000.0
				rec.EstimatedCost = 12000.0
				rec.CostDeviation = 3.0
			},
			triggered: true,
		},
		{
			name: "deviation at threshold passes",
			mutate: func(rec *domain.FeatureRecord) {
				rec.CostDeviation = cfg.CostMismatchRatio
			},
			triggered: false,
		},
		{
			name: "undervalued claim triggers",
			mutate: func(rec *domain.FeatureRecord) {
				rec.ClaimedAmount = 5000.0
				rec.EstimatedCost = 9800.0
				rec.CostDeviation = 4800.0 / 9800.0
			},
			triggered: true,
		},
		{
			name: "no estimate skips",
			mutate: func(rec *domain.FeatureRecord) {
				rec.EstimateAvailable = false
				rec.CostDeviation = 0
			},
			skipped: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := cleanRecord()
			tt.mutate(rec)

			out := checkCostMismatch(rec, cfg)
			if out.Skipped != tt.skipped {
				t.Errorf("expected skipped=%v, got %v", tt.skipped, out.Skipped)
			}
			if out.Triggered != tt.triggered {
				t.Errorf("expected triggered=%v, got %v", tt.triggered, out.Triggered)
			}
			if tt.triggered && out.Rationale == "" {
				t.Error("triggered check must carry a rationale")
			}
		})
	}
}

func TestBuiltinNearLimit(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	tests := []struct {
		name       string
		limitRatio float64
		triggered  bool
	}{
		{name: "well below limit", limitRatio: 0.2, triggered: false},
		{name: "just below threshold", limitRatio: 0.89, triggered: false},
		{name: "exactly at threshold", limitRatio: 0.90, triggered: true},
		{name: "at limit", limitRatio: 1.0, triggered: true},
		{name: "above limit", limitRatio: 1.2, triggered: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := cleanRecord()
			rec.LimitRatio = tt.limitRatio

			out := checkNearLimit(rec, cfg)
			if out.Triggered != tt.triggered {
				t.Errorf("limit ratio %.2f: expected triggered=%v, got %v", tt.limitRatio, tt.triggered, out.Triggered)
			}
		})
	}
}

func TestBuiltinInsufficientEvidence(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	tests := []struct {
		name      string
		count     int
		triggered bool
	}{
		{name: "no evidence", count: 0, triggered: true},
		{name: "one item", count: 1, triggered: true},
		{name: "at minimum", count: 2, triggered: false},
		{name: "plenty", count: 5, triggered: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := cleanRecord()
			rec.EvidenceCount = tt.count

			out := checkInsufficientEvidence(rec, cfg)
			if out.Triggered != tt.triggered {
				t.Errorf("%d items: expected triggered=%v, got %v", tt.count, tt.triggered, out.Triggered)
			}
		})
	}
}

func TestBuiltinStaleReporting(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	tests := []struct {
		name      string
		delayDays float64
		known     bool
		triggered bool
		skipped   bool
	}{
		{name: "prompt report", delayDays: 2.0, known: true, triggered: false},
		{name: "at limit passes", delayDays: 30.0, known: true, triggered: false},
		{name: "late report triggers", delayDays: 31.0, known: true, triggered: true},
		{name: "very late report", delayDays: 365.0, known: true, triggered: true},
		{name: "unknown delay skips", known: false, skipped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := cleanRecord()
			rec.ReportingDelayDays = tt.delayDays
			rec.DelayKnown = tt.known

			out := checkStaleReporting(rec, cfg)
			if out.Skipped != tt.skipped {
				t.Errorf("expected skipped=%v, got %v", tt.skipped, out.Skipped)
			}
			if out.Triggered != tt.triggered {
				t.Errorf("expected triggered=%v, got %v", tt.triggered, out.Triggered)
			}
		})
	}
}

func TestEvaluateCleanClaim(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	ctx := context.Background()
	result, err := engine.Evaluate(ctx, &EvaluateInput{
		TenantID: "tenant-001",
		Record:   cleanRecord(),
		Config:   domain.DefaultEngineConfig(),
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	if result.Evaluated != 4 {
		t.Errorf("expected 4 checks evaluated, got %d", result.Evaluated)
	}
	if result.Triggered != 0 {
		t.Errorf("expected 0 checks triggered, got %d", result.Triggered)
	}
	if len(result.Signals) != 0 {
		t.Errorf("expected no signals, got %v", signalNames(result.Signals))
	}
}

func TestEvaluateInflatedClaim(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	// Claimed far above estimate, near the coverage limit, thin evidence.
	rec := cleanRecord()
	rec.ClaimedAmount = 48000.0
	rec.EstimatedCost = 12000.0
	rec.CostRatio = 4.0
	rec.CostDeviation = 3.0
	rec.LimitRatio = 0.96
	rec.EvidenceCount = 1
	rec.EvidenceRatio = 0.5

	ctx := context.Background()
	result, err := engine.Evaluate(ctx, &EvaluateInput{
		TenantID: "tenant-001",
		Record:   rec,
		Config:   domain.DefaultEngineConfig(),
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	if result.Evaluated != 4 {
		t.Errorf("expected 4 checks evaluated, got %d", result.Evaluated)
	}
	if result.Triggered != 3 {
		t.Errorf("expected 3 checks triggered, got %d", result.Triggered)
	}

	names := signalNames(result.Signals)
	want := []string{domain.SignalCostMismatch, domain.SignalInsufficientEvidence, domain.SignalNearLimit}
	if len(names) != len(want) {
		t.Fatalf("expected signals %v, got %v", want, names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("expected signal %s, got %s", name, names[i])
		}
	}
}

func TestEvaluateMissingEstimate(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	rec := cleanRecord()
	rec.EstimateAvailable = false
	rec.EstimatedCost = 0
	rec.CostRatio = 0
	rec.CostDeviation = 0

	ctx := context.Background()
	result, err := engine.Evaluate(ctx, &EvaluateInput{
		TenantID: "tenant-001",
		Record:   rec,
		Config:   domain.DefaultEngineConfig(),
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	// Cost-mismatch cannot run without an estimate, so only three checks count.
	if result.Evaluated != 3 {
		t.Errorf("expected 3 checks evaluated, got %d", result.Evaluated)
	}
	if result.Triggered != 0 {
		t.Errorf("expected 0 checks triggered, got %d", result.Triggered)
	}

	found := false
	for _, s := range result.Signals {
		if s.Name == domain.SignalEstimateUnavailable {
			found = true
			if s.Kind != domain.SignalKindAvailability {
				t.Errorf("expected availability kind, got %s", s.Kind)
			}
		}
	}
	if !found {
		t.Error("expected estimate-unavailable signal")
	}
}

func TestEvaluateCustomCheck(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	check := &domain.CheckConfig{
		ID:         "inactive-policy-001",
		Name:       "inactive-policy",
		Expression: "!policy_active",
		Rationale:  "policy was not active at the incident date",
		Enabled:    true,
	}
	if err := engine.LoadCheck(check); err != nil {
		t.Fatalf("failed to load check: %v", err)
	}

	ctx := context.Background()

	// Active policy: check evaluates but does not trigger.
	result, _ := engine.Evaluate(ctx, &EvaluateInput{
		TenantID: "tenant-001",
		Record:   cleanRecord(),
		Config:   domain.DefaultEngineConfig(),
	})
	if result.Evaluated != 5 {
		t.Errorf("expected 5 checks evaluated, got %d", result.Evaluated)
	}
	if result.Triggered != 0 {
		t.Errorf("expected 0 checks triggered, got %d", result.Triggered)
	}

	// Lapsed policy: the custom check fires.
	rec := cleanRecord()
	rec.PolicyActive = false
	result, _ = engine.Evaluate(ctx, &EvaluateInput{
		TenantID: "tenant-001",
		Record:   rec,
		Config:   domain.DefaultEngineConfig(),
	})
	if result.Triggered != 1 {
		t.Errorf("expected 1 check triggered, got %d", result.Triggered)
	}
	if len(result.Signals) != 1 || result.Signals[0].Name != "inactive-policy" {
		t.Errorf("expected inactive-policy signal, got %v", signalNames(result.Signals))
	}
	if result.Signals[0].Rationale != check.Rationale {
		t.Errorf("expected stored rationale on signal, got %q", result.Signals[0].Rationale)
	}
}

func TestPriorClaimsCheck(t *testing.T) {
	// Mock history getter that returns a fixed count
	historyGetter := func(ctx context.Context, tenantID, claimantID string, windowSecs int) (int64, error) {
		return 7, nil // Simulates 7 prior claims in window
	}

	engine, _ := NewEngine(historyGetter, 5)
	defer engine.Close()

	check := &domain.CheckConfig{
		ID:         "repeat-claimant-001",
		Name:       "repeat-claimant",
		Expression: "prior_claims > 5 ? 1.0 : (prior_claims > 2 ? 0.5 : 0.0)",
		Rationale:  "claimant filed an unusual number of recent claims",
		Enabled:    true,
	}
	engine.LoadCheck(check)

	ctx := context.Background()
	result, _ := engine.Evaluate(ctx, &EvaluateInput{
		TenantID:      "tenant-001",
		Record:        cleanRecord(),
		Config:        domain.DefaultEngineConfig(),
		HistoryWindow: 30 * 24 * 3600,
	})

	if result.Triggered != 1 {
		t.Fatalf("expected 1 check triggered, got %d", result.Triggered)
	}
	if result.Signals[0].Score != 1.0 {
		t.Errorf("expected score 1.0 for 7 prior claims, got %.2f", result.Signals[0].Score)
	}
}

func TestEvaluateErrorExcluded(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	check := &domain.CheckConfig{
		ID:         "bad-key-001",
		Name:       "bad-key",
		Expression: `claim.no_such_field == "x"`,
		Enabled:    true,
	}
	if err := engine.LoadCheck(check); err != nil {
		t.Fatalf("failed to load check: %v", err)
	}

	ctx := context.Background()
	result, err := engine.Evaluate(ctx, &EvaluateInput{
		TenantID: "tenant-001",
		Record:   cleanRecord(),
		Config:   domain.DefaultEngineConfig(),
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	// The erroring check counts toward neither tally.
	if result.Evaluated != 4 {
		t.Errorf("expected 4 checks evaluated, got %d", result.Evaluated)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 check error, got %d", len(result.Errors))
	}
}

func TestRegisterCheckDuplicate(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	fn := func(rec *domain.FeatureRecord, cfg domain.EngineConfig) CheckOutcome {
		return CheckOutcome{}
	}

	if err := engine.RegisterCheck("zero-deductible", fn); err != nil {
		t.Fatalf("failed to register check: %v", err)
	}
	if err := engine.RegisterCheck("zero-deductible", fn); err == nil {
		t.Error("expected error registering duplicate check name")
	}
	if err := engine.RegisterCheck(domain.SignalCostMismatch, fn); err == nil {
		t.Error("expected error shadowing a built-in check")
	}
}

func TestParallelExecution(t *testing.T) {
	engine, _ := NewEngine(nil, 3)
	defer engine.Close()

	// Load multiple checks
	for i := 0; i < 10; i++ {
		check := &domain.CheckConfig{
			ID:         fmt.Sprintf("check-%d", i),
			Name:       fmt.Sprintf("check-%d", i),
			Expression: "claimed > 0.0",
			Enabled:    true,
		}
		engine.LoadCheck(check)
	}

	if engine.ChecksCount() != 10 {
		t.Fatalf("expected 10 checks, got %d", engine.ChecksCount())
	}

	ctx := context.Background()
	result, err := engine.Evaluate(ctx, &EvaluateInput{
		TenantID: "tenant-001",
		Record:   cleanRecord(),
		Config:   domain.DefaultEngineConfig(),
	})
	if err != nil {
		t.Fatalf("parallel evaluation failed: %v", err)
	}

	if result.Evaluated != 14 {
		t.Errorf("expected 14 checks evaluated, got %d", result.Evaluated)
	}
	if result.Triggered != 10 {
		t.Errorf("expected 10 checks triggered, got %d", result.Triggered)
	}
}

func TestEvaluateOrderInsensitive(t *testing.T) {
	engine, _ := NewEngine(nil, 2)
	defer engine.Close()

	engine.LoadCheck(&domain.CheckConfig{
		ID: "c1", Name: "big-claim", Expression: "claimed > 1000.0", Enabled: true,
	})
	engine.LoadCheck(&domain.CheckConfig{
		ID: "c2", Name: "thin-evidence", Expression: "evidence_ratio < 2.0", Enabled: true,
	})

	rec := cleanRecord()
	rec.ClaimedAmount = 48000.0
	rec.EstimatedCost = 12000.0
	rec.CostDeviation = 3.0
	rec.LimitRatio = 0.96
	rec.EvidenceCount = 1
	rec.EvidenceRatio = 0.5

	ctx := context.Background()
	input := &EvaluateInput{
		TenantID: "tenant-001",
		Record:   rec,
		Config:   domain.DefaultEngineConfig(),
	}

	first, err := engine.Evaluate(ctx, input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	firstNames := signalNames(first.Signals)

	// Checks share no state, so repeated runs always produce the same set.
	for i := 0; i < 20; i++ {
		next, err := engine.Evaluate(ctx, input)
		if err != nil {
			t.Fatalf("evaluation %d failed: %v", i, err)
		}
		if next.Evaluated != first.Evaluated || next.Triggered != first.Triggered {
			t.Fatalf("run %d: tally changed: %d/%d vs %d/%d",
				i, next.Triggered, next.Evaluated, first.Triggered, first.Evaluated)
		}
		names := signalNames(next.Signals)
		if len(names) != len(firstNames) {
			t.Fatalf("run %d: signal set changed: %v vs %v", i, names, firstNames)
		}
		for j := range names {
			if names[j] != firstNames[j] {
				t.Fatalf("run %d: signal set changed: %v vs %v", i, names, firstNames)
			}
		}
	}
}

func TestReloadChecks(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	engine.LoadCheck(&domain.CheckConfig{
		ID: "old-1", Name: "old-1", Expression: "claimed > 0.0", Enabled: true,
	})

	err := engine.ReloadChecks([]*domain.CheckConfig{
		{ID: "new-1", Name: "new-1", Expression: "claimed > 100.0", Enabled: true},
		{ID: "new-2", Name: "new-2", Expression: "limit_ratio > 0.5", Enabled: true},
		{ID: "new-3", Name: "new-3", Expression: "prior_claims > 3", Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if engine.ChecksCount() != 2 {
		t.Errorf("expected 2 checks after reload, got %d", engine.ChecksCount())
	}

	for _, cfg := range engine.GetLoadedChecks() {
		if cfg.ID == "old-1" {
			t.Error("expected old-1 to be dropped on reload")
		}
	}
}
