package signal

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

const floatTolerance = 1e-9

func testClaim() *domain.Claim {
	incident := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Claim{
		ID:            "claim-001",
		TenantID:      "tenant-001",
		ClaimantID:    "claimant-001",
		Type:          domain.ClaimTypeAuto,
		PolicyID:      "policy-001",
		ClaimedAmount: 10000,
		IncidentAt:    incident,
		SubmittedAt:   incident.Add(48 * time.Hour),
		Evidence: []domain.EvidenceItem{
			{Ref: "img-001"},
			{Ref: "img-002"},
			{Ref: "img-003"},
		},
	}
}

func testPolicy() *domain.Policy {
	return &domain.Policy{
		ID:            "policy-001",
		TenantID:      "tenant-001",
		CoverageLimit: 50000,
		Deductible:    500,
		ActiveFrom:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ActiveUntil:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func testEstimate(total float64) *domain.DamageEstimate {
	return &domain.DamageEstimate{
		ClaimID:  "claim-001",
		TenantID: "tenant-001",
		Source:   "vision",
		Items: []domain.EstimateItem{
			{Component: "front bumper", Severity: domain.SeverityModerate, Cost: total},
		},
		Total: total,
	}
}

func TestExtractFeatures(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	rec, err := Extract(testClaim(), testPolicy(), testEstimate(9800), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !rec.EstimateAvailable {
		t.Error("expected EstimateAvailable=true")
	}
	if math.Abs(rec.CostRatio-10000.0/9800.0) > floatTolerance {
		t.Errorf("CostRatio = %f, want %f", rec.CostRatio, 10000.0/9800.0)
	}
	if math.Abs(rec.CostDeviation-200.0/9800.0) > floatTolerance {
		t.Errorf("CostDeviation = %f, want %f", rec.CostDeviation, 200.0/9800.0)
	}
	if math.Abs(rec.LimitRatio-0.2) > floatTolerance {
		t.Errorf("LimitRatio = %f, want 0.2", rec.LimitRatio)
	}
	if rec.EvidenceCount != 3 {
		t.Errorf("EvidenceCount = %d, want 3", rec.EvidenceCount)
	}
	if math.Abs(rec.EvidenceRatio-1.5) > floatTolerance {
		t.Errorf("EvidenceRatio = %f, want 1.5", rec.EvidenceRatio)
	}
	if !rec.DelayKnown {
		t.Error("expected DelayKnown=true")
	}
	if math.Abs(rec.ReportingDelayDays-2.0) > floatTolerance {
		t.Errorf("ReportingDelayDays = %f, want 2.0", rec.ReportingDelayDays)
	}
	if !rec.PolicyActive {
		t.Error("expected PolicyActive=true")
	}
}

func TestExtractValidation(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	tests := []struct {
		name  string
		claim *domain.Claim
		pol   *domain.Policy
	}{
		{"NilClaim", nil, testPolicy()},
		{"NilPolicy", testClaim(), nil},
		{"ZeroClaimedAmount", func() *domain.Claim { c := testClaim(); c.ClaimedAmount = 0; return c }(), testPolicy()},
		{"NegativeClaimedAmount", func() *domain.Claim { c := testClaim(); c.ClaimedAmount = -100; return c }(), testPolicy()},
		{"ZeroCoverageLimit", testClaim(), func() *domain.Policy { p := testPolicy(); p.CoverageLimit = 0; return p }()},
		{"NegativeCoverageLimit", testClaim(), func() *domain.Policy { p := testPolicy(); p.CoverageLimit = -1; return p }()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.claim, tt.pol, testEstimate(9800), cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestExtractMissingEstimate(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	t.Run("NilEstimate", func(t *testing.T) {
		rec, err := Extract(testClaim(), testPolicy(), nil, cfg)
		if err != nil {
			t.Fatalf("missing estimate must not be an error: %v", err)
		}
		if rec.EstimateAvailable {
			t.Error("expected EstimateAvailable=false")
		}
		if rec.CostRatio != 0 || rec.CostDeviation != 0 {
			t.Errorf("expected zero cost features, got ratio=%f deviation=%f", rec.CostRatio, rec.CostDeviation)
		}
	})

	t.Run("EmptyEstimate", func(t *testing.T) {
		empty := &domain.DamageEstimate{ClaimID: "claim-001"}
		rec, err := Extract(testClaim(), testPolicy(), empty, cfg)
		if err != nil {
			t.Fatalf("empty estimate must not be an error: %v", err)
		}
		if rec.EstimateAvailable {
			t.Error("expected EstimateAvailable=false for zero-total estimate")
		}
	})

	t.Run("TotalFromItems", func(t *testing.T) {
		est := &domain.DamageEstimate{
			Items: []domain.EstimateItem{
				{Component: "door", Cost: 3000},
				{Component: "mirror", Cost: 250},
			},
		}
		rec, err := Extract(testClaim(), testPolicy(), est, cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !rec.EstimateAvailable {
			t.Fatal("expected EstimateAvailable=true when items carry costs")
		}
		if math.Abs(rec.EstimatedCost-3250) > floatTolerance {
			t.Errorf("EstimatedCost = %f, want 3250", rec.EstimatedCost)
		}
	})
}

func TestExtractUnknownDelay(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	t.Run("NoIncidentTimestamp", func(t *testing.T) {
		claim := testClaim()
		claim.IncidentAt = time.Time{}

		rec, err := Extract(claim, testPolicy(), testEstimate(9800), cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.DelayKnown {
			t.Error("expected DelayKnown=false without incident timestamp")
		}
	})

	t.Run("SubmissionBeforeIncident", func(t *testing.T) {
		claim := testClaim()
		claim.SubmittedAt = claim.IncidentAt.Add(-time.Hour)

		rec, err := Extract(claim, testPolicy(), testEstimate(9800), cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.DelayKnown {
			t.Error("expected DelayKnown=false when submission precedes incident")
		}
	})
}

func TestExtractPolicyPeriod(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	claim := testClaim()
	claim.IncidentAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) // before ActiveFrom
	claim.SubmittedAt = claim.IncidentAt.Add(24 * time.Hour)

	rec, err := Extract(claim, testPolicy(), testEstimate(9800), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.PolicyActive {
		t.Error("expected PolicyActive=false for incident outside the active period")
	}
}

func TestExtractIsPure(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	claim, pol, est := testClaim(), testPolicy(), testEstimate(9800)

	first, err := Extract(claim, pol, est, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 50; i++ {
		again, err := Extract(claim, pol, est, cfg)
		if err != nil {
			t.Fatalf("unexpected error on iteration %d: %v", i, err)
		}
		if *again != *first {
			t.Fatalf("extraction not deterministic: %+v vs %+v", again, first)
		}
	}
}
