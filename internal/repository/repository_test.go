package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetClaim", func(t *testing.T) {
		claim := &domain.Claim{
			ID:            "claim-001",
			ClaimNumber:   "CLM-2026-000001",
			Type:          domain.ClaimTypeAuto,
			ClaimantID:    "claimant-001",
			PolicyID:      "policy-001",
			ClaimedAmount: 10000.00,
			IncidentAt:    time.Now().UTC().Add(-48 * time.Hour),
			Evidence: []domain.EvidenceItem{
				{Ref: "img-001"},
				{Ref: "img-002"},
			},
			Status:      domain.ClaimStatusSubmitted,
			SubmittedAt: time.Now().UTC(),
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}

		if err := repo.SaveClaim(ctx, tenantID, claim); err != nil {
			t.Fatalf("SaveClaim failed: %v", err)
		}

		retrieved, err := repo.GetClaim(ctx, tenantID, claim.ID)
		if err != nil {
			t.Fatalf("GetClaim failed: %v", err)
		}

		if retrieved.ID != claim.ID {
			t.Errorf("expected ID %s, got %s", claim.ID, retrieved.ID)
		}
		if retrieved.ClaimedAmount != claim.ClaimedAmount {
			t.Errorf("expected ClaimedAmount %.2f, got %.2f", claim.ClaimedAmount, retrieved.ClaimedAmount)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
		if len(retrieved.Evidence) != 2 {
			t.Errorf("expected 2 evidence items, got %d", len(retrieved.Evidence))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		otherTenant := "tenant-002"

		_, err := repo.GetClaim(ctx, otherTenant, "claim-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		claim := &domain.Claim{ID: "claim-test"}

		err := repo.SaveClaim(ctx, "", claim)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = repo.GetClaim(ctx, "", "claim-001")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("ListClaimsByStatus", func(t *testing.T) {
		for i := 2; i <= 4; i++ {
			claim := &domain.Claim{
				ID:            fmt.Sprintf("claim-%03d", i),
				ClaimNumber:   fmt.Sprintf("CLM-2026-%06d", i),
				Type:          domain.ClaimTypeProperty,
				ClaimantID:    "claimant-002",
				PolicyID:      "policy-001",
				ClaimedAmount: 5000.00,
				Status:        domain.ClaimStatusUnderReview,
				SubmittedAt:   time.Now().UTC(),
				CreatedAt:     time.Now().UTC(),
				UpdatedAt:     time.Now().UTC(),
			}
			if err := repo.SaveClaim(ctx, tenantID, claim); err != nil {
				t.Fatalf("SaveClaim failed: %v", err)
			}
		}

		claims, err := repo.ListClaimsByStatus(ctx, tenantID, domain.ClaimStatusUnderReview, 10)
		if err != nil {
			t.Fatalf("ListClaimsByStatus failed: %v", err)
		}
		if len(claims) != 3 {
			t.Errorf("expected 3 claims under review, got %d", len(claims))
		}

		claims, err = repo.ListClaimsByStatus(ctx, tenantID, domain.ClaimStatusUnderReview, 2)
		if err != nil {
			t.Fatalf("ListClaimsByStatus failed: %v", err)
		}
		if len(claims) != 2 {
			t.Errorf("expected limit to cap at 2 claims, got %d", len(claims))
		}
	})

	t.Run("UpdateClaimStatus", func(t *testing.T) {
		if err := repo.UpdateClaimStatus(ctx, tenantID, "claim-001", domain.ClaimStatusDecided); err != nil {
			t.Fatalf("UpdateClaimStatus failed: %v", err)
		}

		claim, err := repo.GetClaim(ctx, tenantID, "claim-001")
		if err != nil {
			t.Fatalf("GetClaim failed: %v", err)
		}
		if claim.Status != domain.ClaimStatusDecided {
			t.Errorf("expected status %s, got %s", domain.ClaimStatusDecided, claim.Status)
		}

		if err := repo.UpdateClaimStatus(ctx, tenantID, "nonexistent", domain.ClaimStatusDecided); err != ErrNotFound {
			t.Errorf("expected ErrNotFound for unknown claim, got: %v", err)
		}
	})

	t.Run("CountClaimsByClaimant", func(t *testing.T) {
		count, err := repo.CountClaimsByClaimant(ctx, tenantID, "claimant-002", time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("CountClaimsByClaimant failed: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 claims, got %d", count)
		}

		count, err = repo.CountClaimsByClaimant(ctx, tenantID, "claimant-002", time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("CountClaimsByClaimant failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0 claims after cutoff, got %d", count)
		}
	})

	t.Run("SaveAndGetPolicy", func(t *testing.T) {
		policy := &domain.Policy{
			ID:             "policy-001",
			PolicyholderID: "claimant-001",
			CoverageLimit:  50000.00,
			Deductible:     500.00,
			ActiveFrom:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			ActiveUntil:    time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
			CreatedAt:      time.Now().UTC(),
		}

		if err := repo.SavePolicy(ctx, tenantID, policy); err != nil {
			t.Fatalf("SavePolicy failed: %v", err)
		}

		retrieved, err := repo.GetPolicy(ctx, tenantID, policy.ID)
		if err != nil {
			t.Fatalf("GetPolicy failed: %v", err)
		}
		if retrieved.CoverageLimit != 50000.00 {
			t.Errorf("expected coverage limit 50000, got %.2f", retrieved.CoverageLimit)
		}

		// Upsert replaces coverage terms
		policy.CoverageLimit = 75000.00
		if err := repo.SavePolicy(ctx, tenantID, policy); err != nil {
			t.Fatalf("SavePolicy upsert failed: %v", err)
		}
		retrieved, _ = repo.GetPolicy(ctx, tenantID, policy.ID)
		if retrieved.CoverageLimit != 75000.00 {
			t.Errorf("expected updated coverage limit 75000, got %.2f", retrieved.CoverageLimit)
		}
	})

	t.Run("SaveAndGetEstimate", func(t *testing.T) {
		estimate := &domain.DamageEstimate{
			ClaimID:   "claim-001",
			Source:    "vision",
			Items:     []domain.EstimateItem{{Component: "bumper", Severity: domain.SeverityModerate, Cost: 1200.00}},
			Total:     1200.00,
			CreatedAt: time.Now().UTC(),
		}

		if err := repo.SaveEstimate(ctx, tenantID, estimate); err != nil {
			t.Fatalf("SaveEstimate failed: %v", err)
		}

		retrieved, err := repo.GetEstimate(ctx, tenantID, "claim-001")
		if err != nil {
			t.Fatalf("GetEstimate failed: %v", err)
		}
		if retrieved.Total != 1200.00 {
			t.Errorf("expected total 1200, got %.2f", retrieved.Total)
		}
		if len(retrieved.Items) != 1 || retrieved.Items[0].Component != "bumper" {
			t.Errorf("expected bumper item, got %+v", retrieved.Items)
		}

		// A new estimate for the same claim replaces the old one
		estimate.Total = 1500.00
		if err := repo.SaveEstimate(ctx, tenantID, estimate); err != nil {
			t.Fatalf("SaveEstimate replace failed: %v", err)
		}
		retrieved, _ = repo.GetEstimate(ctx, tenantID, "claim-001")
		if retrieved.Total != 1500.00 {
			t.Errorf("expected replaced total 1500, got %.2f", retrieved.Total)
		}
	})

	t.Run("SaveAndGetDecision", func(t *testing.T) {
		probability := 0.05
		d := &domain.Decision{
			ID:        "decision-001",
			ClaimID:   "claim-001",
			Sequence:  1,
			Verdict:   domain.VerdictApprove,
			Tier:      domain.TierLow,
			Score:     0.03,
			Rationale: "risk score 0.030 placed this claim in the LOW tier (0 of 4 checks triggered)",
			Settlement: &domain.Settlement{
				ApprovedAmount: 10000.00,
				Deductible:     500.00,
				NetPayment:     9500.00,
			},
			Signals:               []domain.FraudSignal{},
			ClassifierProbability: &probability,
			EngineVersion:         "kestrel-1.0",
			DecidedAt:             time.Now().UTC(),
			CreatedAt:             time.Now().UTC(),
		}

		if err := repo.SaveDecision(ctx, tenantID, d); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}

		retrieved, err := repo.GetDecision(ctx, tenantID, d.ID)
		if err != nil {
			t.Fatalf("GetDecision failed: %v", err)
		}
		if retrieved.Verdict != domain.VerdictApprove {
			t.Errorf("expected verdict APPROVE, got %s", retrieved.Verdict)
		}
		if retrieved.Settlement == nil || retrieved.Settlement.NetPayment != 9500.00 {
			t.Errorf("expected settlement net 9500, got %+v", retrieved.Settlement)
		}
		if retrieved.ClassifierProbability == nil || *retrieved.ClassifierProbability != 0.05 {
			t.Errorf("expected classifier probability 0.05, got %v", retrieved.ClassifierProbability)
		}
	})

	t.Run("DecisionHistory", func(t *testing.T) {
		d2 := &domain.Decision{
			ID:            "decision-002",
			ClaimID:       "claim-001",
			Sequence:      2,
			Supersedes:    "decision-001",
			Verdict:       domain.VerdictDeny,
			Tier:          domain.TierHigh,
			Score:         0.81,
			Rationale:     "re-evaluated after estimate revision",
			DenialReasons: []string{"cost-mismatch: claimed amount deviates from estimate"},
			Signals:       []domain.FraudSignal{{Name: domain.SignalCostMismatch, Kind: domain.SignalKindCheck, Severity: 1}},
			EngineVersion: "kestrel-1.0",
			DecidedAt:     time.Now().UTC(),
			CreatedAt:     time.Now().UTC(),
		}

		if err := repo.SaveDecision(ctx, tenantID, d2); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}

		latest, err := repo.LatestDecision(ctx, tenantID, "claim-001")
		if err != nil {
			t.Fatalf("LatestDecision failed: %v", err)
		}
		if latest.ID != "decision-002" {
			t.Errorf("expected latest decision-002, got %s", latest.ID)
		}
		if latest.Supersedes != "decision-001" {
			t.Errorf("expected supersedes decision-001, got %s", latest.Supersedes)
		}
		if latest.Settlement != nil {
			t.Error("denial must round-trip without a settlement")
		}
		if len(latest.DenialReasons) != 1 {
			t.Errorf("expected 1 denial reason, got %d", len(latest.DenialReasons))
		}

		history, err := repo.ListDecisions(ctx, tenantID, "claim-001")
		if err != nil {
			t.Fatalf("ListDecisions failed: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("expected 2 decisions, got %d", len(history))
		}
		if history[0].Sequence != 1 || history[1].Sequence != 2 {
			t.Errorf("expected history ordered by sequence, got %d then %d",
				history[0].Sequence, history[1].Sequence)
		}

		// Append-only: a duplicate sequence for the same claim is rejected.
		dup := *d2
		dup.ID = "decision-003"
		if err := repo.SaveDecision(ctx, tenantID, &dup); err == nil {
			t.Error("expected error inserting duplicate sequence")
		}
	})

	t.Run("SaveAndGetCheckConfig", func(t *testing.T) {
		check := &domain.CheckConfig{
			ID:         "check-001",
			Name:       "repeat-claimant",
			Expression: "prior_claims > 5",
			Rationale:  "claimant filed an unusual number of recent claims",
			Enabled:    true,
		}

		if err := repo.SaveCheckConfig(ctx, tenantID, check); err != nil {
			t.Fatalf("SaveCheckConfig failed: %v", err)
		}

		retrieved, err := repo.GetCheckConfig(ctx, tenantID, check.ID)
		if err != nil {
			t.Fatalf("GetCheckConfig failed: %v", err)
		}
		if retrieved.Expression != check.Expression {
			t.Errorf("expected expression %q, got %q", check.Expression, retrieved.Expression)
		}
		if !retrieved.Enabled {
			t.Error("expected check to be enabled")
		}

		// Upsert flips enabled off
		check.Enabled = false
		if err := repo.SaveCheckConfig(ctx, tenantID, check); err != nil {
			t.Fatalf("SaveCheckConfig upsert failed: %v", err)
		}
		retrieved, _ = repo.GetCheckConfig(ctx, tenantID, check.ID)
		if retrieved.Enabled {
			t.Error("expected check to be disabled after upsert")
		}

		configs, err := repo.ListCheckConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListCheckConfigs failed: %v", err)
		}
		if len(configs) != 1 {
			t.Errorf("expected 1 check config, got %d", len(configs))
		}
	})

	t.Run("DeleteCheckConfig", func(t *testing.T) {
		if err := repo.DeleteCheckConfig(ctx, tenantID, "check-001"); err != nil {
			t.Fatalf("DeleteCheckConfig failed: %v", err)
		}

		if _, err := repo.GetCheckConfig(ctx, tenantID, "check-001"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}

		if err := repo.DeleteCheckConfig(ctx, tenantID, "check-001"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound deleting twice, got: %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetClaim(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetPolicy(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetEstimate(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.LatestDecision(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
