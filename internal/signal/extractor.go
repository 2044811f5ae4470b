// Package signal normalizes raw claim, policy, and damage-estimate records
// into the fixed feature set the rule checks and the risk aggregator
// consume. Extraction is a pure function of its inputs: no I/O, no clock.
package signal

import (
	"math"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// hoursPerDay converts the incident-to-submission delay into days.
const hoursPerDay = 24

// Extract builds a FeatureRecord from a claim, its policy, and an optional
// damage estimate. A nil or empty estimate is not an error: the record is
// produced with EstimateAvailable=false and downstream stages surface that
// as a signal. Missing or non-positive claimed amount or coverage limit is
// a ValidationError that aborts the evaluation of this claim.
func Extract(claim *domain.Claim, policy *domain.Policy, estimate *domain.DamageEstimate, cfg domain.EngineConfig) (*domain.FeatureRecord, error) {
	if claim == nil {
		return nil, domain.NewValidationError("claim", "missing")
	}
	if policy == nil {
		return nil, domain.NewValidationError("policy", "missing")
	}
	if claim.ClaimedAmount <= 0 {
		return nil, domain.NewValidationError("claim.claimedAmount", "must be positive")
	}
	if policy.CoverageLimit <= 0 {
		return nil, domain.NewValidationError("policy.coverageLimit", "must be positive")
	}

	rec := &domain.FeatureRecord{
		ClaimID:       claim.ID,
		TenantID:      claim.TenantID,
		ClaimantID:    claim.ClaimantID,
		ClaimType:     claim.Type,
		ClaimedAmount: claim.ClaimedAmount,
		CoverageLimit: policy.CoverageLimit,
		Deductible:    policy.Deductible,
		LimitRatio:    claim.ClaimedAmount / policy.CoverageLimit,
		EvidenceCount: len(claim.Evidence),
	}

	if cfg.MinEvidenceCount > 0 {
		rec.EvidenceRatio = float64(rec.EvidenceCount) / float64(cfg.MinEvidenceCount)
	}

	if total := estimateTotal(estimate); total > 0 {
		rec.EstimateAvailable = true
		rec.EstimatedCost = total
		rec.CostRatio = claim.ClaimedAmount / total
		rec.CostDeviation = math.Abs(claim.ClaimedAmount-total) / total
	}

	if !claim.IncidentAt.IsZero() && !claim.SubmittedAt.IsZero() && !claim.SubmittedAt.Before(claim.IncidentAt) {
		rec.DelayKnown = true
		rec.ReportingDelayDays = claim.SubmittedAt.Sub(claim.IncidentAt).Hours() / hoursPerDay
	}

	// Policy period check uses the incident time when known, otherwise the
	// submission time.
	at := claim.IncidentAt
	if at.IsZero() {
		at = claim.SubmittedAt
	}
	rec.PolicyActive = at.IsZero() || policy.ActiveAt(at)

	return rec, nil
}

func estimateTotal(estimate *domain.DamageEstimate) float64 {
	if estimate == nil {
		return 0
	}
	return estimate.TotalCost()
}
