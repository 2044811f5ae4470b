package rules

import (
	"fmt"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// CheckOutcome is the result of one check against a feature record.
// Skipped means the check's required inputs were unavailable; skipped
// checks count toward neither the evaluated nor the triggered totals.
type CheckOutcome struct {
	Triggered bool
	Skipped   bool
	Score     float64 // raw measure behind the decision
	Rationale string  // set when triggered
}

// CheckFunc is a single fraud-indicator predicate. Checks are independent
// and order-insensitive; thresholds come from the engine configuration,
// never from the predicate body.
type CheckFunc func(rec *domain.FeatureRecord, cfg domain.EngineConfig) CheckOutcome

// builtinChecks returns a fresh registry of the canonical checks. Each
// engine instance gets its own copy so RegisterCheck never mutates shared
// state. New checks are added by registration, not by editing these.
func builtinChecks() map[string]CheckFunc {
	return map[string]CheckFunc{
		domain.SignalCostMismatch:         checkCostMismatch,
		domain.SignalNearLimit:            checkNearLimit,
		domain.SignalInsufficientEvidence: checkInsufficientEvidence,
		domain.SignalStaleReporting:       checkStaleReporting,
	}
}

// checkCostMismatch triggers when the claimed amount deviates from the
// estimated cost by more than the configured ratio. Skipped when no
// estimate is available; the pipeline surfaces that separately.
func checkCostMismatch(rec *domain.FeatureRecord, cfg domain.EngineConfig) CheckOutcome {
	if !rec.EstimateAvailable {
		return CheckOutcome{Skipped: true}
	}
	out := CheckOutcome{Score: rec.CostDeviation}
	if rec.CostDeviation > cfg.CostMismatchRatio {
		out.Triggered = true
		out.Rationale = fmt.Sprintf(
			"claimed amount %.2f deviates from estimated cost %.2f by %.0f%% (allowed %.0f%%)",
			rec.ClaimedAmount, rec.EstimatedCost, rec.CostDeviation*100, cfg.CostMismatchRatio*100,
		)
	}
	return out
}

// checkNearLimit triggers when the claimed amount reaches the configured
// fraction of the coverage limit.
func checkNearLimit(rec *domain.FeatureRecord, cfg domain.EngineConfig) CheckOutcome {
	out := CheckOutcome{Score: rec.LimitRatio}
	if rec.LimitRatio >= cfg.NearLimitFraction {
		out.Triggered = true
		out.Rationale = fmt.Sprintf(
			"claimed amount %.2f is %.0f%% of the %.2f coverage limit (threshold %.0f%%)",
			rec.ClaimedAmount, rec.LimitRatio*100, rec.CoverageLimit, cfg.NearLimitFraction*100,
		)
	}
	return out
}

// checkInsufficientEvidence triggers when fewer evidence items were
// submitted than the configured minimum.
func checkInsufficientEvidence(rec *domain.FeatureRecord, cfg domain.EngineConfig) CheckOutcome {
	out := CheckOutcome{Score: rec.EvidenceRatio}
	if rec.EvidenceCount < cfg.MinEvidenceCount {
		out.Triggered = true
		out.Rationale = fmt.Sprintf(
			"%d evidence item(s) submitted, minimum is %d",
			rec.EvidenceCount, cfg.MinEvidenceCount,
		)
	}
	return out
}

// checkStaleReporting triggers when the incident was reported later than
// the configured number of days. Skipped when the incident timestamp is
// unknown.
func checkStaleReporting(rec *domain.FeatureRecord, cfg domain.EngineConfig) CheckOutcome {
	if !rec.DelayKnown {
		return CheckOutcome{Skipped: true}
	}
	out := CheckOutcome{Score: rec.ReportingDelayDays}
	if rec.ReportingDelayDays > float64(cfg.StaleReportingDays) {
		out.Triggered = true
		out.Rationale = fmt.Sprintf(
			"incident reported %.0f days after occurrence, limit is %d days",
			rec.ReportingDelayDays, cfg.StaleReportingDays,
		)
	}
	return out
}
