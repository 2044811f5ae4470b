package domain

import (
	"time"
)

// Verdict values for a claim decision.
const (
	VerdictApprove      = "APPROVE"
	VerdictDeny         = "DENY"
	VerdictManualReview = "MANUAL_REVIEW"
)

// Risk tiers. Breakpoints partition [0,1]: score < b0 is LOW,
// score < b1 is MEDIUM, everything else HIGH.
const (
	TierLow    = "LOW"
	TierMedium = "MEDIUM"
	TierHigh   = "HIGH"
)

// FraudSignal kinds. Check signals come from rule checks and count toward
// the triggered fraction; availability signals flag missing upstream data;
// classifier signals are synthesized from the probability alone; reviewer
// signals record manual review outcomes.
const (
	SignalKindCheck        = "check"
	SignalKindAvailability = "availability"
	SignalKindClassifier   = "classifier"
	SignalKindReviewer     = "reviewer"
)

// Canonical signal names.
const (
	SignalCostMismatch          = "cost-mismatch"
	SignalNearLimit             = "near-limit"
	SignalInsufficientEvidence  = "insufficient-evidence"
	SignalStaleReporting        = "stale-reporting"
	SignalEstimateUnavailable   = "estimate-unavailable"
	SignalClassifierUnavailable = "classifier-unavailable"
	SignalClassifierRisk        = "classifier-risk"
	SignalManualReview          = "manual-review"
)

// FraudSignal is a named, explainable indicator that a claim may be
// fraudulent.
type FraudSignal struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Score     float64 `json:"score"` // raw measure behind the trigger
	Rationale string  `json:"rationale"`
	// Severity is the number of co-triggered signals in the same
	// evaluation; filled by the aggregator.
	Severity int `json:"severity"`
}

// RiskAssessment is the aggregated fraud-likelihood summary for one
// evaluation: combined score, discrete tier, and the contributing signals
// sorted by severity descending (name ascending on ties).
type RiskAssessment struct {
	Score   float64       `json:"score"`
	Tier    string        `json:"tier"`
	Signals []FraudSignal `json:"signals"`

	// Score breakdown
	ModelComponent    float64 `json:"modelComponent"` // probability x weight_model
	RulesComponent    float64 `json:"rulesComponent"` // fraction x weight_rules
	TriggeredFraction float64 `json:"triggeredFraction"`
	ChecksEvaluated   int     `json:"checksEvaluated"`
	ChecksTriggered   int     `json:"checksTriggered"`

	// ClassifierProbability is the value that entered the score: the
	// supplied probability, or the neutral prior when none was supplied.
	ClassifierProbability float64 `json:"classifierProbability"`
	ClassifierKnown       bool    `json:"classifierKnown"`
}

// HasAvailabilitySignal reports whether any upstream input was missing.
func (a *RiskAssessment) HasAvailabilitySignal() bool {
	for _, s := range a.Signals {
		if s.Kind == SignalKindAvailability {
			return true
		}
	}
	return false
}

// Settlement is the payout breakdown attached to an approved decision.
type Settlement struct {
	ApprovedAmount float64 `json:"approvedAmount"`
	Deductible     float64 `json:"deductible"`
	NetPayment     float64 `json:"netPayment"`
}

// Decision is the engine's final verdict for one claim evaluation.
// Decisions are append-only: re-evaluating a claim produces a new Decision
// that supersedes the prior one; history is retained, never overwritten.
type Decision struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	ClaimID  string `json:"claimId"`

	// Sequence is 1-based per claim; Supersedes holds the prior decision
	// ID, empty for the first evaluation.
	Sequence   int    `json:"sequence"`
	Supersedes string `json:"supersedes,omitempty"`

	Verdict       string        `json:"verdict"`
	Tier          string        `json:"tier"`
	Score         float64       `json:"score"`
	Rationale     string        `json:"rationale"`
	DenialReasons []string      `json:"denialReasons,omitempty"`
	Settlement    *Settlement   `json:"settlement,omitempty"`
	Signals       []FraudSignal `json:"signals"`

	ClassifierProbability *float64 `json:"classifierProbability,omitempty"`

	EngineVersion string    `json:"engineVersion"`
	DecidedAt     time.Time `json:"decidedAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// DecisionMetadata carries per-request processing information in API
// responses.
type DecisionMetadata struct {
	TraceID         string `json:"traceId"`
	ChecksEvaluated int    `json:"checksEvaluated"`
	PipelineMs      int64  `json:"pipelineMs"`
	TotalMs         int64  `json:"totalMs"`
	EngineVersion   string `json:"engineVersion"`
}

// DecisionResponse is the API envelope for a decision.
type DecisionResponse struct {
	DecisionID    string           `json:"decisionId"`
	ClaimID       string           `json:"claimId"`
	ClaimNumber   string           `json:"claimNumber,omitempty"`
	Sequence      int              `json:"sequence"`
	Supersedes    string           `json:"supersedes,omitempty"`
	Verdict       string           `json:"verdict"`
	Tier          string           `json:"tier"`
	Score         float64          `json:"score"`
	Rationale     string           `json:"rationale"`
	DenialReasons []string         `json:"denialReasons,omitempty"`
	Settlement    *Settlement      `json:"settlement,omitempty"`
	Signals       []FraudSignal    `json:"signals"`
	Metadata      DecisionMetadata `json:"metadata"`
}

// ToResponse converts a Decision to its API envelope. The caller fills in
// request-scoped metadata (trace ID, timings).
func (d *Decision) ToResponse(claimNumber string) *DecisionResponse {
	return &DecisionResponse{
		DecisionID:    d.ID,
		ClaimID:       d.ClaimID,
		ClaimNumber:   claimNumber,
		Sequence:      d.Sequence,
		Supersedes:    d.Supersedes,
		Verdict:       d.Verdict,
		Tier:          d.Tier,
		Score:         d.Score,
		Rationale:     d.Rationale,
		DenialReasons: d.DenialReasons,
		Settlement:    d.Settlement,
		Signals:       d.Signals,
		Metadata: DecisionMetadata{
			EngineVersion: d.EngineVersion,
		},
	}
}
