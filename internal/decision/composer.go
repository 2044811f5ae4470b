// Package decision turns a risk assessment into the final claim verdict
// and the correspondence that goes out with it.
package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// EngineVersion is stamped on every decision for audit trails.
const EngineVersion = "kestrel-1.0"

// Input contains all data needed for a decision.
type Input struct {
	Claim      *domain.Claim
	Policy     *domain.Policy
	Assessment *domain.RiskAssessment
	Config     domain.EngineConfig
	DecidedAt  time.Time
}

// Compose maps a risk assessment onto the configured verdict for its tier
// and fills in the verdict-specific fields: a settlement for approvals,
// attributed reasons for denials. Identity and sequence numbers are the
// caller's concern, so the same input always composes the same decision.
func Compose(in *Input) (*domain.Decision, error) {
	if in == nil || in.Claim == nil || in.Policy == nil || in.Assessment == nil {
		return nil, fmt.Errorf("claim, policy, and assessment are required")
	}
	assessment := in.Assessment

	verdict, ok := in.Config.TierVerdicts[assessment.Tier]
	if !ok {
		return nil, fmt.Errorf("no verdict configured for tier %s", assessment.Tier)
	}

	// A claim evaluated without its estimate or classifier output may
	// look clean only because the evidence is missing. Such claims go to
	// a human instead of straight to payment.
	reviewForMissingInput := false
	if verdict == domain.VerdictApprove && assessment.HasAvailabilitySignal() {
		verdict = domain.VerdictManualReview
		reviewForMissingInput = true
	}

	d := &domain.Decision{
		TenantID:      in.Claim.TenantID,
		ClaimID:       in.Claim.ID,
		Verdict:       verdict,
		Tier:          assessment.Tier,
		Score:         assessment.Score,
		Rationale:     buildRationale(assessment, reviewForMissingInput),
		Signals:       assessment.Signals,
		EngineVersion: EngineVersion,
		DecidedAt:     in.DecidedAt.UTC(),
	}

	if assessment.ClassifierKnown {
		p := assessment.ClassifierProbability
		d.ClassifierProbability = &p
	}

	switch verdict {
	case domain.VerdictApprove:
		d.Settlement = SettlementFor(in.Claim, in.Policy)
	case domain.VerdictDeny:
		d.DenialReasons = buildDenialReasons(assessment)
	}

	return d, nil
}

// SettlementFor computes the payout for an approved claim. The approved
// amount never exceeds the coverage limit, and the net payment never goes
// negative when the deductible exceeds it. Manual-review approvals settle
// by the same rule.
func SettlementFor(claim *domain.Claim, policy *domain.Policy) *domain.Settlement {
	approved := math.Min(claim.ClaimedAmount, policy.CoverageLimit)

	net := approved - policy.Deductible
	if net < 0 {
		net = 0
	}

	return &domain.Settlement{
		ApprovedAmount: approved,
		Deductible:     policy.Deductible,
		NetPayment:     net,
	}
}

// buildDenialReasons attributes one reason to each triggered check. A
// denial driven purely by the classifier still gets a reason, so no claim
// is ever denied without a stated cause.
func buildDenialReasons(assessment *domain.RiskAssessment) []string {
	var reasons []string
	for _, s := range assessment.Signals {
		if s.Kind != domain.SignalKindCheck {
			continue
		}
		rationale := s.Rationale
		if rationale == "" {
			rationale = "check triggered"
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", s.Name, rationale))
	}

	if len(reasons) == 0 {
		reasons = append(reasons, fmt.Sprintf("%s: model assessed fraud probability %.2f",
			domain.SignalClassifierRisk, assessment.ClassifierProbability))
	}

	return reasons
}

func buildRationale(assessment *domain.RiskAssessment, reviewForMissingInput bool) string {
	r := fmt.Sprintf("risk score %.3f placed this claim in the %s tier (%d of %d checks triggered)",
		assessment.Score, assessment.Tier, assessment.ChecksTriggered, assessment.ChecksEvaluated)
	if reviewForMissingInput {
		r += "; routed to review because evaluation inputs were incomplete"
	}
	return r
}
