package decision

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// AppealWindowDays is how long a claimant has to appeal a denial.
const AppealWindowDays = 30

// Letter is the correspondence issued for a decided claim.
type Letter struct {
	Code        string     `json:"code"`
	ClaimID     string     `json:"claim_id"`
	ClaimNumber string     `json:"claim_number"`
	Verdict     string     `json:"verdict"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	IssuedAt    time.Time  `json:"issued_at"`
	AppealBy    *time.Time `json:"appeal_by,omitempty"`
}

// ComposeLetter renders the approval or denial letter for a decision.
// Claims still under review have no letter.
func ComposeLetter(claim *domain.Claim, d *domain.Decision) (*Letter, error) {
	if claim == nil || d == nil {
		return nil, fmt.Errorf("claim and decision are required")
	}

	switch d.Verdict {
	case domain.VerdictApprove:
		return approvalLetter(claim, d), nil
	case domain.VerdictDeny:
		return denialLetter(claim, d), nil
	default:
		return nil, fmt.Errorf("no letter is issued for verdict %s", d.Verdict)
	}
}

func approvalLetter(claim *domain.Claim, d *domain.Decision) *Letter {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear claimant,\n\n")
	fmt.Fprintf(&b, "Your claim %s has been approved.\n\n", claim.ClaimNumber)
	if d.Settlement != nil {
		fmt.Fprintf(&b, "Approved amount: %.2f\n", d.Settlement.ApprovedAmount)
		fmt.Fprintf(&b, "Deductible: %.2f\n", d.Settlement.Deductible)
		fmt.Fprintf(&b, "Net payment: %.2f\n\n", d.Settlement.NetPayment)
	}
	fmt.Fprintf(&b, "Payment will be issued to the account on file.\n")

	return &Letter{
		Code:        letterCode(claim.ClaimNumber, "APP", d.DecidedAt),
		ClaimID:     claim.ID,
		ClaimNumber: claim.ClaimNumber,
		Verdict:     d.Verdict,
		Subject:     fmt.Sprintf("Claim %s approved", claim.ClaimNumber),
		Body:        b.String(),
		IssuedAt:    d.DecidedAt,
	}
}

func denialLetter(claim *domain.Claim, d *domain.Decision) *Letter {
	appealBy := d.DecidedAt.AddDate(0, 0, AppealWindowDays)

	var b strings.Builder
	fmt.Fprintf(&b, "Dear claimant,\n\n")
	fmt.Fprintf(&b, "After review, your claim %s has been denied for the following reason(s):\n\n", claim.ClaimNumber)
	for i, reason := range d.DenialReasons {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, reason)
	}
	fmt.Fprintf(&b, "\nYou may appeal this decision until %s.\n", appealBy.Format("January 2, 2006"))

	return &Letter{
		Code:        letterCode(claim.ClaimNumber, "DEN", d.DecidedAt),
		ClaimID:     claim.ID,
		ClaimNumber: claim.ClaimNumber,
		Verdict:     d.Verdict,
		Subject:     fmt.Sprintf("Claim %s denied", claim.ClaimNumber),
		Body:        b.String(),
		IssuedAt:    d.DecidedAt,
		AppealBy:    &appealBy,
	}
}

// letterCode builds the reference printed on correspondence, for example
// CLM-2026-000123-DEN-20260314.
func letterCode(claimNumber, kind string, decidedAt time.Time) string {
	return fmt.Sprintf("%s-%s-%s", claimNumber, kind, decidedAt.Format("20060102"))
}
