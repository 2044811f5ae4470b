package domain

import (
	"time"
)

// Claim represents a policyholder's request for reimbursement tied to an
// incident. Immutable once submitted, except for the status field.
type Claim struct {
	// Core identifiers
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	ClaimNumber string `json:"claimNumber"`

	// Claim type (e.g., "auto", "property", "liability")
	Type string `json:"type"`

	// Parties and references
	ClaimantID string `json:"claimantId"`
	PolicyID   string `json:"policyId"`

	// Financial details
	ClaimedAmount float64 `json:"claimedAmount"`

	// Incident details
	IncidentDescription string    `json:"incidentDescription,omitempty"`
	IncidentAt          time.Time `json:"incidentAt,omitempty"`

	// Evidence image references (metadata only; blobs live elsewhere)
	Evidence []EvidenceItem `json:"evidence,omitempty"`

	// Lifecycle
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submittedAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Claim lifecycle statuses.
const (
	ClaimStatusSubmitted   = "SUBMITTED"
	ClaimStatusUnderReview = "UNDER_REVIEW"
	ClaimStatusDecided     = "DECIDED"
)

// Claim types.
const (
	ClaimTypeAuto      = "auto"
	ClaimTypeProperty  = "property"
	ClaimTypeLiability = "liability"
)

// EvidenceItem is a reference to one piece of submitted evidence.
type EvidenceItem struct {
	Ref        string    `json:"ref"`
	CapturedAt time.Time `json:"capturedAt,omitempty"`
}

// Policy holds the coverage terms a claim is evaluated against.
// Read-only to the decision engine.
type Policy struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenantId"`
	PolicyholderID string    `json:"policyholderId,omitempty"`
	CoverageLimit  float64   `json:"coverageLimit"`
	Deductible     float64   `json:"deductible"`
	ActiveFrom     time.Time `json:"activeFrom,omitempty"`
	ActiveUntil    time.Time `json:"activeUntil,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ActiveAt reports whether the policy covers the given instant.
// Zero bounds are open-ended.
func (p *Policy) ActiveAt(t time.Time) bool {
	if !p.ActiveFrom.IsZero() && t.Before(p.ActiveFrom) {
		return false
	}
	if !p.ActiveUntil.IsZero() && t.After(p.ActiveUntil) {
		return false
	}
	return true
}

// DamageEstimate is the upstream-computed cost breakdown for a claim,
// produced by the vision/detection collaborator. Input, not owned here.
type DamageEstimate struct {
	ClaimID   string         `json:"claimId"`
	TenantID  string         `json:"tenantId"`
	Source    string         `json:"source"` // "vision" or "manual"
	Items     []EstimateItem `json:"items"`
	Total     float64        `json:"total"`
	CreatedAt time.Time      `json:"createdAt"`
}

// EstimateItem is one (component, cost) entry of a damage estimate.
type EstimateItem struct {
	Component string  `json:"component"`
	Severity  string  `json:"severity,omitempty"` // minor, moderate, major, total_loss
	Cost      float64 `json:"cost"`
}

// Damage severities reported by the upstream estimator.
const (
	SeverityMinor     = "minor"
	SeverityModerate  = "moderate"
	SeverityMajor     = "major"
	SeverityTotalLoss = "total_loss"
)

// TotalCost returns the estimate total, falling back to the item sum
// when the total field was not populated upstream.
func (e *DamageEstimate) TotalCost() float64 {
	if e.Total > 0 {
		return e.Total
	}
	var sum float64
	for _, item := range e.Items {
		sum += item.Cost
	}
	return sum
}

// FeatureRecord is the fixed-shape output of the signal extractor: every
// field the rule checks and the aggregator need, derived once per evaluation.
type FeatureRecord struct {
	ClaimID    string `json:"claimId"`
	TenantID   string `json:"tenantId"`
	ClaimantID string `json:"claimantId"`
	ClaimType  string `json:"claimType"`

	ClaimedAmount float64 `json:"claimedAmount"`
	EstimatedCost float64 `json:"estimatedCost"`
	CoverageLimit float64 `json:"coverageLimit"`
	Deductible    float64 `json:"deductible"`

	// CostRatio is claimed/estimated; CostDeviation is |claimed-estimated|/estimated.
	// Both zero when no estimate is available.
	CostRatio     float64 `json:"costRatio"`
	CostDeviation float64 `json:"costDeviation"`

	// LimitRatio is claimed/coverage limit.
	LimitRatio float64 `json:"limitRatio"`

	EvidenceCount int `json:"evidenceCount"`
	// EvidenceRatio is evidence count relative to the configured minimum.
	EvidenceRatio float64 `json:"evidenceRatio"`

	// ReportingDelayDays is the incident-to-submission delay. DelayKnown is
	// false when the incident timestamp was not supplied.
	ReportingDelayDays float64 `json:"reportingDelayDays"`
	DelayKnown         bool    `json:"delayKnown"`

	EstimateAvailable bool `json:"estimateAvailable"`
	PolicyActive      bool `json:"policyActive"`
}

// EvaluateRequest is the API payload for an inline claim evaluation:
// the caller supplies every engine input in one envelope.
type EvaluateRequest struct {
	Claim                 ClaimInput     `json:"claim"`
	Policy                PolicyInput    `json:"policy"`
	Estimate              *EstimateInput `json:"estimate,omitempty"`
	ClassifierProbability *float64       `json:"classifierProbability,omitempty"`
}

// ClaimInput is the claim portion of an evaluation request.
type ClaimInput struct {
	ID                  string         `json:"id,omitempty"`
	ClaimNumber         string         `json:"claimNumber,omitempty"`
	Type                string         `json:"type"`
	ClaimantID          string         `json:"claimantId"`
	PolicyID            string         `json:"policyId,omitempty"`
	ClaimedAmount       float64        `json:"claimedAmount"`
	IncidentDescription string         `json:"incidentDescription,omitempty"`
	IncidentAt          time.Time      `json:"incidentAt,omitempty"`
	SubmittedAt         time.Time      `json:"submittedAt,omitempty"`
	Evidence            []EvidenceItem `json:"evidence,omitempty"`
}

// PolicyInput is the policy portion of an evaluation request.
type PolicyInput struct {
	ID             string    `json:"id,omitempty"`
	PolicyholderID string    `json:"policyholderId,omitempty"`
	CoverageLimit  float64   `json:"coverageLimit"`
	Deductible     float64   `json:"deductible"`
	ActiveFrom     time.Time `json:"activeFrom,omitempty"`
	ActiveUntil    time.Time `json:"activeUntil,omitempty"`
}

// EstimateInput is the damage-estimate portion of an evaluation request.
type EstimateInput struct {
	Source string         `json:"source,omitempty"`
	Items  []EstimateItem `json:"items,omitempty"`
	Total  float64        `json:"total,omitempty"`
}

// ToClaim converts the request claim to a domain object. Identity fields
// left empty are assigned by the caller before persistence.
func (r *EvaluateRequest) ToClaim(tenantID string) *Claim {
	now := time.Now().UTC()
	submitted := r.Claim.SubmittedAt
	if submitted.IsZero() {
		submitted = now
	}
	return &Claim{
		ID:                  r.Claim.ID,
		TenantID:            tenantID,
		ClaimNumber:         r.Claim.ClaimNumber,
		Type:                r.Claim.Type,
		ClaimantID:          r.Claim.ClaimantID,
		PolicyID:            r.Claim.PolicyID,
		ClaimedAmount:       r.Claim.ClaimedAmount,
		IncidentDescription: r.Claim.IncidentDescription,
		IncidentAt:          r.Claim.IncidentAt,
		Evidence:            r.Claim.Evidence,
		Status:              ClaimStatusSubmitted,
		SubmittedAt:         submitted,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// ToPolicy converts the request policy to a domain object.
func (r *EvaluateRequest) ToPolicy(tenantID string) *Policy {
	return &Policy{
		ID:             r.Policy.ID,
		TenantID:       tenantID,
		PolicyholderID: r.Policy.PolicyholderID,
		CoverageLimit:  r.Policy.CoverageLimit,
		Deductible:     r.Policy.Deductible,
		ActiveFrom:     r.Policy.ActiveFrom,
		ActiveUntil:    r.Policy.ActiveUntil,
		CreatedAt:      time.Now().UTC(),
	}
}

// ToEstimate converts the request estimate to a domain object, or nil when
// no estimate was supplied.
func (r *EvaluateRequest) ToEstimate(tenantID, claimID string) *DamageEstimate {
	if r.Estimate == nil {
		return nil
	}
	source := r.Estimate.Source
	if source == "" {
		source = "vision"
	}
	return &DamageEstimate{
		ClaimID:   claimID,
		TenantID:  tenantID,
		Source:    source,
		Items:     r.Estimate.Items,
		Total:     r.Estimate.Total,
		CreatedAt: time.Now().UTC(),
	}
}
