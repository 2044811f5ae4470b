package domain

import "time"

// CheckConfig defines a custom fraud-indicator check persisted per tenant
// (or globally with tenant "*"). The expression is CEL over the feature
// record; built-in checks are code, not CheckConfig rows.
type CheckConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Expression is a CEL predicate over the feature record. The check
	// triggers when it evaluates to true (or to a number > 0).
	Expression string `json:"expression"`

	// Rationale is the human-readable explanation attached to the signal
	// when the check triggers.
	Rationale string `json:"rationale"`

	// Whether the check participates in evaluation.
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// GlobalTenantID marks configuration rows that apply to all tenants.
const GlobalTenantID = "*"
