// Package engine chains the four evaluation stages into one pipeline:
// feature extraction, check evaluation, risk aggregation, and decision
// composition. The pipeline is deterministic; identity, sequencing, and
// persistence belong to the caller.
package engine

import (
	"context"
	"time"

	"github.com/opensource-insurance/kestrel/internal/decision"
	"github.com/opensource-insurance/kestrel/internal/domain"
	"github.com/opensource-insurance/kestrel/internal/risk"
	"github.com/opensource-insurance/kestrel/internal/rules"
	"github.com/opensource-insurance/kestrel/internal/signal"
)

// Pipeline evaluates claims end to end.
type Pipeline struct {
	checks *rules.Engine
}

// NewPipeline creates a pipeline around a check engine.
func NewPipeline(checks *rules.Engine) *Pipeline {
	return &Pipeline{checks: checks}
}

// EvaluateInput is one claim with its evaluation context. Estimate and
// Classifier may be nil; their absence becomes a signal, not a failure.
type EvaluateInput struct {
	Claim         *domain.Claim
	Policy        *domain.Policy
	Estimate      *domain.DamageEstimate
	Classifier    *float64
	Config        domain.EngineConfig
	HistoryWindow int // seconds
	DecidedAt     time.Time
}

// EvaluateOutput carries the decision plus the intermediate stages for
// callers that persist or expose them.
type EvaluateOutput struct {
	Decision    *domain.Decision
	Features    *domain.FeatureRecord
	Assessment  *domain.RiskAssessment
	CheckErrors []string
}

// Evaluate runs one claim through the pipeline. Malformed input surfaces
// as a ValidationError; everything downstream of a valid feature record
// always produces a decision.
func (p *Pipeline) Evaluate(ctx context.Context, in *EvaluateInput) (*EvaluateOutput, error) {
	if in.Classifier != nil && (*in.Classifier < 0 || *in.Classifier > 1) {
		return nil, domain.NewValidationError("classifier_probability", "must be between 0 and 1")
	}

	record, err := signal.Extract(in.Claim, in.Policy, in.Estimate, in.Config)
	if err != nil {
		return nil, err
	}

	evalResult, err := p.checks.Evaluate(ctx, &rules.EvaluateInput{
		TenantID:      in.Claim.TenantID,
		Record:        record,
		Config:        in.Config,
		HistoryWindow: in.HistoryWindow,
	})
	if err != nil {
		return nil, err
	}

	assessment := risk.Aggregate(risk.Input{
		Signals:    evalResult.Signals,
		Evaluated:  evalResult.Evaluated,
		Triggered:  evalResult.Triggered,
		Classifier: in.Classifier,
		Config:     in.Config,
	})

	d, err := decision.Compose(&decision.Input{
		Claim:      in.Claim,
		Policy:     in.Policy,
		Assessment: assessment,
		Config:     in.Config,
		DecidedAt:  in.DecidedAt,
	})
	if err != nil {
		return nil, err
	}

	return &EvaluateOutput{
		Decision:    d,
		Features:    record,
		Assessment:  assessment,
		CheckErrors: evalResult.Errors,
	}, nil
}
