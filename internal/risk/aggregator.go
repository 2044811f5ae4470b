// Package risk combines the classifier probability and the check outcomes
// into a single fraud score and risk tier.
package risk

import (
	"sort"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// neutralPrior stands in for the classifier probability when no classifier
// output accompanies the claim. The gap is surfaced as a signal instead of
// failing the evaluation.
const neutralPrior = 0.5

// Input carries everything one aggregation needs.
type Input struct {
	Signals    []domain.FraudSignal
	Evaluated  int
	Triggered  int
	Classifier *float64
	Config     domain.EngineConfig
}

// Aggregate blends the two score components and assigns the risk tier.
//
// Algorithm:
//  1. Take the classifier probability, or the neutral prior if absent
//  2. Compute the triggered fraction over the checks that could run
//  3. score = probability*weight_model + fraction*weight_rules, clamped to [0,1]
//  4. Map the score onto a tier via the configured breakpoints
//  5. Stamp severities and sort the signals
func Aggregate(in Input) *domain.RiskAssessment {
	probability := neutralPrior
	known := in.Classifier != nil
	if known {
		probability = clamp01(*in.Classifier)
	}

	var fraction float64
	if in.Evaluated > 0 {
		fraction = float64(in.Triggered) / float64(in.Evaluated)
	}

	modelComponent := probability * in.Config.WeightModel
	rulesComponent := fraction * in.Config.WeightRules
	score := clamp01(modelComponent + rulesComponent)

	signals := make([]domain.FraudSignal, len(in.Signals))
	copy(signals, in.Signals)

	if !known {
		signals = append(signals, domain.FraudSignal{
			Name:      domain.SignalClassifierUnavailable,
			Kind:      domain.SignalKindAvailability,
			Rationale: "no classifier probability accompanied this claim",
		})
	}

	stampSeverity(signals)
	sortSignals(signals)

	return &domain.RiskAssessment{
		Score:                 score,
		Tier:                  in.Config.TierFor(score),
		Signals:               signals,
		ModelComponent:        modelComponent,
		RulesComponent:        rulesComponent,
		TriggeredFraction:     fraction,
		ChecksEvaluated:       in.Evaluated,
		ChecksTriggered:       in.Triggered,
		ClassifierProbability: probability,
		ClassifierKnown:       known,
	}
}

// stampSeverity sets each triggered check's severity to the number of
// checks that fired alongside it. Availability signals stay at zero so
// they sort after the substantive findings.
func stampSeverity(signals []domain.FraudSignal) {
	var checkCount int
	for _, s := range signals {
		if s.Kind == domain.SignalKindCheck {
			checkCount++
		}
	}
	for i := range signals {
		if signals[i].Kind == domain.SignalKindCheck {
			signals[i].Severity = checkCount
		}
	}
}

// sortSignals orders by severity descending, then name ascending, so the
// same findings always serialize in the same order.
func sortSignals(signals []domain.FraudSignal) {
	sort.Slice(signals, func(i, j int) bool {
		if signals[i].Severity != signals[j].Severity {
			return signals[i].Severity > signals[j].Severity
		}
		return signals[i].Name < signals[j].Name
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
