// Package rules provides the check evaluation engine for claim features.
// The canonical checks are compiled-in predicates; tenant-defined checks
// are CEL expressions compiled once and evaluated on every claim.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-insurance/kestrel/internal/domain"
)

// Engine evaluates built-in and CEL-defined checks.
type Engine struct {
	mu             sync.RWMutex
	env            *cel.Env
	builtins       map[string]CheckFunc
	compiledChecks map[string]*CompiledCheck
	historyGetter  HistoryGetter
	maxWorkers     int
}

// CompiledCheck holds a pre-compiled CEL program.
type CompiledCheck struct {
	Config  *domain.CheckConfig
	Program cel.Program
}

// HistoryGetter is a function that returns the claim count for a claimant in a time window.
type HistoryGetter func(ctx context.Context, tenantID, claimantID string, windowSecs int) (int64, error)

// NewEngine creates a new check evaluation engine.
func NewEngine(historyGetter HistoryGetter, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Create CEL environment with claim feature variables
	env, err := cel.NewEnv(
		cel.Variable("claim", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("prior_claims", cel.IntType),
		cel.Variable("claimed", cel.DoubleType),
		cel.Variable("estimated", cel.DoubleType),
		cel.Variable("coverage_limit", cel.DoubleType),
		cel.Variable("deductible", cel.DoubleType),
		cel.Variable("claim_type", cel.StringType),
		cel.Variable("claimant_id", cel.StringType),
		// Derived ratios so expressions match the built-in checks' inputs
		cel.Variable("cost_ratio", cel.DoubleType),
		cel.Variable("cost_deviation", cel.DoubleType),
		cel.Variable("limit_ratio", cel.DoubleType),
		cel.Variable("evidence_count", cel.IntType),
		cel.Variable("evidence_ratio", cel.DoubleType),
		cel.Variable("reporting_delay_days", cel.DoubleType),
		cel.Variable("delay_known", cel.BoolType),
		cel.Variable("estimate_available", cel.BoolType),
		cel.Variable("policy_active", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:            env,
		builtins:       builtinChecks(),
		compiledChecks: make(map[string]*CompiledCheck),
		historyGetter:  historyGetter,
		maxWorkers:     maxWorkers,
	}, nil
}

// RegisterCheck adds a compiled-in check under the given name. Existing
// checks are never modified; a duplicate name is an error.
func (e *Engine) RegisterCheck(name string, fn CheckFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.builtins[name]; exists {
		return fmt.Errorf("check %q already registered", name)
	}
	e.builtins[name] = fn
	return nil
}

// ValidateCheck compiles and validates a check without mutating loaded engine checks.
func (e *Engine) ValidateCheck(cfg *domain.CheckConfig) error {
	if cfg == nil {
		return fmt.Errorf("check config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileCheck(cfg)
	return err
}

// LoadCheck compiles and loads a check into the engine. A disabled check
// is validated and unloaded, so an update that flips enabled off takes
// effect immediately.
func (e *Engine) LoadCheck(cfg *domain.CheckConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileCheck(cfg)
	if err != nil {
		return err
	}

	if !cfg.Enabled {
		delete(e.compiledChecks, cfg.ID)
		return nil
	}

	e.compiledChecks[cfg.ID] = compiled

	return nil
}

// LoadChecks compiles and loads multiple checks.
func (e *Engine) LoadChecks(configs []*domain.CheckConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadCheck(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveCheck unloads a CEL check by ID. Unknown IDs are a no-op.
func (e *Engine) RemoveCheck(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compiledChecks, id)
}

// EvaluateInput holds the claim features for check evaluation.
type EvaluateInput struct {
	TenantID      string
	Record        *domain.FeatureRecord
	Config        domain.EngineConfig
	HistoryWindow int // seconds
}

// EvalResult is the outcome of running every applicable check. Signals
// holds the triggered and availability signals, unsorted; ordering is the
// aggregator's concern. Evaluated counts checks whose required inputs were
// available, Triggered the subset that fired. Checks that error are
// excluded from both tallies and reported in Errors.
type EvalResult struct {
	Signals   []domain.FraudSignal
	Evaluated int
	Triggered int
	Errors    []string
}

// customOutcome is the per-check result of one CEL evaluation.
type customOutcome struct {
	signal    domain.FraudSignal
	triggered bool
	err       string
}

// Evaluate runs all applicable checks against the feature record. Checks
// are independent, so the result does not depend on evaluation order.
// CEL checks run in parallel, bounded by maxWorkers.
func (e *Engine) Evaluate(ctx context.Context, input *EvaluateInput) (*EvalResult, error) {
	if input == nil || input.Record == nil {
		return nil, fmt.Errorf("feature record is required")
	}
	rec := input.Record

	e.mu.RLock()
	builtins := make(map[string]CheckFunc, len(e.builtins))
	for name, fn := range e.builtins {
		builtins[name] = fn
	}
	checks := make([]*CompiledCheck, 0, len(e.compiledChecks))
	for _, check := range e.compiledChecks {
		checks = append(checks, check)
	}
	e.mu.RUnlock()

	result := &EvalResult{}

	for name, fn := range builtins {
		out := fn(rec, input.Config)
		if out.Skipped {
			continue
		}
		result.Evaluated++
		if out.Triggered {
			result.Triggered++
			result.Signals = append(result.Signals, domain.FraudSignal{
				Name:      name,
				Kind:      domain.SignalKindCheck,
				Score:     out.Score,
				Rationale: out.Rationale,
			})
		}
	}

	if len(checks) > 0 {
		activation := e.buildActivation(ctx, input)

		// Parallel evaluation using worker pool pattern
		outcomes := make([]customOutcome, len(checks))
		var wg sync.WaitGroup

		// Limit concurrency with semaphore
		sem := make(chan struct{}, e.maxWorkers)

		for i, check := range checks {
			wg.Add(1)
			go func(idx int, c *CompiledCheck) {
				defer wg.Done()

				sem <- struct{}{}        // Acquire
				defer func() { <-sem }() // Release

				outcomes[idx] = evaluateCheck(c, activation)
			}(i, check)
		}

		wg.Wait()

		for _, out := range outcomes {
			if out.err != "" {
				result.Errors = append(result.Errors, out.err)
				continue
			}
			result.Evaluated++
			if out.triggered {
				result.Triggered++
				result.Signals = append(result.Signals, out.signal)
			}
		}
	}

	// A missing estimate is a signal in its own right, outside the
	// evaluated/triggered tally the aggregator divides by.
	if !rec.EstimateAvailable {
		result.Signals = append(result.Signals, domain.FraudSignal{
			Name:      domain.SignalEstimateUnavailable,
			Kind:      domain.SignalKindAvailability,
			Rationale: "no damage estimate was available for this claim",
		})
	}

	return result, nil
}

// evaluateCheck evaluates a single CEL check and returns the outcome.
func evaluateCheck(check *CompiledCheck, activation map[string]any) customOutcome {
	out, _, err := check.Program.Eval(activation)
	if err != nil {
		return customOutcome{err: fmt.Sprintf("%s: evaluation error: %v", check.Config.Name, err)}
	}

	score := toScore(out)
	if score <= 0 {
		return customOutcome{}
	}

	return customOutcome{
		triggered: true,
		signal: domain.FraudSignal{
			Name:      check.Config.Name,
			Kind:      domain.SignalKindCheck,
			Score:     score,
			Rationale: check.Config.Rationale,
		},
	}
}

// buildActivation prepares the CEL variables for one record. The history
// count is fetched once so every expression sees the same value; a lookup
// failure degrades to zero rather than failing the claim.
func (e *Engine) buildActivation(ctx context.Context, input *EvaluateInput) map[string]any {
	rec := input.Record

	var priorClaims int64
	if e.historyGetter != nil && input.HistoryWindow > 0 {
		count, err := e.historyGetter(ctx, input.TenantID, rec.ClaimantID, input.HistoryWindow)
		if err == nil {
			priorClaims = count
		}
	}

	return map[string]any{
		"claim": map[string]any{
			"id":          rec.ClaimID,
			"type":        rec.ClaimType,
			"claimant_id": rec.ClaimantID,
			"claimed":     rec.ClaimedAmount,
			"estimated":   rec.EstimatedCost,
		},
		"prior_claims":         priorClaims,
		"claimed":              rec.ClaimedAmount,
		"estimated":            rec.EstimatedCost,
		"coverage_limit":       rec.CoverageLimit,
		"deductible":           rec.Deductible,
		"claim_type":           rec.ClaimType,
		"claimant_id":          rec.ClaimantID,
		"cost_ratio":           rec.CostRatio,
		"cost_deviation":       rec.CostDeviation,
		"limit_ratio":          rec.LimitRatio,
		"evidence_count":       rec.EvidenceCount,
		"evidence_ratio":       rec.EvidenceRatio,
		"reporting_delay_days": rec.ReportingDelayDays,
		"delay_known":          rec.DelayKnown,
		"estimate_available":   rec.EstimateAvailable,
		"policy_active":        rec.PolicyActive,
	}
}

// toScore converts a CEL value to a numeric score. A check triggers when
// its score is positive.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// ChecksCount returns the number of loaded CEL checks.
func (e *Engine) ChecksCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledChecks)
}

// ReloadChecks clears all existing CEL checks and loads new ones.
// This enables hot-reloading of checks from the database.
func (e *Engine) ReloadChecks(configs []*domain.CheckConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newChecks := make(map[string]*CompiledCheck)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileCheck(cfg)
		if err != nil {
			return err
		}
		newChecks[cfg.ID] = compiled
	}

	e.compiledChecks = newChecks

	return nil
}

// GetLoadedChecks returns the currently loaded CEL check configurations.
func (e *Engine) GetLoadedChecks() []*domain.CheckConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	configs := make([]*domain.CheckConfig, 0, len(e.compiledChecks))
	for _, compiled := range e.compiledChecks {
		configs = append(configs, compiled.Config)
	}
	return configs
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledChecks = make(map[string]*CompiledCheck)
	return nil
}

func (e *Engine) compileCheck(cfg *domain.CheckConfig) (*CompiledCheck, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile check %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("check %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for check %s: %w", cfg.ID, err)
	}

	return &CompiledCheck{
		Config:  cfg,
		Program: program,
	}, nil
}
