// Package worker provides async claim processing from the event bus and
// the bounded pool used for batch evaluation.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-insurance/kestrel/internal/domain"
	"github.com/opensource-insurance/kestrel/internal/engine"
)

// defaultHistoryWindow is the prior-claims lookback applied to async
// evaluations when the message does not carry one (90 days).
const defaultHistoryWindow = 90 * 24 * 3600

// Worker evaluates claims asynchronously from the EventBus. It consumes
// claim.submitted, runs the pipeline against stored records, appends the
// decision, and publishes claim.decided / claim.review.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	pipeline *engine.Pipeline
	config   domain.EngineConfig

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global worker)
	TenantIDs []string

	// HistoryWindow is the prior-claims lookback in seconds; zero uses
	// the 90-day default.
	HistoryWindow int
}

// NewWorker creates an async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, pipeline *engine.Pipeline, cfg domain.EngineConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		pipeline: pipeline,
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing claims for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker subscribes under a catch-all tenant ID, for dev and
// single-tenant setups where publishers use the same ID.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicClaimSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker subscribes for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicClaimSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processClaim(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicClaimSubmitted,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processClaim(ctx, msg.TenantID, msg)
}

// ClaimMessage is the payload consumed from the claim.submitted topic.
// The classifier probability is optional; absent, the aggregator falls
// back to its neutral prior.
type ClaimMessage struct {
	ClaimID               string   `json:"claimId"`
	TenantID              string   `json:"tenantId"`
	TraceID               string   `json:"traceId,omitempty"`
	ClassifierProbability *float64 `json:"classifierProbability,omitempty"`
	HistoryWindow         int      `json:"historyWindow,omitempty"`
}

// processClaim evaluates one stored claim through the pipeline.
func (w *Worker) processClaim(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var claimMsg ClaimMessage
	if err := json.Unmarshal(msg.Payload, &claimMsg); err != nil {
		slog.Error("failed to parse claim message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if claimMsg.TenantID != "" {
		tenantID = claimMsg.TenantID
	}

	traceID := claimMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing claim",
		"claim_id", claimMsg.ClaimID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	claim, err := w.repo.GetClaim(ctx, tenantID, claimMsg.ClaimID)
	if err != nil {
		slog.Error("failed to load claim",
			"claim_id", claimMsg.ClaimID,
			"error", err,
		)
		return err
	}

	policy, err := w.repo.GetPolicy(ctx, tenantID, claim.PolicyID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	estimate, err := w.repo.GetEstimate(ctx, tenantID, claim.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	window := claimMsg.HistoryWindow
	if window == 0 {
		window = defaultHistoryWindow
	}

	// Next slot in the append-only decision history
	sequence := 1
	supersedes := ""
	if latest, err := w.repo.LatestDecision(ctx, tenantID, claim.ID); err == nil {
		sequence = latest.Sequence + 1
		supersedes = latest.ID
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	out, err := w.pipeline.Evaluate(ctx, &engine.EvaluateInput{
		Claim:         claim,
		Policy:        policy,
		Estimate:      estimate,
		Classifier:    claimMsg.ClassifierProbability,
		Config:        w.config,
		HistoryWindow: window,
		DecidedAt:     time.Now().UTC(),
	})
	if err != nil {
		if domain.IsValidationError(err) {
			// A claim that cannot be evaluated stays that way; do not retry
			slog.Warn("claim rejected by pipeline",
				"claim_id", claim.ID,
				"tenant_id", tenantID,
				"error", err,
			)
			return nil
		}
		slog.Error("pipeline evaluation failed",
			"claim_id", claim.ID,
			"error", err,
		)
		return err
	}

	d := out.Decision
	d.ID = uuid.New().String()
	d.Sequence = sequence
	d.Supersedes = supersedes
	d.CreatedAt = time.Now().UTC()

	for _, checkErr := range out.CheckErrors {
		slog.Warn("check evaluation error",
			"claim_id", claim.ID,
			"tenant_id", tenantID,
			"error", checkErr,
		)
	}

	if err := w.repo.SaveDecision(ctx, tenantID, d); err != nil {
		slog.Error("failed to save decision",
			"claim_id", claim.ID,
			"error", err,
		)
		return err
	}

	status := domain.ClaimStatusDecided
	if d.Verdict == domain.VerdictManualReview {
		status = domain.ClaimStatusUnderReview
	}
	if err := w.repo.UpdateClaimStatus(ctx, tenantID, claim.ID, status); err != nil {
		slog.Error("failed to update claim status",
			"claim_id", claim.ID,
			"error", err,
		)
	}

	resultPayload, _ := json.Marshal(d.ToResponse(claim.ClaimNumber))
	if err := w.bus.Publish(ctx, tenantID, domain.TopicClaimDecided, resultPayload); err != nil {
		slog.Error("failed to publish decision",
			"claim_id", claim.ID,
			"error", err,
		)
	}

	if d.Verdict == domain.VerdictManualReview {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicClaimReview, resultPayload); err != nil {
			slog.Error("failed to publish review",
				"claim_id", claim.ID,
				"error", err,
			)
		}
	}

	slog.Info("claim processed",
		"claim_id", claim.ID,
		"tenant_id", tenantID,
		"verdict", d.Verdict,
		"tier", d.Tier,
		"score", d.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
