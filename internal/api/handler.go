// Package api provides the HTTP API for the claim decision engine.
package api

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-insurance/kestrel/internal/decision"
	"github.com/opensource-insurance/kestrel/internal/domain"
	"github.com/opensource-insurance/kestrel/internal/engine"
	"github.com/opensource-insurance/kestrel/internal/history"
	"github.com/opensource-insurance/kestrel/internal/rules"
	"github.com/opensource-insurance/kestrel/internal/worker"
)

const (
	// defaultHistoryWindow bounds claimant-history lookups to 90 days.
	defaultHistoryWindow = 90 * 24 * 3600

	// decisionCacheTTL is how long a latest-decision summary stays cached.
	decisionCacheTTL = 5 * time.Minute

	defaultListLimit = 50
	maxBatchSize     = 100
)

// Evaluation conflicts map to 409: either the claim is mid-evaluation or
// the caller should use the stored-claim endpoint.
var (
	errEvaluationInFlight = errors.New("an evaluation for this claim is already in progress")
	errClaimExists        = errors.New("claim already exists; re-evaluate it via POST /claims/{id}/evaluate")
)

// Handler holds dependencies for API handlers.
type Handler struct {
	config   domain.EngineConfig
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	checks   *rules.Engine
	pipeline *engine.Pipeline
	history  *history.Service
	workers  int
	version  string
	metrics  *Metrics

	// inflight serializes evaluations per claim so concurrent requests
	// cannot race on the decision sequence.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewHandler creates a new API handler.
func NewHandler(engineCfg domain.EngineConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, checks *rules.Engine, historySvc *history.Service, workers int, version string) *Handler {
	if workers <= 0 {
		workers = 4
	}
	return &Handler{
		config:   engineCfg,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		checks:   checks,
		pipeline: engine.NewPipeline(checks),
		history:  historySvc,
		workers:  workers,
		version:  version,
		metrics:  NewMetrics(),
		inflight: make(map[string]struct{}),
	}
}

// Evaluate handles POST /evaluate: one inline claim through the decision
// pipeline, persisted on success.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	traceID := GetTraceID(r.Context())

	var req domain.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	resp, err := h.evaluateInline(r.Context(), tenantID, traceID, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// BatchItemResult is one entry in a batch evaluation response. Exactly one
// of Decision or Error is set.
type BatchItemResult struct {
	Index    int                      `json:"index"`
	Decision *domain.DecisionResponse `json:"decision,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// EvaluateBatch handles POST /evaluate/batch: up to maxBatchSize claims
// evaluated concurrently on a bounded worker pool. Results keep the order
// of the request items.
func (h *Handler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	traceID := GetTraceID(r.Context())

	var reqs []domain.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(reqs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "batch must contain at least one claim",
		})
		return
	}
	if len(reqs) > maxBatchSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("batch size exceeds limit of %d", maxBatchSize),
		})
		return
	}

	type batchJob struct {
		index int
		req   *domain.EvaluateRequest
	}

	results := make([]BatchItemResult, len(reqs))
	pool := worker.NewPool(h.workers, len(reqs), func(ctx context.Context, job batchJob) {
		resp, err := h.evaluateInline(ctx, tenantID, traceID, job.req)
		if err != nil {
			results[job.index] = BatchItemResult{Index: job.index, Error: err.Error()}
			return
		}
		results[job.index] = BatchItemResult{Index: job.index, Decision: resp}
	})
	pool.Start(r.Context())

	for i := range reqs {
		if err := pool.Submit(batchJob{index: i, req: &reqs[i]}); err != nil {
			results[i] = BatchItemResult{Index: i, Error: err.Error()}
		}
	}
	pool.Close()
	pool.Wait()

	succeeded := 0
	for _, res := range results {
		if res.Error == "" {
			succeeded++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"count":     len(results),
		"succeeded": succeeded,
	})
}

// evaluateInline runs one self-contained evaluation request end to end:
// decide, persist, cache, publish. Nothing is stored when the pipeline
// rejects the input.
func (h *Handler) evaluateInline(ctx context.Context, tenantID, traceID string, req *domain.EvaluateRequest) (*domain.DecisionResponse, error) {
	start := time.Now()

	claim := req.ToClaim(tenantID)
	if claim.ID == "" {
		claim.ID = uuid.New().String()
	}
	if claim.ClaimNumber == "" {
		claim.ClaimNumber = newClaimNumber()
	}

	policy := req.ToPolicy(tenantID)
	if policy.ID == "" {
		policy.ID = uuid.New().String()
	}
	if claim.PolicyID == "" {
		claim.PolicyID = policy.ID
	}

	estimate := req.ToEstimate(tenantID, claim.ID)

	if !h.beginEvaluation(tenantID, claim.ID) {
		return nil, errEvaluationInFlight
	}
	defer h.endEvaluation(tenantID, claim.ID)

	// Inline evaluation registers the claim; a known ID must go through
	// the stored-claim endpoint so history stays append-only.
	if _, err := h.repo.GetClaim(ctx, tenantID, claim.ID); err == nil {
		return nil, errClaimExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check claim: %w", err)
	}

	pipelineStart := time.Now()
	out, err := h.pipeline.Evaluate(ctx, &engine.EvaluateInput{
		Claim:         claim,
		Policy:        policy,
		Estimate:      estimate,
		Classifier:    req.ClassifierProbability,
		Config:        h.config,
		HistoryWindow: defaultHistoryWindow,
		DecidedAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	pipelineMs := time.Since(pipelineStart).Milliseconds()

	d := out.Decision
	d.ID = uuid.New().String()
	d.Sequence = 1
	d.CreatedAt = time.Now().UTC()

	claim.Status = statusForVerdict(d.Verdict)

	if err := h.repo.SaveClaim(ctx, tenantID, claim); err != nil {
		return nil, fmt.Errorf("failed to save claim: %w", err)
	}
	if err := h.repo.SavePolicy(ctx, tenantID, policy); err != nil {
		return nil, fmt.Errorf("failed to save policy: %w", err)
	}
	if estimate != nil {
		if err := h.repo.SaveEstimate(ctx, tenantID, estimate); err != nil {
			return nil, fmt.Errorf("failed to save estimate: %w", err)
		}
	}
	if err := h.repo.SaveDecision(ctx, tenantID, d); err != nil {
		return nil, fmt.Errorf("failed to save decision: %w", err)
	}

	for _, msg := range out.CheckErrors {
		slog.Warn("check evaluation error", "claim_id", claim.ID, "error", msg)
	}

	h.cacheDecision(ctx, tenantID, d)
	h.publishDecision(ctx, tenantID, traceID, claim, d)
	h.metrics.RecordDecision(tenantID, d.Verdict, d.Tier, time.Since(start))

	resp := d.ToResponse(claim.ClaimNumber)
	resp.Metadata.TraceID = traceID
	resp.Metadata.ChecksEvaluated = out.Assessment.ChecksEvaluated
	resp.Metadata.PipelineMs = pipelineMs
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	return resp, nil
}

// CreateClaim handles POST /claims: register a claim without evaluating
// it. The async worker picks it up from the submitted topic when enabled.
func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	traceID := GetTraceID(r.Context())

	var input domain.ClaimInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	switch input.Type {
	case domain.ClaimTypeAuto, domain.ClaimTypeProperty, domain.ClaimTypeLiability:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type must be one of auto, property, liability",
		})
		return
	}
	if input.ClaimantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "claimantId is required",
		})
		return
	}
	if input.PolicyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policyId is required",
		})
		return
	}
	if input.ClaimedAmount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "claimedAmount must be positive",
		})
		return
	}

	now := time.Now().UTC()
	submitted := input.SubmittedAt
	if submitted.IsZero() {
		submitted = now
	}

	claim := &domain.Claim{
		ID:                  input.ID,
		TenantID:            tenantID,
		ClaimNumber:         input.ClaimNumber,
		Type:                input.Type,
		ClaimantID:          input.ClaimantID,
		PolicyID:            input.PolicyID,
		ClaimedAmount:       input.ClaimedAmount,
		IncidentDescription: input.IncidentDescription,
		IncidentAt:          input.IncidentAt,
		Evidence:            input.Evidence,
		Status:              domain.ClaimStatusSubmitted,
		SubmittedAt:         submitted,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if claim.ID == "" {
		claim.ID = uuid.New().String()
	}
	if claim.ClaimNumber == "" {
		claim.ClaimNumber = newClaimNumber()
	}

	if err := h.repo.SaveClaim(r.Context(), tenantID, claim); err != nil {
		h.writeError(w, r, fmt.Errorf("failed to save claim: %w", err))
		return
	}

	h.publishSubmitted(r.Context(), tenantID, traceID, claim)

	writeJSON(w, http.StatusCreated, claim)
}

// GetClaim handles GET /claims/{id}.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	claimID := chi.URLParam(r, "id")

	claim, err := h.repo.GetClaim(r.Context(), tenantID, claimID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

// ListClaims handles GET /claims?status=...
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	status := r.URL.Query().Get("status")
	if status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status query parameter is required",
		})
		return
	}

	claims, err := h.repo.ListClaimsByStatus(r.Context(), tenantID, status, parseLimit(r, defaultListLimit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"claims": claims,
		"count":  len(claims),
	})
}

// EvaluateClaimRequest tunes a stored-claim evaluation.
type EvaluateClaimRequest struct {
	ClassifierProbability *float64 `json:"classifierProbability,omitempty"`
	HistoryWindow         int      `json:"historyWindow,omitempty"` // seconds
}

// EvaluateClaim handles POST /claims/{id}/evaluate: re-evaluate a persisted
// claim against its stored policy and estimate, superseding any prior
// decision.
func (h *Handler) EvaluateClaim(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	traceID := GetTraceID(r.Context())
	claimID := chi.URLParam(r, "id")
	start := time.Now()

	// An empty body means defaults
	var req EvaluateClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if !h.beginEvaluation(tenantID, claimID) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": errEvaluationInFlight.Error(),
		})
		return
	}
	defer h.endEvaluation(tenantID, claimID)

	resp, err := h.evaluateStored(r.Context(), tenantID, traceID, claimID, &req, start)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// evaluateStored loads a claim's records, runs the pipeline, and appends
// the superseding decision.
func (h *Handler) evaluateStored(ctx context.Context, tenantID, traceID, claimID string, req *EvaluateClaimRequest, start time.Time) (*domain.DecisionResponse, error) {
	claim, err := h.repo.GetClaim(ctx, tenantID, claimID)
	if err != nil {
		return nil, err
	}

	// A missing policy or estimate is an evaluation input problem, not a
	// lookup failure; the pipeline turns it into the right outcome.
	policy, err := h.repo.GetPolicy(ctx, tenantID, claim.PolicyID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	estimate, err := h.repo.GetEstimate(ctx, tenantID, claimID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load estimate: %w", err)
	}

	sequence := 1
	supersedes := ""
	prior, err := h.repo.LatestDecision(ctx, tenantID, claimID)
	if err == nil {
		sequence = prior.Sequence + 1
		supersedes = prior.ID
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load prior decision: %w", err)
	}

	window := req.HistoryWindow
	if window <= 0 {
		window = defaultHistoryWindow
	}

	pipelineStart := time.Now()
	out, err := h.pipeline.Evaluate(ctx, &engine.EvaluateInput{
		Claim:         claim,
		Policy:        policy,
		Estimate:      estimate,
		Classifier:    req.ClassifierProbability,
		Config:        h.config,
		HistoryWindow: window,
		DecidedAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	pipelineMs := time.Since(pipelineStart).Milliseconds()

	d := out.Decision
	d.ID = uuid.New().String()
	d.Sequence = sequence
	d.Supersedes = supersedes
	d.CreatedAt = time.Now().UTC()

	if err := h.repo.SaveDecision(ctx, tenantID, d); err != nil {
		return nil, fmt.Errorf("failed to save decision: %w", err)
	}
	if err := h.repo.UpdateClaimStatus(ctx, tenantID, claimID, statusForVerdict(d.Verdict)); err != nil {
		slog.Warn("failed to update claim status", "claim_id", claimID, "error", err)
	}

	for _, msg := range out.CheckErrors {
		slog.Warn("check evaluation error", "claim_id", claimID, "error", msg)
	}

	h.cacheDecision(ctx, tenantID, d)
	h.publishDecision(ctx, tenantID, traceID, claim, d)
	h.metrics.RecordDecision(tenantID, d.Verdict, d.Tier, time.Since(start))

	resp := d.ToResponse(claim.ClaimNumber)
	resp.Metadata.TraceID = traceID
	resp.Metadata.ChecksEvaluated = out.Assessment.ChecksEvaluated
	resp.Metadata.PipelineMs = pipelineMs
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	return resp, nil
}

// GetDecision handles GET /claims/{id}/decision: the latest decision for a
// claim. The cached summary gives a point lookup by decision ID; a miss
// falls back to the ordered query and repopulates the cache.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	claimID := chi.URLParam(r, "id")

	if h.cache != nil {
		if summary, err := h.cache.GetDecision(r.Context(), tenantID, claimID); err == nil && summary != nil {
			if d, err := h.repo.GetDecision(r.Context(), tenantID, summary.DecisionID); err == nil {
				writeJSON(w, http.StatusOK, d)
				return
			}
		}
	}

	d, err := h.repo.LatestDecision(r.Context(), tenantID, claimID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.cacheDecision(r.Context(), tenantID, d)
	writeJSON(w, http.StatusOK, d)
}

// ListDecisionHistory handles GET /claims/{id}/decisions: every decision
// for a claim, newest first.
func (h *Handler) ListDecisionHistory(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	claimID := chi.URLParam(r, "id")

	if _, err := h.repo.GetClaim(r.Context(), tenantID, claimID); err != nil {
		h.writeError(w, r, err)
		return
	}

	decisions, err := h.repo.ListDecisions(r.Context(), tenantID, claimID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// Repository order is oldest first
	for i, j := 0, len(decisions)-1; i < j; i, j = i+1, j-1 {
		decisions[i], decisions[j] = decisions[j], decisions[i]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// GetLetter handles GET /claims/{id}/letter: claimant correspondence for
// the latest decision. Claims still awaiting manual review have no letter.
func (h *Handler) GetLetter(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	claimID := chi.URLParam(r, "id")

	claim, err := h.repo.GetClaim(r.Context(), tenantID, claimID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.repo.LatestDecision(r.Context(), tenantID, claimID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	letter, err := decision.ComposeLetter(claim, d)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, letter)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Letter-Code", letter.Code)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Subject: %s\n\n%s", letter.Subject, letter.Body)
}

// ListReviewQueue handles GET /review: claims parked for manual review.
func (h *Handler) ListReviewQueue(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	claims, err := h.repo.ListClaimsByStatus(r.Context(), tenantID, domain.ClaimStatusUnderReview, parseLimit(r, defaultListLimit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"claims": claims,
		"count":  len(claims),
	})
}

// ResolveReviewRequest is a reviewer's verdict on a claim parked for
// manual review.
type ResolveReviewRequest struct {
	Resolution string `json:"resolution"` // APPROVE or DENY
	ReviewerID string `json:"reviewerId"`
	Notes      string `json:"notes,omitempty"`
}

// ResolveReview handles POST /claims/{id}/review: close a manual review
// with a superseding decision carrying the reviewer's verdict. Score and
// tier carry over from the engine.
func (h *Handler) ResolveReview(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	traceID := GetTraceID(r.Context())
	claimID := chi.URLParam(r, "id")
	start := time.Now()

	var req ResolveReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Resolution != domain.VerdictApprove && req.Resolution != domain.VerdictDeny {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "resolution must be APPROVE or DENY",
		})
		return
	}
	if req.ReviewerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "reviewerId is required",
		})
		return
	}

	claim, err := h.repo.GetClaim(r.Context(), tenantID, claimID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	prior, err := h.repo.LatestDecision(r.Context(), tenantID, claimID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if prior.Verdict != domain.VerdictManualReview {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "claim is not awaiting manual review",
		})
		return
	}

	// Approval settles against the policy, so it must exist.
	var policy *domain.Policy
	if req.Resolution == domain.VerdictApprove {
		policy, err = h.repo.GetPolicy(r.Context(), tenantID, claim.PolicyID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	d := composeReviewDecision(claim, policy, prior, &req)

	if err := h.repo.SaveDecision(r.Context(), tenantID, d); err != nil {
		h.writeError(w, r, fmt.Errorf("failed to save decision: %w", err))
		return
	}
	if err := h.repo.UpdateClaimStatus(r.Context(), tenantID, claimID, domain.ClaimStatusDecided); err != nil {
		slog.Warn("failed to update claim status", "claim_id", claimID, "error", err)
	}

	h.cacheDecision(r.Context(), tenantID, d)
	h.publishDecision(r.Context(), tenantID, traceID, claim, d)
	h.metrics.RecordDecision(tenantID, d.Verdict, d.Tier, time.Since(start))

	writeJSON(w, http.StatusOK, d.ToResponse(claim.ClaimNumber))
}

// composeReviewDecision turns a reviewer resolution into the superseding
// decision. A denial always carries at least one stated reason.
func composeReviewDecision(claim *domain.Claim, policy *domain.Policy, prior *domain.Decision, req *ResolveReviewRequest) *domain.Decision {
	now := time.Now().UTC()

	rationale := fmt.Sprintf("resolved by reviewer %s", req.ReviewerID)
	if req.Notes != "" {
		rationale = fmt.Sprintf("resolved by reviewer %s: %s", req.ReviewerID, req.Notes)
	}

	signals := append([]domain.FraudSignal{}, prior.Signals...)
	signals = append(signals, domain.FraudSignal{
		Name:      domain.SignalManualReview,
		Kind:      domain.SignalKindReviewer,
		Rationale: rationale,
	})

	d := &domain.Decision{
		ID:                    uuid.New().String(),
		TenantID:              claim.TenantID,
		ClaimID:               claim.ID,
		Sequence:              prior.Sequence + 1,
		Supersedes:            prior.ID,
		Verdict:               req.Resolution,
		Tier:                  prior.Tier,
		Score:                 prior.Score,
		Rationale:             rationale,
		Signals:               signals,
		ClassifierProbability: prior.ClassifierProbability,
		EngineVersion:         prior.EngineVersion,
		DecidedAt:             now,
		CreatedAt:             now,
	}

	switch req.Resolution {
	case domain.VerdictApprove:
		d.Settlement = decision.SettlementFor(claim, policy)
	case domain.VerdictDeny:
		reason := req.Notes
		if reason == "" {
			reason = "denied on manual review"
		}
		d.DenialReasons = []string{reason}
	}

	return d
}

// CreatePolicy handles POST /policies: register or replace a policy.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	var input domain.PolicyInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if input.CoverageLimit <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "coverageLimit must be positive",
		})
		return
	}
	if input.Deductible < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "deductible cannot be negative",
		})
		return
	}

	policy := &domain.Policy{
		ID:             input.ID,
		TenantID:       tenantID,
		PolicyholderID: input.PolicyholderID,
		CoverageLimit:  input.CoverageLimit,
		Deductible:     input.Deductible,
		ActiveFrom:     input.ActiveFrom,
		ActiveUntil:    input.ActiveUntil,
		CreatedAt:      time.Now().UTC(),
	}
	if policy.ID == "" {
		policy.ID = uuid.New().String()
	}

	if err := h.repo.SavePolicy(r.Context(), tenantID, policy); err != nil {
		h.writeError(w, r, fmt.Errorf("failed to save policy: %w", err))
		return
	}

	writeJSON(w, http.StatusCreated, policy)
}

// GetPolicy handles GET /policies/{id}.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	policyID := chi.URLParam(r, "id")

	policy, err := h.repo.GetPolicy(r.Context(), tenantID, policyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, policy)
}

// PutEstimate handles PUT /claims/{id}/estimate: attach or replace the
// damage estimate for a claim. The next evaluation picks it up.
func (h *Handler) PutEstimate(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	claimID := chi.URLParam(r, "id")

	var input domain.EstimateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if input.Total < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "total cannot be negative",
		})
		return
	}

	if _, err := h.repo.GetClaim(r.Context(), tenantID, claimID); err != nil {
		h.writeError(w, r, err)
		return
	}

	source := input.Source
	if source == "" {
		source = "manual"
	}

	estimate := &domain.DamageEstimate{
		ClaimID:   claimID,
		TenantID:  tenantID,
		Source:    source,
		Items:     input.Items,
		Total:     input.Total,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.repo.SaveEstimate(r.Context(), tenantID, estimate); err != nil {
		h.writeError(w, r, fmt.Errorf("failed to save estimate: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, estimate)
}

// ClaimantStats handles GET /claimants/{id}/stats: claim frequency over
// the standard history windows.
func (h *Handler) ClaimantStats(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	claimantID := chi.URLParam(r, "id")

	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "history service unavailable",
		})
		return
	}

	windows := []struct {
		name string
		days int
	}{
		{"30d", 30},
		{"90d", 90},
		{"365d", 365},
	}

	counts := make(map[string]int64, len(windows))
	for _, win := range windows {
		count, err := h.history.GetClaimCount(r.Context(), tenantID, claimantID, win.days*24*3600)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("failed to count claims: %w", err))
			return
		}
		counts[win.name] = count
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"claimantId": claimantID,
		"claims":     counts,
	})
}

// CreateCheckRequest is the payload for creating or updating a custom
// check. Enabled defaults to true when omitted.
type CreateCheckRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Rationale   string `json:"rationale,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// CreateCheck handles POST /checks: validate, persist, and activate a
// custom check.
func (h *Handler) CreateCheck(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "check id is required",
		})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "check name is required",
		})
		return
	}
	if req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "check expression is required",
		})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now().UTC()
	cfg := &domain.CheckConfig{
		ID:          req.ID,
		TenantID:    domain.GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Rationale:   req.Rationale,
		Enabled:     enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Compile first so a bad expression never reaches the database
	if err := h.checks.ValidateCheck(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("invalid check expression: %v", err),
		})
		return
	}

	if err := h.repo.SaveCheckConfig(r.Context(), domain.GlobalTenantID, cfg); err != nil {
		h.writeError(w, r, fmt.Errorf("failed to save check: %w", err))
		return
	}

	if err := h.checks.LoadCheck(cfg); err != nil {
		h.writeError(w, r, fmt.Errorf("failed to activate check: %w", err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "check created",
		"check":   cfg,
	})
}

// UpdateCheck handles PUT /checks/{id}: replace a check's definition and
// hot-apply it. Disabling a check unloads it from the engine immediately.
func (h *Handler) UpdateCheck(w http.ResponseWriter, r *http.Request) {
	checkID := chi.URLParam(r, "id")

	var req CreateCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "check name is required",
		})
		return
	}
	if req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "check expression is required",
		})
		return
	}

	existing, err := h.repo.GetCheckConfig(r.Context(), domain.GlobalTenantID, checkID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	cfg := &domain.CheckConfig{
		ID:          checkID,
		TenantID:    domain.GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Rationale:   req.Rationale,
		Enabled:     enabled,
		CreatedAt:   existing.CreatedAt,
		UpdatedAt:   time.Now().UTC(),
	}

	if err := h.checks.ValidateCheck(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("invalid check expression: %v", err),
		})
		return
	}

	if err := h.repo.SaveCheckConfig(r.Context(), domain.GlobalTenantID, cfg); err != nil {
		h.writeError(w, r, fmt.Errorf("failed to save check: %w", err))
		return
	}

	if err := h.checks.LoadCheck(cfg); err != nil {
		h.writeError(w, r, fmt.Errorf("failed to apply check: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "check updated",
		"check":   cfg,
	})
}

// DeleteCheck handles DELETE /checks/{id}: remove a check from the store
// and unload it.
func (h *Handler) DeleteCheck(w http.ResponseWriter, r *http.Request) {
	checkID := chi.URLParam(r, "id")

	if err := h.repo.DeleteCheckConfig(r.Context(), domain.GlobalTenantID, checkID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.checks.RemoveCheck(checkID)

	writeJSON(w, http.StatusOK, map[string]string{"message": "check deleted"})
}

// ListChecks handles GET /checks: the checks active in the engine.
func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	checks := h.checks.GetLoadedChecks()

	writeJSON(w, http.StatusOK, map[string]any{
		"checks": checks,
		"count":  len(checks),
	})
}

// GetCheck handles GET /checks/{id}. Disabled checks exist only in the
// store, so the engine lookup falls back to the repository.
func (h *Handler) GetCheck(w http.ResponseWriter, r *http.Request) {
	checkID := chi.URLParam(r, "id")

	for _, c := range h.checks.GetLoadedChecks() {
		if c.ID == checkID {
			writeJSON(w, http.StatusOK, c)
			return
		}
	}

	cfg, err := h.repo.GetCheckConfig(r.Context(), domain.GlobalTenantID, checkID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// ReloadChecks handles POST /checks/reload: re-sync the engine from
// persisted check configurations.
func (h *Handler) ReloadChecks(w http.ResponseWriter, r *http.Request) {
	configs, err := h.repo.ListCheckConfigs(r.Context(), domain.GlobalTenantID)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("failed to load check configs: %w", err))
		return
	}

	if err := h.checks.ReloadChecks(configs); err != nil {
		h.writeError(w, r, fmt.Errorf("failed to reload checks: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "checks reloaded",
		"count":   h.checks.ChecksCount(),
	})
}

// Health handles GET /health. A degraded dependency is reported but does
// not fail the endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	components := make(map[string]string)

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			components["repository"] = "unhealthy: " + err.Error()
			status = "degraded"
		} else {
			components["repository"] = "healthy"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			components["cache"] = "unhealthy: " + err.Error()
			status = "degraded"
		} else {
			components["cache"] = "healthy"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			components["bus"] = "unhealthy: " + err.Error()
			status = "degraded"
		} else {
			components["bus"] = "healthy"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
		"checks":     h.checks.ChecksCount(),
	})
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

// beginEvaluation claims the per-claim evaluation slot. Returns false when
// another evaluation for the same claim is running.
func (h *Handler) beginEvaluation(tenantID, claimID string) bool {
	key := tenantID + ":" + claimID
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.inflight[key]; busy {
		return false
	}
	h.inflight[key] = struct{}{}
	return true
}

func (h *Handler) endEvaluation(tenantID, claimID string) {
	h.mu.Lock()
	delete(h.inflight, tenantID+":"+claimID)
	h.mu.Unlock()
}

// cacheDecision stores the latest-decision summary. Failures are logged,
// never surfaced.
func (h *Handler) cacheDecision(ctx context.Context, tenantID string, d *domain.Decision) {
	if h.cache == nil {
		return
	}
	summary := &domain.DecisionSummary{
		DecisionID: d.ID,
		ClaimID:    d.ClaimID,
		Verdict:    d.Verdict,
		Tier:       d.Tier,
		Score:      d.Score,
		Sequence:   d.Sequence,
		DecidedAt:  d.DecidedAt,
	}
	if err := h.cache.SetDecision(ctx, tenantID, d.ClaimID, summary, decisionCacheTTL); err != nil {
		slog.Warn("failed to cache decision", "claim_id", d.ClaimID, "error", err)
	}
}

// publishDecision emits decided and review events. Publishing is best
// effort after persistence; a bus failure never fails the request.
func (h *Handler) publishDecision(ctx context.Context, tenantID, traceID string, claim *domain.Claim, d *domain.Decision) {
	if h.bus == nil {
		return
	}

	resp := d.ToResponse(claim.ClaimNumber)
	resp.Metadata.TraceID = traceID
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("failed to marshal decision event", "claim_id", claim.ID, "error", err)
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicClaimDecided, payload); err != nil {
		slog.Warn("failed to publish decision event", "claim_id", claim.ID, "error", err)
	}
	if d.Verdict == domain.VerdictManualReview {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicClaimReview, payload); err != nil {
			slog.Warn("failed to publish review event", "claim_id", claim.ID, "error", err)
		}
	}
}

// publishSubmitted announces a registered claim so the async worker can
// evaluate it.
func (h *Handler) publishSubmitted(ctx context.Context, tenantID, traceID string, claim *domain.Claim) {
	if h.bus == nil {
		return
	}

	payload, err := json.Marshal(worker.ClaimMessage{
		ClaimID:  claim.ID,
		TenantID: tenantID,
		TraceID:  traceID,
	})
	if err != nil {
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicClaimSubmitted, payload); err != nil {
		slog.Warn("failed to publish claim submitted event", "claim_id", claim.ID, "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses: validation failures to
// 400, missing records to 404, evaluation conflicts to 409.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errEvaluationInFlight), errors.Is(err, errClaimExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case domain.IsValidationError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// statusForVerdict maps a decision verdict onto the claim lifecycle state.
func statusForVerdict(verdict string) string {
	if verdict == domain.VerdictManualReview {
		return domain.ClaimStatusUnderReview
	}
	return domain.ClaimStatusDecided
}

// newClaimNumber derives a human-facing reference like CLM-2026-004821.
func newClaimNumber() string {
	id := uuid.New()
	n := binary.BigEndian.Uint32(id[0:4]) % 1000000
	return fmt.Sprintf("CLM-%d-%06d", time.Now().UTC().Year(), n)
}

// parseLimit reads the limit query parameter, falling back on bad input.
func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
