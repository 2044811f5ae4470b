// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

var (
	// ErrNotFound aliases domain.ErrNotFound so callers can match on either.
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveClaim stores a claim with tenant isolation.
func (r *SQLRepository) SaveClaim(ctx context.Context, tenantID string, claim *domain.Claim) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	evidence, _ := json.Marshal(claim.Evidence)

	query := `
		INSERT INTO claims (
			id, tenant_id, claim_number, type, claimant_id, policy_id,
			claimed_amount, incident_description, incident_at, evidence,
			status, submitted_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		claim.ID, tenantID, claim.ClaimNumber, claim.Type,
		claim.ClaimantID, claim.PolicyID,
		claim.ClaimedAmount, claim.IncidentDescription, claim.IncidentAt,
		string(evidence),
		claim.Status, claim.SubmittedAt, claim.CreatedAt, claim.UpdatedAt,
	)
	return err
}

// GetClaim retrieves a claim by ID with tenant isolation.
func (r *SQLRepository) GetClaim(ctx context.Context, tenantID string, claimID string) (*domain.Claim, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, claim_number, type, claimant_id, policy_id,
			   claimed_amount, incident_description, incident_at, evidence,
			   status, submitted_at, created_at, updated_at
		FROM claims
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, claimID)
	claim, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return claim, err
}

// ListClaimsByStatus retrieves claims in a given status, newest first.
func (r *SQLRepository) ListClaimsByStatus(ctx context.Context, tenantID string, status string, limit int) ([]*domain.Claim, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, claim_number, type, claimant_id, policy_id,
			   claimed_amount, incident_description, incident_at, evidence,
			   status, submitted_at, created_at, updated_at
		FROM claims
		WHERE tenant_id = ? AND status = ?
		ORDER BY submitted_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []*domain.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}

	return claims, rows.Err()
}

// UpdateClaimStatus transitions a claim's lifecycle status.
func (r *SQLRepository) UpdateClaimStatus(ctx context.Context, tenantID string, claimID string, status string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE claims
		SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), status, time.Now().UTC(), tenantID, claimID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// CountClaimsByClaimant returns the number of claims a claimant submitted
// since the given instant. Backs the claimant-history checks.
func (r *SQLRepository) CountClaimsByClaimant(ctx context.Context, tenantID string, claimantID string, since time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM claims
		WHERE tenant_id = ? AND claimant_id = ? AND submitted_at >= ?
	`

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, claimantID, since).Scan(&count)
	return count, err
}

// SavePolicy stores a policy with tenant isolation.
func (r *SQLRepository) SavePolicy(ctx context.Context, tenantID string, policy *domain.Policy) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO policies (
			id, tenant_id, policyholder_id, coverage_limit, deductible,
			active_from, active_until, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			policyholder_id = excluded.policyholder_id,
			coverage_limit = excluded.coverage_limit,
			deductible = excluded.deductible,
			active_from = excluded.active_from,
			active_until = excluded.active_until
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		policy.ID, tenantID, policy.PolicyholderID,
		policy.CoverageLimit, policy.Deductible,
		policy.ActiveFrom, policy.ActiveUntil, policy.CreatedAt,
	)
	return err
}

// GetPolicy retrieves a policy by ID with tenant isolation.
func (r *SQLRepository) GetPolicy(ctx context.Context, tenantID string, policyID string) (*domain.Policy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, policyholder_id, coverage_limit, deductible,
			   active_from, active_until, created_at
		FROM policies
		WHERE tenant_id = ? AND id = ?
	`

	var p domain.Policy
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, policyID).Scan(
		&p.ID, &p.TenantID, &p.PolicyholderID,
		&p.CoverageLimit, &p.Deductible,
		&p.ActiveFrom, &p.ActiveUntil, &p.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// SaveEstimate stores a damage estimate, replacing any prior estimate for
// the same claim.
func (r *SQLRepository) SaveEstimate(ctx context.Context, tenantID string, estimate *domain.DamageEstimate) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	items, _ := json.Marshal(estimate.Items)

	query := `
		INSERT INTO estimates (
			claim_id, tenant_id, source, items, total, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(claim_id, tenant_id) DO UPDATE SET
			source = excluded.source,
			items = excluded.items,
			total = excluded.total,
			created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		estimate.ClaimID, tenantID, estimate.Source,
		string(items), estimate.Total, estimate.CreatedAt,
	)
	return err
}

// GetEstimate retrieves the damage estimate for a claim.
func (r *SQLRepository) GetEstimate(ctx context.Context, tenantID string, claimID string) (*domain.DamageEstimate, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT claim_id, tenant_id, source, items, total, created_at
		FROM estimates
		WHERE tenant_id = ? AND claim_id = ?
	`

	var e domain.DamageEstimate
	var items string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, claimID).Scan(
		&e.ClaimID, &e.TenantID, &e.Source, &items, &e.Total, &e.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if items != "" {
		json.Unmarshal([]byte(items), &e.Items)
	}

	return &e, nil
}

// SaveDecision appends a decision. Decisions are never updated or removed;
// the unique (tenant, claim, sequence) index rejects duplicate sequences.
func (r *SQLRepository) SaveDecision(ctx context.Context, tenantID string, d *domain.Decision) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(d.DenialReasons)
	signals, _ := json.Marshal(d.Signals)

	var settlement string
	if d.Settlement != nil {
		b, _ := json.Marshal(d.Settlement)
		settlement = string(b)
	}

	var classifier sql.NullFloat64
	if d.ClassifierProbability != nil {
		classifier = sql.NullFloat64{Float64: *d.ClassifierProbability, Valid: true}
	}

	query := `
		INSERT INTO decisions (
			id, tenant_id, claim_id, sequence, supersedes,
			verdict, tier, score, rationale,
			denial_reasons, settlement, signals, classifier_probability,
			engine_version, decided_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ID, tenantID, d.ClaimID, d.Sequence, d.Supersedes,
		d.Verdict, d.Tier, d.Score, d.Rationale,
		string(reasons), settlement, string(signals), classifier,
		d.EngineVersion, d.DecidedAt, d.CreatedAt,
	)
	return err
}

// GetDecision retrieves a decision by ID with tenant isolation.
func (r *SQLRepository) GetDecision(ctx context.Context, tenantID string, decisionID string) (*domain.Decision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := decisionSelect + ` WHERE tenant_id = ? AND id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, decisionID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// LatestDecision retrieves the highest-sequence decision for a claim.
func (r *SQLRepository) LatestDecision(ctx context.Context, tenantID string, claimID string) (*domain.Decision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := decisionSelect + `
		WHERE tenant_id = ? AND claim_id = ?
		ORDER BY sequence DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, claimID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ListDecisions retrieves a claim's full decision history, oldest first.
func (r *SQLRepository) ListDecisions(ctx context.Context, tenantID string, claimID string) ([]*domain.Decision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := decisionSelect + `
		WHERE tenant_id = ? AND claim_id = ?
		ORDER BY sequence ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}

	return decisions, rows.Err()
}

// SaveCheckConfig stores a check configuration with tenant isolation.
func (r *SQLRepository) SaveCheckConfig(ctx context.Context, tenantID string, check *domain.CheckConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if check.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO check_configs (
			id, tenant_id, name, description, expression, rationale, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			rationale = excluded.rationale,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		check.ID, tenantID, check.Name, check.Description,
		check.Expression, check.Rationale, enabled,
		now, now,
	)
	return err
}

// GetCheckConfig retrieves a check configuration with tenant isolation.
func (r *SQLRepository) GetCheckConfig(ctx context.Context, tenantID string, checkID string) (*domain.CheckConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, rationale, enabled, created_at, updated_at
		FROM check_configs
		WHERE tenant_id = ? AND id = ?
	`

	var cfg domain.CheckConfig
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, checkID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Expression, &cfg.Rationale, &enabled,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1

	return &cfg, nil
}

// ListCheckConfigs retrieves all check configurations for a tenant,
// disabled ones included; the engine filters on Enabled when loading.
func (r *SQLRepository) ListCheckConfigs(ctx context.Context, tenantID string) ([]*domain.CheckConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, rationale, enabled, created_at, updated_at
		FROM check_configs
		WHERE tenant_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.CheckConfig
	for rows.Next() {
		var cfg domain.CheckConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Expression, &cfg.Rationale, &enabled,
			&cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// DeleteCheckConfig removes a check configuration.
func (r *SQLRepository) DeleteCheckConfig(ctx context.Context, tenantID string, checkID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		DELETE FROM check_configs
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, checkID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const decisionSelect = `
	SELECT id, tenant_id, claim_id, sequence, supersedes,
		   verdict, tier, score, rationale,
		   denial_reasons, settlement, signals, classifier_probability,
		   engine_version, decided_at, created_at
	FROM decisions
`

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanClaim(row scanner) (*domain.Claim, error) {
	var claim domain.Claim
	var evidence string

	err := row.Scan(
		&claim.ID, &claim.TenantID, &claim.ClaimNumber, &claim.Type,
		&claim.ClaimantID, &claim.PolicyID,
		&claim.ClaimedAmount, &claim.IncidentDescription, &claim.IncidentAt,
		&evidence,
		&claim.Status, &claim.SubmittedAt, &claim.CreatedAt, &claim.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if evidence != "" {
		json.Unmarshal([]byte(evidence), &claim.Evidence)
	}

	return &claim, nil
}

func scanDecision(row scanner) (*domain.Decision, error) {
	var d domain.Decision
	var reasons, settlement, signals string
	var classifier sql.NullFloat64

	err := row.Scan(
		&d.ID, &d.TenantID, &d.ClaimID, &d.Sequence, &d.Supersedes,
		&d.Verdict, &d.Tier, &d.Score, &d.Rationale,
		&reasons, &settlement, &signals, &classifier,
		&d.EngineVersion, &d.DecidedAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reasons != "" {
		json.Unmarshal([]byte(reasons), &d.DenialReasons)
	}
	if settlement != "" {
		d.Settlement = &domain.Settlement{}
		json.Unmarshal([]byte(settlement), d.Settlement)
	}
	if signals != "" {
		json.Unmarshal([]byte(signals), &d.Signals)
	}
	if classifier.Valid {
		d.ClassifierProbability = &classifier.Float64
	}

	return &d, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
