package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaClaims = `
CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    claim_number TEXT NOT NULL,
    type TEXT NOT NULL,
    claimant_id TEXT NOT NULL,
    policy_id TEXT NOT NULL,
    claimed_amount REAL NOT NULL,
    incident_description TEXT,
    incident_at TIMESTAMP,
    evidence TEXT,
    status TEXT NOT NULL,
    submitted_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_tenant ON claims(tenant_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_number ON claims(tenant_id, claim_number);
CREATE INDEX IF NOT EXISTS idx_claims_claimant ON claims(tenant_id, claimant_id);
CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_claims_submitted ON claims(tenant_id, submitted_at);
`

const schemaPolicies = `
CREATE TABLE IF NOT EXISTS policies (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    policyholder_id TEXT,
    coverage_limit REAL NOT NULL,
    deductible REAL NOT NULL DEFAULT 0,
    active_from TIMESTAMP,
    active_until TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policies_tenant ON policies(tenant_id);
`

// schemaEstimates holds one damage estimate per claim; re-submitting an
// estimate replaces the previous one.
const schemaEstimates = `
CREATE TABLE IF NOT EXISTS estimates (
    claim_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    source TEXT NOT NULL,
    items TEXT,
    total REAL NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (claim_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_estimates_tenant ON estimates(tenant_id);
`

// schemaDecisions is append-only: rows are inserted, never updated or
// deleted. Re-evaluations get a higher sequence and point at the decision
// they supersede.
const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    supersedes TEXT,
    verdict TEXT NOT NULL,
    tier TEXT NOT NULL,
    score REAL NOT NULL,
    rationale TEXT NOT NULL,
    denial_reasons TEXT,
    settlement TEXT,
    signals TEXT NOT NULL,
    classifier_probability REAL,
    engine_version TEXT NOT NULL,
    decided_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_tenant ON decisions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_decisions_claim ON decisions(tenant_id, claim_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_decisions_sequence ON decisions(tenant_id, claim_id, sequence);
CREATE INDEX IF NOT EXISTS idx_decisions_decided ON decisions(tenant_id, decided_at);
`

const schemaCheckConfigs = `
CREATE TABLE IF NOT EXISTS check_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    rationale TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_check_configs_tenant ON check_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_check_configs_enabled ON check_configs(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaClaims,
		schemaPolicies,
		schemaEstimates,
		schemaDecisions,
		schemaCheckConfigs,
	}
}
