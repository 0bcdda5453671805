package repository

// Schema definitions for Heron database.
// Compatible with both SQLite and PostgreSQL. Amounts and scores are
// stored as decimal text; times as UTC unix nanoseconds.

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id TEXT PRIMARY KEY,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    email TEXT,
    date_of_birth BIGINT,
    national_id TEXT,
    address TEXT,
    phone TEXT,
    country TEXT NOT NULL,
    registered_at BIGINT NOT NULL,
    risk_level TEXT NOT NULL,
    risk_score TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    sender_account TEXT,
    sender_country TEXT,
    receiver_account TEXT,
    receiver_name TEXT,
    receiver_country TEXT,
    description TEXT,
    timestamp BIGINT NOT NULL,
    created_at BIGINT NOT NULL,
    risk_score TEXT,
    is_suspicious INTEGER NOT NULL DEFAULT 0,
    flagged_reasons TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id, status, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    weight TEXT NOT NULL,
    config TEXT NOT NULL,
    created_by TEXT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_status ON rules(status, priority);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL,
    rule_ids TEXT NOT NULL,
    risk_score TEXT NOT NULL,
    reviewed_by TEXT,
    reviewed_at BIGINT,
    review_notes TEXT,
    resolution_notes TEXT,
    history TEXT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_customer ON alerts(customer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, severity);
`

// schemaRiskScores keeps an audit trail of every computed score.
const schemaRiskScores = `
CREATE TABLE IF NOT EXISTS risk_scores (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    transaction_id TEXT,
    kind TEXT NOT NULL,
    score TEXT NOT NULL,
    factors TEXT NOT NULL,
    method TEXT NOT NULL,
    calculated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_scores_customer ON risk_scores(customer_id, calculated_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCustomers,
		schemaTransactions,
		schemaRules,
		schemaAlerts,
		schemaRiskScores,
	}
}
