package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL. Entity bodies are stored as
// JSON in `data`; the other columns exist for lookups and ordering.
// Timestamps used in range queries are unix nanoseconds.

const schemaRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    version INTEGER NOT NULL,
    hit_count BIGINT NOT NULL DEFAULT 0,
    last_hit_ns BIGINT NOT NULL DEFAULT 0,
    created_ns BIGINT NOT NULL,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_rules_status ON fraud_rules(status);
`

const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    account_id TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL DEFAULT '',
    has_geo INTEGER NOT NULL DEFAULT 0,
    occurred_ns BIGINT NOT NULL,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_customer ON events(customer_id, occurred_ns);
CREATE INDEX IF NOT EXISTS idx_events_device ON events(device_id, occurred_ns);
CREATE INDEX IF NOT EXISTS idx_events_account ON events(account_id, occurred_ns);
`

const schemaPatterns = `
CREATE TABLE IF NOT EXISTS behavior_patterns (
    customer_id TEXT PRIMARY KEY,
    updated_ns BIGINT NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS behavior_events (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    occurred_ns BIGINT NOT NULL,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_behavior_events_customer ON behavior_events(customer_id, occurred_ns);
`

// schemaAlerts enforces at most one active alert per customer and
// transaction with a partial unique index.
const schemaAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    alert_number TEXT NOT NULL UNIQUE,
    customer_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    status TEXT NOT NULL,
    active INTEGER NOT NULL,
    version INTEGER NOT NULL,
    created_ns BIGINT NOT NULL,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_alerts_customer ON fraud_alerts(customer_id, created_ns);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_status ON fraud_alerts(status, created_ns);
CREATE UNIQUE INDEX IF NOT EXISTS idx_fraud_alerts_active
    ON fraud_alerts(customer_id, transaction_id) WHERE active = 1;
`

const schemaCases = `
CREATE TABLE IF NOT EXISTS fraud_cases (
    id TEXT PRIMARY KEY,
    case_number TEXT NOT NULL UNIQUE,
    customer_id TEXT NOT NULL,
    status TEXT NOT NULL,
    version INTEGER NOT NULL,
    created_ns BIGINT NOT NULL,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_cases_customer ON fraud_cases(customer_id, created_ns);
CREATE INDEX IF NOT EXISTS idx_fraud_cases_status ON fraud_cases(status, created_ns);
`

const schemaInvestigations = `
CREATE TABLE IF NOT EXISTS fraud_investigations (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    status TEXT NOT NULL,
    terminal INTEGER NOT NULL,
    version INTEGER NOT NULL,
    sla_ns BIGINT NOT NULL,
    created_ns BIGINT NOT NULL,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_investigations_case ON fraud_investigations(case_id, created_ns);
CREATE INDEX IF NOT EXISTS idx_fraud_investigations_open ON fraud_investigations(terminal, sla_ns);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    severity TEXT NOT NULL,
    score REAL NOT NULL,
    evaluated_ns BIGINT NOT NULL,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_event ON decisions(event_id);
CREATE INDEX IF NOT EXISTS idx_decisions_customer ON decisions(customer_id, evaluated_ns);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRules,
		schemaEvents,
		schemaPatterns,
		schemaAlerts,
		schemaCases,
		schemaInvestigations,
		schemaDecisions,
	}
}
