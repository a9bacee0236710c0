// Package domain defines the core types and collaborator interfaces for Harrier.
package domain

import (
	"context"
	"time"
)

// RuleStore persists fraud rules. Rules are never hard-deleted.
type RuleStore interface {
	SaveRule(ctx context.Context, rule *FraudRule) error
	GetRule(ctx context.Context, ruleID string) (*FraudRule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]*FraudRule, error)

	// AddRuleHits adds delta to the rule's persisted hit counter.
	AddRuleHits(ctx context.Context, ruleID string, delta int64, lastHit time.Time) error
}

// EventStore keeps the event history consulted by velocity and geo checks.
type EventStore interface {
	SaveEvent(ctx context.Context, ev *Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)

	// LastLocatedEvent returns the customer's most recent event carrying a
	// location, or nil when there is none.
	LastLocatedEvent(ctx context.Context, customerID string, before time.Time) (*Event, error)
}

// PatternStore persists behaviour patterns and observations.
type PatternStore interface {
	GetPattern(ctx context.Context, customerID string) (*BehaviorPattern, error)
	UpsertPattern(ctx context.Context, p *BehaviorPattern) error
	SaveBehaviorEvent(ctx context.Context, be *BehaviorEvent) error
	ListBehaviorEvents(ctx context.Context, customerID string, limit int) ([]*BehaviorEvent, error)
}

// AlertStore persists fraud alerts.
// UpdateAlert is a compare-and-swap on Version: the stored version must equal
// alert.Version, and on success the store increments alert.Version.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *FraudAlert) error
	GetAlert(ctx context.Context, alertID string) (*FraudAlert, error)
	UpdateAlert(ctx context.Context, alert *FraudAlert) error

	// FindActiveAlert returns the non-terminal alert for the pair, or nil.
	FindActiveAlert(ctx context.Context, customerID, transactionID string) (*FraudAlert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*FraudAlert, error)

	// MaxAlertNumber returns the highest alert number starting with stem,
	// or "" when there is none.
	MaxAlertNumber(ctx context.Context, stem string) (string, error)
}

// CaseStore persists fraud cases. UpdateCase follows the AlertStore CAS rule.
type CaseStore interface {
	CreateCase(ctx context.Context, c *FraudCase) error
	GetCase(ctx context.Context, caseID string) (*FraudCase, error)
	UpdateCase(ctx context.Context, c *FraudCase) error
	ListCases(ctx context.Context, filter CaseFilter) ([]*FraudCase, error)
	MaxCaseNumber(ctx context.Context, stem string) (string, error)
}

// InvestigationStore persists investigations. UpdateInvestigation is CAS.
type InvestigationStore interface {
	CreateInvestigation(ctx context.Context, inv *FraudInvestigation) error
	GetInvestigation(ctx context.Context, id string) (*FraudInvestigation, error)
	UpdateInvestigation(ctx context.Context, inv *FraudInvestigation) error
	ListInvestigationsByCase(ctx context.Context, caseID string) ([]*FraudInvestigation, error)
	ListOpenInvestigations(ctx context.Context) ([]*FraudInvestigation, error)
	ListInvestigations(ctx context.Context, filter InvestigationFilter) ([]*FraudInvestigation, error)
}

// DecisionStore persists scored decisions.
type DecisionStore interface {
	SaveDecision(ctx context.Context, d *Decision) error
	GetDecision(ctx context.Context, id string) (*Decision, error)
}

// Repository is the full persistence surface.
type Repository interface {
	RuleStore
	EventStore
	PatternStore
	AlertStore
	CaseStore
	InvestigationStore
	DecisionStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AlertFilter narrows alert listings. Zero values match everything.
type AlertFilter struct {
	CustomerID string
	Status     AlertStatus
	Limit      int
}

// CaseFilter narrows case listings. Zero values match everything.
type CaseFilter struct {
	CustomerID string
	Status     CaseStatus
	Limit      int
}

// InvestigationFilter narrows investigation listings. Zero values match everything.
type InvestigationFilter struct {
	CaseID string
	Status InvestigationStatus
	Limit  int
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the storage driver: "memory", "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
