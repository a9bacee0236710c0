package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CaseStatus is the lifecycle status of a fraud case.
type CaseStatus string

const (
	CaseOpen           CaseStatus = "open"
	CaseInProgress     CaseStatus = "in_progress"
	CasePendingReview  CaseStatus = "pending_review"
	CaseEscalated      CaseStatus = "escalated"
	CaseConfirmedFraud CaseStatus = "confirmed_fraud"
	CaseNotFraud       CaseStatus = "not_fraud"
	CaseCancelled      CaseStatus = "cancelled"
	CaseClosed         CaseStatus = "closed"
)

// Decided reports whether the case has a fraud determination.
func (s CaseStatus) Decided() bool {
	return s == CaseConfirmedFraud || s == CaseNotFraud
}

// Terminal reports whether no further change is allowed.
func (s CaseStatus) Terminal() bool {
	return s == CaseClosed || s == CaseCancelled
}

// Valid reports whether s is a known case status.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseOpen, CaseInProgress, CasePendingReview, CaseEscalated,
		CaseConfirmedFraud, CaseNotFraud, CaseCancelled, CaseClosed:
		return true
	}
	return false
}

// RecoveryStatus summarises how much of the fraud amount was recovered.
type RecoveryStatus string

const (
	RecoveryNone    RecoveryStatus = "none"
	RecoveryPartial RecoveryStatus = "partial"
	RecoveryFull    RecoveryStatus = "full"
)

// Outcome is the liability determination of a case or investigation.
type Outcome string

const (
	OutcomeFraudConfirmed Outcome = "fraud_confirmed"
	OutcomeNoFraud        Outcome = "no_fraud"
	OutcomeInconclusive   Outcome = "inconclusive"
	OutcomeCustomerError  Outcome = "customer_error"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeFraudConfirmed, OutcomeNoFraud, OutcomeInconclusive, OutcomeCustomerError:
		return true
	}
	return false
}

// FraudCase aggregates alerts for one customer and tracks recovery.
type FraudCase struct {
	ID             string     `json:"id"`
	CaseNumber     string     `json:"caseNumber"`
	CustomerID     string     `json:"customerId"`
	Title          string     `json:"title,omitempty"`
	Status         CaseStatus `json:"status"`
	Priority       Severity   `json:"priority"`
	AlertIDs       []string   `json:"alertIds"`
	TransactionIDs []string   `json:"transactionIds"`
	AssignedTo     string     `json:"assignedTo,omitempty"`

	TotalFraudAmount decimal.Decimal `json:"totalFraudAmount"`
	RecoveredAmount  decimal.Decimal `json:"recoveredAmount"`
	RecoveryStatus   RecoveryStatus  `json:"recoveryStatus"`
	RecoveryRate     decimal.Decimal `json:"recoveryRate"`

	Outcome       Outcome         `json:"outcome,omitempty"`
	ActualLoss    decimal.Decimal `json:"actualLoss"`
	PreventedLoss decimal.Decimal `json:"preventedLoss"`

	DueDate   time.Time  `json:"dueDate"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// HasAlert reports whether the alert is already linked.
func (c *FraudCase) HasAlert(alertID string) bool {
	return containsString(c.AlertIDs, alertID)
}
