package domain

import "time"

// AlertStatus is the analyst workflow status of an alert.
type AlertStatus string

const (
	AlertNew            AlertStatus = "new"
	AlertAssigned       AlertStatus = "assigned"
	AlertInvestigating  AlertStatus = "investigating"
	AlertEscalated      AlertStatus = "escalated"
	AlertConfirmedFraud AlertStatus = "confirmed_fraud"
	AlertFalsePositive  AlertStatus = "false_positive"
	AlertClosed         AlertStatus = "closed"
)

// Terminal reports whether the alert has been dispositioned.
// Dispositioned alerts may still be closed, nothing else.
func (s AlertStatus) Terminal() bool {
	return s == AlertConfirmedFraud || s == AlertFalsePositive || s == AlertClosed
}

// Valid reports whether s is a known alert status.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertNew, AlertAssigned, AlertInvestigating, AlertEscalated,
		AlertConfirmedFraud, AlertFalsePositive, AlertClosed:
		return true
	}
	return false
}

// FraudAlert is a flagged event awaiting analyst disposition.
type FraudAlert struct {
	ID            string      `json:"id"`
	AlertNumber   string      `json:"alertNumber"`
	CustomerID    string      `json:"customerId"`
	TransactionID string      `json:"transactionId"`
	EventID       string      `json:"eventId,omitempty"`
	FraudType     FraudType   `json:"fraudType"`
	Severity      Severity    `json:"severity"`
	Status        AlertStatus `json:"status"`
	FraudScore    float64     `json:"fraudScore"`
	Amount        float64     `json:"amount"`

	Indicators     []string `json:"indicators"`
	MatchedRuleIDs []string `json:"matchedRuleIds"`

	AssignedTo       string `json:"assignedTo,omitempty"`
	EscalatedTo      string `json:"escalatedTo,omitempty"`
	EscalationReason string `json:"escalationReason,omitempty"`
	Resolution       string `json:"resolution,omitempty"`
	CaseID           string `json:"caseId,omitempty"`

	Version    int        `json:"version"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}
