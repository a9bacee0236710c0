package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvestigationStatus is the workflow status of an investigation.
type InvestigationStatus string

const (
	InvestigationPending     InvestigationStatus = "pending"
	InvestigationInProgress  InvestigationStatus = "in_progress"
	InvestigationPendingInfo InvestigationStatus = "pending_info"
	InvestigationEscalated   InvestigationStatus = "escalated"
	InvestigationCompleted   InvestigationStatus = "completed"
	InvestigationCancelled   InvestigationStatus = "cancelled"
)

// Terminal reports whether the investigation is finished.
func (s InvestigationStatus) Terminal() bool {
	return s == InvestigationCompleted || s == InvestigationCancelled
}

// Valid reports whether s is a known investigation status.
func (s InvestigationStatus) Valid() bool {
	switch s {
	case InvestigationPending, InvestigationInProgress, InvestigationPendingInfo,
		InvestigationEscalated, InvestigationCompleted, InvestigationCancelled:
		return true
	}
	return false
}

// InvestigationType selects the default SLA.
type InvestigationType string

const (
	InvestigationStandard  InvestigationType = "standard"
	InvestigationExpedited InvestigationType = "expedited"
	InvestigationComplex   InvestigationType = "complex"
)

// Valid reports whether t is a known investigation type.
func (t InvestigationType) Valid() bool {
	return t == InvestigationStandard || t == InvestigationExpedited || t == InvestigationComplex
}

// StepType classifies an investigation step.
type StepType string

const (
	StepReview   StepType = "review"
	StepContact  StepType = "contact"
	StepVerify   StepType = "verify"
	StepDecision StepType = "decision"
)

// StepStatus is the status of one step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
)

// InvestigationStep is one ordered step of an investigation.
type InvestigationStep struct {
	Order       int        `json:"order"`
	Name        string     `json:"name"`
	Type        StepType   `json:"type"`
	Required    bool       `json:"required"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// CustomerContact is an entry in the append-only contact log.
type CustomerContact struct {
	Channel   string    `json:"channel"`
	Direction string    `json:"direction"`
	Summary   string    `json:"summary"`
	At        time.Time `json:"at"`
}

// DisputeStatus is the lifecycle status of a disputed transaction.
type DisputeStatus string

const (
	DisputeOpened            DisputeStatus = "opened"
	DisputeProvisionalCredit DisputeStatus = "provisional_credit"
	DisputeAccepted          DisputeStatus = "accepted"
	DisputeRejected          DisputeStatus = "rejected"
	DisputeChargeback        DisputeStatus = "chargeback"
)

// DisputeRecord tracks one disputed transaction inside an investigation.
type DisputeRecord struct {
	ID                string          `json:"id"`
	TransactionID     string          `json:"transactionId"`
	Amount            decimal.Decimal `json:"amount"`
	Status            DisputeStatus   `json:"status"`
	ProvisionalCredit decimal.Decimal `json:"provisionalCredit"`
	ChargebackRef     string          `json:"chargebackRef,omitempty"`
	OpenedAt          time.Time       `json:"openedAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	DecidedAt         *time.Time      `json:"decidedAt,omitempty"`
}

// FraudInvestigation is the stepwise workflow resolving a case.
type FraudInvestigation struct {
	ID          string              `json:"id"`
	CaseID      string              `json:"caseId"`
	CustomerID  string              `json:"customerId,omitempty"`
	Type        InvestigationType   `json:"type"`
	Status      InvestigationStatus `json:"status"`
	Steps       []InvestigationStep `json:"steps"`
	CurrentStep int                 `json:"currentStep"`
	SLADeadline time.Time           `json:"slaDeadline"`
	AssignedTo  string              `json:"assignedTo,omitempty"`

	Contacts []CustomerContact `json:"contacts"`
	Disputes []DisputeRecord   `json:"disputes"`

	DisputedAmount  decimal.Decimal `json:"disputedAmount"`
	Outcome         Outcome         `json:"outcome,omitempty"`
	OutcomeReason   string          `json:"outcomeReason,omitempty"`
	RefundAmount    decimal.Decimal `json:"refundAmount"`
	RefundProcessed bool            `json:"refundProcessed"`

	EscalationReason string `json:"escalationReason,omitempty"`

	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// IsOverdue reports an SLA breach at now. Breach is derived, never stored.
func (inv *FraudInvestigation) IsOverdue(now time.Time) bool {
	return !inv.Status.Terminal() && now.After(inv.SLADeadline)
}

// RequiredStepsDone reports whether every required step is completed.
func (inv *FraudInvestigation) RequiredStepsDone() bool {
	for _, s := range inv.Steps {
		if s.Required && s.Status != StepCompleted {
			return false
		}
	}
	return true
}
