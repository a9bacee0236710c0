package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerRiskProfile is the directory's view of a customer, used to seed
// a behaviour pattern before any observations exist.
type CustomerRiskProfile struct {
	CustomerID     string    `json:"customerId"`
	RiskLevel      string    `json:"riskLevel"`
	TypicalHours   []int     `json:"typicalHours,omitempty"`
	KnownDevices   []string  `json:"knownDevices,omitempty"`
	KnownLocations []string  `json:"knownLocations,omitempty"`
	AvgAmount      float64   `json:"avgAmount"`
	HomeLocation   *GeoPoint `json:"homeLocation,omitempty"`
}

// CustomerLookup resolves customer ids against the customer directory.
type CustomerLookup interface {
	RiskProfile(ctx context.Context, customerID string) (*CustomerRiskProfile, error)
}

// NotificationRequest asks the messaging subsystem to deliver something.
type NotificationRequest struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Recipient string         `json:"recipient"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Notifier dispatches notification requests. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, req NotificationRequest) error
}

// RefundRequest instructs the ledger to refund a customer.
type RefundRequest struct {
	ID              string          `json:"id"`
	InvestigationID string          `json:"investigationId"`
	CaseID          string          `json:"caseId"`
	CustomerID      string          `json:"customerId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	RequestedAt     time.Time       `json:"requestedAt"`
}

// RefundSink hands refund requests to the ledger.
type RefundSink interface {
	RequestRefund(ctx context.Context, req RefundRequest) error
}
