package domain

import "time"

// Severity is the coarse bucket derived from a fraud score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low to critical.
func (s Severity) Rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// FraudType is the inferred category of fraud.
type FraudType string

const (
	FraudAccountTakeover   FraudType = "account_takeover"
	FraudCardNotPresent    FraudType = "card_not_present"
	FraudCardTesting       FraudType = "card_testing"
	FraudLocationAnomaly   FraudType = "location_anomaly"
	FraudBehavioralAnomaly FraudType = "behavioral_anomaly"
	FraudUnusualAmount     FraudType = "unusual_amount"
	FraudIdentityTheft     FraudType = "identity_theft"
	FraudUnknown           FraudType = "unknown"
)

// SignalKind identifies which detector produced a signal.
type SignalKind string

const (
	SignalVelocity SignalKind = "velocity"
	SignalGeo      SignalKind = "geographic"
	SignalDevice   SignalKind = "device"
	SignalBehavior SignalKind = "behavioral"
	SignalAmount   SignalKind = "amount"
)

// Signal is a derived anomaly signal from a pattern detector.
type Signal struct {
	Kind        SignalKind `json:"kind"`
	Name        string     `json:"name"`
	Triggered   bool       `json:"triggered"`
	Weight      float64    `json:"weight"`
	Description string     `json:"description,omitempty"`

	// Value is the detector's headline measurement (count, km/h, ratio).
	Value float64 `json:"value,omitempty"`
}

// Decision is the persisted/exported result of evaluating an event.
// The first five fields form the stable wire contract.
type Decision struct {
	FraudScore        float64    `json:"fraudScore"`
	Severity          Severity   `json:"severity"`
	RecommendedAction RuleAction `json:"recommendedAction"`
	MatchedRuleIDs    []string   `json:"matchedRuleIds"`
	AnomalySignals    []Signal   `json:"anomalySignals"`

	ID            string    `json:"id,omitempty"`
	EventID       string    `json:"eventId,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	CustomerID    string    `json:"customerId,omitempty"`
	FraudType     FraudType `json:"fraudType,omitempty"`
	ShouldAlert   bool      `json:"shouldAlert"`
	ShouldBlock   bool      `json:"shouldBlock"`
	AlertID       string    `json:"alertId,omitempty"`
	EvaluatedAt   time.Time `json:"evaluatedAt"`
}

// Indicators returns the names of triggered signals and matched rules.
func (d *Decision) Indicators() []string {
	out := make([]string, 0, len(d.AnomalySignals)+len(d.MatchedRuleIDs))
	for _, s := range d.AnomalySignals {
		if s.Triggered {
			out = append(out, s.Name)
		}
	}
	for _, id := range d.MatchedRuleIDs {
		out = append(out, "rule:"+id)
	}
	return out
}
