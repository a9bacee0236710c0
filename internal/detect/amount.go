package detect

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultHighAmountThreshold flags single events above this amount.
const DefaultHighAmountThreshold = 10000.0

// AmountSignal is the result of the high amount check.
type AmountSignal struct {
	Amount    float64 `json:"amount"`
	Threshold float64 `json:"threshold"`
	Triggered bool    `json:"triggered"`
}

// HighAmount flags an event whose amount exceeds threshold.
func HighAmount(ev *domain.Event, threshold float64) AmountSignal {
	if threshold <= 0 {
		threshold = DefaultHighAmountThreshold
	}
	if ev == nil {
		return AmountSignal{Threshold: threshold}
	}
	return AmountSignal{
		Amount:    ev.Amount,
		Threshold: threshold,
		Triggered: ev.Amount > threshold,
	}
}

// Signal converts the amount result to an anomaly signal.
func (a AmountSignal) Signal(weight float64) domain.Signal {
	s := domain.Signal{
		Kind:      domain.SignalAmount,
		Name:      "high_amount",
		Triggered: a.Triggered,
		Value:     a.Amount,
	}
	if a.Triggered {
		s.Weight = weight
		s.Description = fmt.Sprintf("amount %.2f above %.2f", a.Amount, a.Threshold)
	}
	return s
}
