package detect

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DeviationWeights are the fixed contributions of each deviation.
type DeviationWeights struct {
	NewDevice   float64
	UnusualHour float64
	NewLocation float64
	AmountSpike float64

	// SpikeMultiplier flags amounts above this multiple of the average.
	SpikeMultiplier float64
}

// DefaultDeviationWeights returns the stock weights.
func DefaultDeviationWeights() DeviationWeights {
	return DeviationWeights{
		NewDevice:       15,
		UnusualHour:     10,
		NewLocation:     10,
		AmountSpike:     15,
		SpikeMultiplier: 3,
	}
}

// DeviationSignal describes how an event departs from the customer pattern.
type DeviationSignal struct {
	Score       float64 `json:"score"`
	NewDevice   bool    `json:"newDevice"`
	UnusualHour bool    `json:"unusualHour"`
	NewLocation bool    `json:"newLocation"`
	AmountSpike bool    `json:"amountSpike"`
	AmountRatio float64 `json:"amountRatio"`

	weights DeviationWeights
}

// Deviation compares an event against the customer's learned pattern.
// A nil pattern only yields a new-device deviation when the event carries
// a device. The score is bounded to [0,100].
func Deviation(ev *domain.Event, pattern *domain.BehaviorPattern, w DeviationWeights) DeviationSignal {
	sig := DeviationSignal{weights: w}
	if ev == nil {
		return sig
	}

	if pattern == nil {
		if ev.DeviceID != "" {
			sig.NewDevice = true
			sig.Score = clamp(w.NewDevice)
		}
		return sig
	}

	if ev.DeviceID != "" && !pattern.KnowsDevice(ev.DeviceID) {
		sig.NewDevice = true
		sig.Score += w.NewDevice
	}
	if len(pattern.TypicalHours) > 0 && !ev.Timestamp.IsZero() && !pattern.TypicalHour(ev.Timestamp.UTC().Hour()) {
		sig.UnusualHour = true
		sig.Score += w.UnusualHour
	}
	if ev.Geo != nil && len(pattern.KnownLocations) > 0 && !pattern.KnowsLocation(ev.Geo.Label()) {
		sig.NewLocation = true
		sig.Score += w.NewLocation
	}
	if pattern.AvgAmount > 0 {
		sig.AmountRatio = ev.Amount / pattern.AvgAmount
		mult := w.SpikeMultiplier
		if mult <= 0 {
			mult = 3
		}
		if sig.AmountRatio > mult {
			sig.AmountSpike = true
			sig.Score += w.AmountSpike
		}
	}

	sig.Score = clamp(sig.Score)
	return sig
}

// Signals splits the deviation into one anomaly signal per component.
// Only triggered components are returned.
func (d DeviationSignal) Signals() []domain.Signal {
	var out []domain.Signal
	if d.NewDevice {
		out = append(out, domain.Signal{
			Kind: domain.SignalDevice, Name: "new_device", Triggered: true,
			Weight: d.weights.NewDevice, Description: "device not seen for customer",
		})
	}
	if d.UnusualHour {
		out = append(out, domain.Signal{
			Kind: domain.SignalBehavior, Name: "unusual_hour", Triggered: true,
			Weight: d.weights.UnusualHour, Description: "activity outside typical hours",
		})
	}
	if d.NewLocation {
		out = append(out, domain.Signal{
			Kind: domain.SignalGeo, Name: "new_location", Triggered: true,
			Weight: d.weights.NewLocation, Description: "location not seen for customer",
		})
	}
	if d.AmountSpike {
		out = append(out, domain.Signal{
			Kind: domain.SignalBehavior, Name: "amount_deviation", Triggered: true,
			Weight: d.weights.AmountSpike, Value: d.AmountRatio,
			Description: fmt.Sprintf("amount %.1fx customer average", d.AmountRatio),
		})
	}
	return out
}

// Anomalies converts the deviation into behaviour anomaly records.
func (d DeviationSignal) Anomalies() []domain.BehaviorAnomaly {
	sigs := d.Signals()
	out := make([]domain.BehaviorAnomaly, 0, len(sigs))
	for _, s := range sigs {
		out = append(out, domain.BehaviorAnomaly{Type: s.Name, Score: s.Weight, Description: s.Description})
	}
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
