// Package detect holds the pattern detectors. Every detector is a pure
// function of the event, its recent history and the customer pattern.
package detect

import (
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Entity keys accepted by VelocityConfig.EntityKey.
const (
	EntityCustomer = "customer"
	EntityDevice   = "device"
	EntityAccount  = "account"
)

// VelocityConfig bounds activity for one entity in a trailing window.
// A zero MaxCount or MaxAmount disables that dimension.
type VelocityConfig struct {
	Window    time.Duration
	MaxCount  int
	MaxAmount float64

	// EntityKey and EntityID restrict history to one entity. Empty EntityKey
	// counts every event given.
	EntityKey string
	EntityID  string
}

// VelocitySignal is the result of a velocity check.
type VelocitySignal struct {
	Count            int     `json:"count"`
	Amount           float64 `json:"amount"`
	Triggered        bool    `json:"triggered"`
	ExcessPercentage float64 `json:"excessPercentage"`
}

// Velocity counts events and sums amounts in (now-Window, now] and flags
// the entity when either bound is exceeded. The excess percentage is taken
// from the dimension breaching the most.
func Velocity(now time.Time, history []*domain.Event, cfg VelocityConfig) VelocitySignal {
	var sig VelocitySignal
	if cfg.Window <= 0 {
		return sig
	}
	since := now.Add(-cfg.Window)

	for _, ev := range history {
		if ev == nil || !matchesEntity(ev, cfg) {
			continue
		}
		if !ev.Timestamp.After(since) || ev.Timestamp.After(now) {
			continue
		}
		sig.Count++
		sig.Amount += ev.Amount
	}

	if cfg.MaxCount > 0 && sig.Count > cfg.MaxCount {
		sig.Triggered = true
		sig.ExcessPercentage = excess(float64(sig.Count), float64(cfg.MaxCount))
	}
	if cfg.MaxAmount > 0 && sig.Amount > cfg.MaxAmount {
		sig.Triggered = true
		if pct := excess(sig.Amount, cfg.MaxAmount); pct > sig.ExcessPercentage {
			sig.ExcessPercentage = pct
		}
	}
	return sig
}

func excess(observed, threshold float64) float64 {
	return (observed - threshold) / threshold * 100
}

func matchesEntity(ev *domain.Event, cfg VelocityConfig) bool {
	switch cfg.EntityKey {
	case "":
		return true
	case EntityCustomer:
		return ev.CustomerID == cfg.EntityID
	case EntityDevice:
		return ev.DeviceID == cfg.EntityID
	case EntityAccount:
		return ev.AccountID == cfg.EntityID
	}
	return false
}

// Signal converts the velocity result to an anomaly signal.
func (v VelocitySignal) Signal(weight float64) domain.Signal {
	s := domain.Signal{
		Kind:      domain.SignalVelocity,
		Name:      "velocity",
		Triggered: v.Triggered,
		Value:     float64(v.Count),
	}
	if v.Triggered {
		s.Weight = weight
		s.Description = fmt.Sprintf("%d events totalling %.2f in window (%.0f%% over limit)", v.Count, v.Amount, v.ExcessPercentage)
	}
	return s
}
