// Package scoring aggregates rule results and detector signals into a
// fraud decision.
package scoring

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Scorer turns rule results and anomaly signals into a Decision.
type Scorer struct {
	// Severity tiers, score >= threshold
	CriticalThreshold float64
	HighThreshold     float64
	MediumThreshold   float64

	// Alert and block cut-offs
	AlertThreshold float64
	BlockThreshold float64

	now func() time.Time
}

// NewScorer creates a scorer from engine configuration.
func NewScorer(cfg domain.EngineConfig) *Scorer {
	return &Scorer{
		CriticalThreshold: cfg.CriticalThreshold,
		HighThreshold:     cfg.HighThreshold,
		MediumThreshold:   cfg.MediumThreshold,
		AlertThreshold:    cfg.AlertThreshold,
		BlockThreshold:    cfg.BlockThreshold,
		now:               time.Now,
	}
}

// WithClock returns a copy of s using now for EvaluatedAt.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	c := *s
	c.now = now
	return &c
}

// Score produces the decision for ev. It has no side effects.
func (s *Scorer) Score(ev *domain.Event, results []domain.RuleResult, signals []domain.Signal) *domain.Decision {
	agg := aggregate(results, signals)
	score := clamp(agg.score)

	d := &domain.Decision{
		ID:             uuid.New().String(),
		FraudScore:     score,
		Severity:       s.severity(score),
		MatchedRuleIDs: agg.matchedIDs,
		AnomalySignals: signals,
		ShouldAlert:    score >= s.AlertThreshold,
		ShouldBlock:    score >= s.BlockThreshold,
		EvaluatedAt:    s.now().UTC(),
	}
	if d.MatchedRuleIDs == nil {
		d.MatchedRuleIDs = []string{}
	}
	if d.AnomalySignals == nil {
		d.AnomalySignals = []domain.Signal{}
	}
	if ev != nil {
		d.EventID = ev.ID
		d.TransactionID = ev.TransactionID
		d.CustomerID = ev.CustomerID
	}

	// ShouldBlock stays threshold-derived; a block rule only sets the action.
	d.RecommendedAction = s.action(d, agg.strongest)
	d.FraudType = classify(agg)
	return d
}

func (s *Scorer) severity(score float64) domain.Severity {
	switch {
	case score >= s.CriticalThreshold:
		return domain.SeverityCritical
	case score >= s.HighThreshold:
		return domain.SeverityHigh
	case score >= s.MediumThreshold:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// action picks the recommended action. A matched block rule always wins.
func (s *Scorer) action(d *domain.Decision, strongest domain.RuleAction) domain.RuleAction {
	switch {
	case strongest == domain.ActionBlock || d.ShouldBlock:
		return domain.ActionBlock
	case strongest == domain.ActionChallenge || d.Severity == domain.SeverityHigh:
		return domain.ActionChallenge
	case d.ShouldAlert:
		return domain.ActionAlert
	default:
		return domain.ActionLog
	}
}

// aggregation holds the summed inputs of one decision.
type aggregation struct {
	score      float64
	matchedIDs []string
	strongest  domain.RuleAction

	// topRuleType is the type of the highest-weight matched rule
	topRuleType   domain.RuleType
	topRuleWeight float64

	velocity, geo, device, behavior, amount bool
	triggered                               int
}

func aggregate(results []domain.RuleResult, signals []domain.Signal) *aggregation {
	agg := &aggregation{topRuleWeight: math.Inf(-1)}

	for _, r := range results {
		if !r.Matched {
			continue
		}
		agg.score += r.Score
		agg.matchedIDs = append(agg.matchedIDs, r.RuleID)
		if r.Action.Rank() > agg.strongest.Rank() {
			agg.strongest = r.Action
		}
		if r.Score > agg.topRuleWeight {
			agg.topRuleWeight = r.Score
			agg.topRuleType = r.RuleType
		}
	}

	for _, sig := range signals {
		if !sig.Triggered {
			continue
		}
		agg.score += sig.Weight
		agg.triggered++
		switch sig.Kind {
		case domain.SignalVelocity:
			agg.velocity = true
		case domain.SignalGeo:
			agg.geo = true
		case domain.SignalDevice:
			agg.device = true
		case domain.SignalBehavior:
			agg.behavior = true
		case domain.SignalAmount:
			agg.amount = true
		}
	}
	return agg
}

// classify infers the fraud type. The first matching case wins.
func classify(agg *aggregation) domain.FraudType {
	switch {
	case agg.geo && agg.device:
		return domain.FraudAccountTakeover
	case agg.velocity && agg.triggered == 1:
		return domain.FraudCardNotPresent
	case agg.velocity:
		return domain.FraudCardTesting
	case agg.geo:
		return domain.FraudLocationAnomaly
	case agg.device || agg.behavior:
		return domain.FraudBehavioralAnomaly
	case agg.amount:
		return domain.FraudUnusualAmount
	}
	if len(agg.matchedIDs) > 0 {
		return ruleFraudType(agg.topRuleType)
	}
	return domain.FraudUnknown
}

func ruleFraudType(t domain.RuleType) domain.FraudType {
	switch t {
	case domain.RuleTypeVelocity:
		return domain.FraudCardNotPresent
	case domain.RuleTypeGeographic:
		return domain.FraudLocationAnomaly
	case domain.RuleTypeDevice:
		return domain.FraudAccountTakeover
	case domain.RuleTypeBehavioral, domain.RuleTypeTime:
		return domain.FraudBehavioralAnomaly
	case domain.RuleTypeThreshold:
		return domain.FraudUnusualAmount
	default:
		return domain.FraudUnknown
	}
}

func clamp(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
