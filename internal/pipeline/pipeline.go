// Package pipeline runs one event through history lookup, detectors, rule
// evaluation and scoring, then persists the decision and raises an alert
// when the score calls for one.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/velocity"
)

var tracer = otel.Tracer("harrier-pipeline")

// RuleEvaluator evaluates active rules against an event.
type RuleEvaluator interface {
	EvaluateEvent(ctx context.Context, ev *domain.Event) []domain.RuleResult
}

// Scorer turns rule results and signals into a decision.
type Scorer interface {
	Score(ev *domain.Event, results []domain.RuleResult, signals []domain.Signal) *domain.Decision
}

// Profiles reads and updates behaviour patterns.
type Profiles interface {
	Bootstrap(ctx context.Context, customerID string) (*domain.BehaviorPattern, error)
	Record(ctx context.Context, ev *domain.Event, anomalies []domain.BehaviorAnomaly) (*domain.BehaviorPattern, error)
}

// Alerts raises fraud alerts.
type Alerts interface {
	Create(ctx context.Context, in alert.CreateInput) (*domain.FraudAlert, error)
}

// History loads the velocity window for an event.
type History interface {
	History(ctx context.Context, ev *domain.Event) ([]*domain.Event, error)
	EntityCounts(ctx context.Context, ev *domain.Event) (map[string]float64, error)
	Window() time.Duration
}

// Store is the persistence the pipeline writes to.
type Store interface {
	domain.EventStore
	domain.DecisionStore
}

// Observer records completed evaluations.
type Observer interface {
	ObserveDecision(d *domain.Decision, took time.Duration)
}

// Outcome is the result of one evaluation.
type Outcome struct {
	Decision *domain.Decision  `json:"decision"`
	Alert    *domain.FraudAlert `json:"alert,omitempty"`

	// Duplicate is set when the alert already existed for the transaction.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Pipeline wires the decision components together.
type Pipeline struct {
	store    Store
	history  History
	rules    RuleEvaluator
	scorer   Scorer
	profiles Profiles
	alerts   Alerts
	bus      domain.EventBus
	observer Observer
	cfg      domain.EngineConfig
	weights  detect.DeviationWeights
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBus publishes decisions and new alerts.
func WithBus(b domain.EventBus) Option {
	return func(p *Pipeline) { p.bus = b }
}

// WithObserver records evaluation metrics.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithDeviationWeights overrides the behaviour deviation weights.
func WithDeviationWeights(w detect.DeviationWeights) Option {
	return func(p *Pipeline) { p.weights = w }
}

// WithClock sets the clock used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline.
func New(store Store, history History, rules RuleEvaluator, scorer Scorer, profiles Profiles, alerts Alerts, cfg domain.EngineConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		history:  history,
		rules:    rules,
		scorer:   scorer,
		profiles: profiles,
		alerts:   alerts,
		cfg:      cfg,
		weights:  detect.DefaultDeviationWeights(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate scores ev. History reads happen before the event is stored so
// the event never counts as its own predecessor. Only validation and
// persistence failures are returned; alert, profile and publish failures
// are logged.
func (p *Pipeline) Evaluate(ctx context.Context, ev *domain.Event) (*Outcome, error) {
	start := time.Now()

	if err := p.prepare(ev); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "pipeline.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("transaction.id", ev.TransactionID),
		attribute.String("customer.id", ev.CustomerID),
	)

	history, err := p.history.History(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history")
		return nil, err
	}
	counts, err := p.history.EntityCounts(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "entity counts")
		return nil, fmt.Errorf("count entity events: %w", err)
	}
	prev, err := p.store.LastLocatedEvent(ctx, ev.CustomerID, ev.Timestamp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "last location")
		return nil, fmt.Errorf("load last location: %w", err)
	}
	pattern, err := p.profiles.Bootstrap(ctx, ev.CustomerID)
	if err != nil {
		// Scoring continues as a first observation.
		slog.Warn("pattern unavailable", "customer_id", ev.CustomerID, "error", err)
		pattern = nil
	}

	vel := detect.Velocity(ev.Timestamp, history, detect.VelocityConfig{
		Window:    p.history.Window(),
		MaxCount:  p.cfg.VelocityMaxCount,
		MaxAmount: p.cfg.VelocityMaxAmount,
		EntityKey: detect.EntityCustomer,
		EntityID:  ev.CustomerID,
	})
	geo := detect.GeoAnomaly(prev, ev, p.cfg.MaxTravelSpeedKmh)
	dev := detect.Deviation(ev, pattern, p.weights)
	amt := detect.HighAmount(ev, p.cfg.HighAmountThreshold)

	signals := make([]domain.Signal, 0, 6)
	signals = append(signals, vel.Signal(p.cfg.VelocityWeight), geo.Signal(p.cfg.GeoWeight))
	signals = append(signals, dev.Signals()...)
	signals = append(signals, amt.Signal(p.cfg.HighAmountWeight))

	velocity.Enrich(ev, vel, counts)
	results := p.rules.EvaluateEvent(ctx, ev)
	decision := p.scorer.Score(ev, results, signals)

	if err := p.store.SaveEvent(ctx, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save event")
		return nil, fmt.Errorf("save event: %w", err)
	}

	out := &Outcome{Decision: decision}
	if decision.ShouldAlert {
		a, err := p.alerts.Create(ctx, alert.FromDecision(ev, decision))
		switch {
		case err == nil:
			out.Alert = a
		case errors.Is(err, domain.ErrDuplicateAlert) && a != nil:
			out.Alert = a
			out.Duplicate = true
		default:
			slog.Error("failed to create alert",
				"event_id", ev.ID,
				"transaction_id", ev.TransactionID,
				"error", err,
			)
		}
		if out.Alert != nil {
			decision.AlertID = out.Alert.ID
		}
	}

	if err := p.store.SaveDecision(ctx, decision); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save decision")
		return nil, fmt.Errorf("save decision: %w", err)
	}

	if _, err := p.profiles.Record(ctx, ev, dev.Anomalies()); err != nil {
		slog.Warn("failed to record behaviour", "customer_id", ev.CustomerID, "error", err)
	}

	p.publish(ctx, domain.TopicDecision, decision)
	if out.Alert != nil && !out.Duplicate {
		p.publish(ctx, domain.TopicAlertCreated, out.Alert)
	}

	span.SetAttributes(
		attribute.Float64("decision.score", decision.FraudScore),
		attribute.String("decision.severity", string(decision.Severity)),
		attribute.String("decision.action", string(decision.RecommendedAction)),
	)

	took := time.Since(start)
	if p.observer != nil {
		p.observer.ObserveDecision(decision, took)
	}

	slog.Info("event evaluated",
		"event_id", ev.ID,
		"transaction_id", ev.TransactionID,
		"customer_id", ev.CustomerID,
		"score", decision.FraudScore,
		"severity", decision.Severity,
		"action", decision.RecommendedAction,
		"alert_id", decision.AlertID,
		"duration_ms", took.Milliseconds(),
	)
	return out, nil
}

// prepare validates ev and fills in its id and timestamp.
func (p *Pipeline) prepare(ev *domain.Event) error {
	if ev == nil {
		return domain.Invalid("event", "required")
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now().UTC()
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, topic string, v any) {
	if p.bus == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode message", "topic", topic, "error", err)
		return
	}
	if err := p.bus.Publish(ctx, topic, data); err != nil {
		slog.Error("failed to publish", "topic", topic, "error", err)
	}
}
