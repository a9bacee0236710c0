// Package alert manages the analyst workflow of fraud alerts.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/numbering"
)

// NotificationType is the notification emitted when an alert is raised.
const NotificationType = "fraud_alert.created"

// numberAttempts bounds how often Create draws a fresh alert number after
// the store reports the previous one as taken.
const numberAttempts = 3

// Observer receives alert lifecycle counts.
type Observer interface {
	ObserveAlertCreated(severity domain.Severity)
}

// CreateInput is the data needed to raise an alert.
type CreateInput struct {
	CustomerID     string
	TransactionID  string
	EventID        string
	FraudType      domain.FraudType
	Severity       domain.Severity
	FraudScore     float64
	Amount         float64
	Indicators     []string
	MatchedRuleIDs []string
}

// FromDecision builds the alert input for a scored event.
func FromDecision(ev *domain.Event, d *domain.Decision) CreateInput {
	return CreateInput{
		CustomerID:     ev.CustomerID,
		TransactionID:  ev.TransactionID,
		EventID:        ev.ID,
		FraudType:      d.FraudType,
		Severity:       d.Severity,
		FraudScore:     d.FraudScore,
		Amount:         ev.Amount,
		Indicators:     d.Indicators(),
		MatchedRuleIDs: append([]string(nil), d.MatchedRuleIDs...),
	}
}

// Manager creates alerts and drives their status transitions.
type Manager struct {
	store     domain.AlertStore
	numbers   *numbering.Allocator
	notifier  domain.Notifier
	observer  Observer
	recipient string
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the notifier used on alert creation.
func WithNotifier(n domain.Notifier, recipient string) Option {
	return func(m *Manager) {
		m.notifier = n
		m.recipient = recipient
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithClock overrides the manager clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
		m.numbers.SetClock(now)
	}
}

// NewManager creates an alert manager. Alert numbers come from cache
// counters kept for counterTTL; a nil cache uses a process-local sequence.
func NewManager(store domain.AlertStore, cache domain.Cache, counterTTL time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		numbers:   numbering.New("FA", cache, counterTTL),
		recipient: "fraud-team",
		now:       time.Now,
	}
	m.numbers.SetFloor(store.MaxAlertNumber)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create raises a new alert. If an active alert already exists for the
// customer and transaction it is returned together with ErrDuplicateAlert.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*domain.FraudAlert, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	existing, err := m.store.FindActiveAlert(ctx, in.CustomerID, in.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("find active alert: %w", err)
	}
	if existing != nil {
		return existing, fmt.Errorf("alert %s: %w", existing.ID, domain.ErrDuplicateAlert)
	}

	now := m.now().UTC()
	a := &domain.FraudAlert{
		ID:             uuid.New().String(),
		CustomerID:     in.CustomerID,
		TransactionID:  in.TransactionID,
		EventID:        in.EventID,
		FraudType:      in.FraudType,
		Severity:       in.Severity,
		Status:         domain.AlertNew,
		FraudScore:     in.FraudScore,
		Amount:         in.Amount,
		Indicators:     nonNil(in.Indicators),
		MatchedRuleIDs: nonNil(in.MatchedRuleIDs),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if a.FraudType == "" {
		a.FraudType = domain.FraudUnknown
	}

	if err := m.insert(ctx, a); err != nil {
		if errors.Is(err, domain.ErrDuplicateAlert) {
			// Lost the race to a concurrent create.
			if winner, ferr := m.store.FindActiveAlert(ctx, in.CustomerID, in.TransactionID); ferr == nil && winner != nil {
				return winner, err
			}
		}
		return nil, fmt.Errorf("create alert: %w", err)
	}

	slog.Info("fraud alert created",
		"alert_id", a.ID,
		"alert_number", a.AlertNumber,
		"customer_id", a.CustomerID,
		"severity", a.Severity,
		"score", a.FraudScore,
	)
	if m.observer != nil {
		m.observer.ObserveAlertCreated(a.Severity)
	}
	m.notify(ctx, a)
	return a, nil
}

// insert numbers and stores a. A number already taken, e.g. after a
// restart lost the cache counter, is redrawn above the stored maximum.
func (m *Manager) insert(ctx context.Context, a *domain.FraudAlert) error {
	for attempt := 1; ; attempt++ {
		number, err := m.numbers.Next(ctx)
		if err != nil {
			return err
		}
		a.AlertNumber = number

		err = m.store.CreateAlert(ctx, a)
		if !errors.Is(err, domain.ErrDuplicateNumber) || attempt == numberAttempts {
			return err
		}
		slog.Warn("alert number taken, resyncing sequence", "alert_number", number, "attempt", attempt)
		m.numbers.Resync()
	}
}

// Get returns an alert by id.
func (m *Manager) Get(ctx context.Context, id string) (*domain.FraudAlert, error) {
	return m.store.GetAlert(ctx, id)
}

// List returns alerts matching filter.
func (m *Manager) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.FraudAlert, error) {
	return m.store.ListAlerts(ctx, filter)
}

// Assign moves a new or escalated alert to an analyst.
func (m *Manager) Assign(ctx context.Context, id, assignee string) (*domain.FraudAlert, error) {
	if assignee == "" {
		return nil, domain.Invalid("assignee", "required")
	}
	return m.transition(ctx, id, domain.AlertAssigned,
		func(from domain.AlertStatus) bool { return from == domain.AlertNew || from == domain.AlertEscalated },
		func(a *domain.FraudAlert) { a.AssignedTo = assignee },
	)
}

// StartInvestigation moves an assigned alert to investigating.
func (m *Manager) StartInvestigation(ctx context.Context, id string) (*domain.FraudAlert, error) {
	return m.transition(ctx, id, domain.AlertInvestigating,
		func(from domain.AlertStatus) bool { return from == domain.AlertAssigned },
		nil,
	)
}

// Escalate hands the alert to target. Severity is unchanged.
func (m *Manager) Escalate(ctx context.Context, id, target, reason string) (*domain.FraudAlert, error) {
	if target == "" {
		return nil, domain.Invalid("target", "required")
	}
	return m.transition(ctx, id, domain.AlertEscalated, nonTerminal,
		func(a *domain.FraudAlert) {
			a.EscalatedTo = target
			a.EscalationReason = reason
		},
	)
}

// Confirm marks the alert as confirmed fraud.
func (m *Manager) Confirm(ctx context.Context, id, resolution string) (*domain.FraudAlert, error) {
	return m.transition(ctx, id, domain.AlertConfirmedFraud,
		func(from domain.AlertStatus) bool { return from == domain.AlertInvestigating || from == domain.AlertEscalated },
		m.resolve(resolution),
	)
}

// Dismiss marks the alert as a false positive.
func (m *Manager) Dismiss(ctx context.Context, id, resolution string) (*domain.FraudAlert, error) {
	return m.transition(ctx, id, domain.AlertFalsePositive, nonTerminal, m.resolve(resolution))
}

// Close closes a dispositioned or still open alert.
func (m *Manager) Close(ctx context.Context, id, resolution string) (*domain.FraudAlert, error) {
	return m.transition(ctx, id, domain.AlertClosed,
		func(from domain.AlertStatus) bool { return from != domain.AlertClosed },
		func(a *domain.FraudAlert) {
			if resolution != "" {
				a.Resolution = resolution
			}
			if a.ResolvedAt == nil {
				t := m.now().UTC()
				a.ResolvedAt = &t
			}
		},
	)
}

// LinkCase records the case an alert belongs to. An alert belongs to at
// most one case; linking it to a second one fails validation.
func (m *Manager) LinkCase(ctx context.Context, alertID, caseID string) (*domain.FraudAlert, error) {
	a, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.CaseID == caseID {
		return a, nil
	}
	if a.CaseID != "" {
		return nil, domain.Invalid("caseId", fmt.Sprintf("alert %s already belongs to case %s", alertID, a.CaseID))
	}
	a.CaseID = caseID
	a.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateAlert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// UnlinkCase detaches the alert from caseID. It does nothing when the alert
// belongs to another case or to none.
func (m *Manager) UnlinkCase(ctx context.Context, alertID, caseID string) error {
	a, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if a.CaseID != caseID {
		return nil
	}
	a.CaseID = ""
	a.UpdatedAt = m.now().UTC()
	return m.store.UpdateAlert(ctx, a)
}

func (m *Manager) transition(ctx context.Context, id string, to domain.AlertStatus, allowed func(domain.AlertStatus) bool, mutate func(*domain.FraudAlert)) (*domain.FraudAlert, error) {
	a, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowed(a.Status) {
		return nil, &domain.TransitionError{Entity: "alert", ID: id, From: string(a.Status), To: string(to)}
	}

	from := a.Status
	a.Status = to
	a.UpdatedAt = m.now().UTC()
	if mutate != nil {
		mutate(a)
	}
	if err := m.store.UpdateAlert(ctx, a); err != nil {
		return nil, err
	}

	slog.Info("fraud alert transitioned", "alert_id", id, "from", from, "to", to)
	return a, nil
}

func (m *Manager) resolve(resolution string) func(*domain.FraudAlert) {
	return func(a *domain.FraudAlert) {
		a.Resolution = resolution
		t := m.now().UTC()
		a.ResolvedAt = &t
	}
}

func (m *Manager) notify(ctx context.Context, a *domain.FraudAlert) {
	if m.notifier == nil {
		return
	}
	req := domain.NotificationRequest{
		ID:        uuid.New().String(),
		Type:      NotificationType,
		Recipient: m.recipient,
		Payload: map[string]any{
			"alertId":       a.ID,
			"alertNumber":   a.AlertNumber,
			"customerId":    a.CustomerID,
			"transactionId": a.TransactionID,
			"severity":      string(a.Severity),
			"fraudType":     string(a.FraudType),
			"fraudScore":    a.FraudScore,
		},
		CreatedAt: m.now().UTC(),
	}
	if err := m.notifier.Notify(ctx, req); err != nil {
		slog.Warn("alert notification failed", "alert_id", a.ID, "error", err)
	}
}

func nonTerminal(from domain.AlertStatus) bool { return !from.Terminal() }

func validate(in CreateInput) error {
	switch {
	case in.CustomerID == "":
		return domain.Invalid("customerId", "required")
	case in.TransactionID == "":
		return domain.Invalid("transactionId", "required")
	case !in.Severity.Valid():
		return domain.Invalid("severity", fmt.Sprintf("unknown severity %q", in.Severity))
	case in.FraudScore < 0 || in.FraudScore > 100:
		return domain.Invalid("fraudScore", "must be within [0,100]")
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}
