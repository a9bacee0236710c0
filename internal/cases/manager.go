// Package cases groups alerts into fraud cases and tracks their recovery.
package cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/keylock"
	"github.com/opensource-finance/harrier/internal/numbering"
)

// numberAttempts bounds how often CreateCase redraws a taken case number.
const numberAttempts = 3

// Alerts is the slice of the alert manager a case needs.
type Alerts interface {
	Get(ctx context.Context, id string) (*domain.FraudAlert, error)
	LinkCase(ctx context.Context, alertID, caseID string) (*domain.FraudAlert, error)
	UnlinkCase(ctx context.Context, alertID, caseID string) error
}

// Investigations winds down the investigations of a finished case.
type Investigations interface {
	CancelForCase(ctx context.Context, caseID string) (int, error)
}

// Publisher publishes case lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// CreateOptions seeds optional case fields.
type CreateOptions struct {
	Title      string
	AssignedTo string

	// TotalFraudAmount overrides the sum of the alert amounts.
	TotalFraudAmount *decimal.Decimal

	// DueIn overrides the configured due period.
	DueIn time.Duration
}

// CloseInput is the final determination of a case.
type CloseInput struct {
	Outcome       domain.Outcome
	ActualLoss    decimal.Decimal
	PreventedLoss decimal.Decimal
}

// transitions lists the statuses reachable through Transition.
// Escalation and cancellation are handled separately.
var transitions = map[domain.CaseStatus][]domain.CaseStatus{
	domain.CaseOpen:          {domain.CaseInProgress},
	domain.CaseInProgress:    {domain.CasePendingReview},
	domain.CasePendingReview: {domain.CaseInProgress, domain.CaseConfirmedFraud, domain.CaseNotFraud},
	domain.CaseEscalated:     {domain.CaseInProgress, domain.CasePendingReview, domain.CaseConfirmedFraud, domain.CaseNotFraud},
}

// Manager owns fraud case mutation. Changes to one case are serialized.
type Manager struct {
	store     domain.CaseStore
	alerts    Alerts
	invs      Investigations
	numbers   *numbering.Allocator
	publisher Publisher
	locks     *keylock.Locker
	dueIn     time.Duration
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher publishes a message when a case is closed.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithInvestigations cancels a case's open investigations when the case is
// closed or cancelled.
func WithInvestigations(i Investigations) Option {
	return func(m *Manager) { m.invs = i }
}

// WithClock overrides the manager clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
		m.numbers.SetClock(now)
	}
}

// NewManager creates a case manager.
func NewManager(store domain.CaseStore, alerts Alerts, cache domain.Cache, cfg domain.WorkflowConfig, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		alerts:  alerts,
		numbers: numbering.New("FC", cache, cfg.NumberCounterTTL),
		locks:   keylock.New(),
		dueIn:   cfg.CaseDueIn,
		now:     time.Now,
	}
	if m.dueIn <= 0 {
		m.dueIn = 14 * 24 * time.Hour
	}
	m.numbers.SetFloor(store.MaxCaseNumber)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateCase opens a case over alerts that all belong to customerID and to
// no other case.
func (m *Manager) CreateCase(ctx context.Context, customerID string, alertIDs []string, opts CreateOptions) (*domain.FraudCase, error) {
	if customerID == "" {
		return nil, domain.Invalid("customerId", "required")
	}
	if len(alertIDs) == 0 {
		return nil, domain.Invalid("alertIds", "at least one alert is required")
	}

	priority := domain.SeverityLow
	total := decimal.Zero
	var ids, txIDs []string
	for _, id := range alertIDs {
		if contains(ids, id) {
			continue
		}
		a, err := m.alerts.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if a.CustomerID != customerID {
			return nil, domain.Invalid("alertIds", fmt.Sprintf("alert %s belongs to another customer", id))
		}
		if a.CaseID != "" {
			return nil, domain.Invalid("alertIds", fmt.Sprintf("alert %s already belongs to case %s", id, a.CaseID))
		}
		if a.Severity.Rank() > priority.Rank() {
			priority = a.Severity
		}
		total = total.Add(decimal.NewFromFloat(a.Amount))
		ids = append(ids, id)
		if a.TransactionID != "" && !contains(txIDs, a.TransactionID) {
			txIDs = append(txIDs, a.TransactionID)
		}
	}
	if opts.TotalFraudAmount != nil {
		if opts.TotalFraudAmount.IsNegative() {
			return nil, domain.Invalid("totalFraudAmount", "must not be negative")
		}
		total = *opts.TotalFraudAmount
	}

	dueIn := m.dueIn
	if opts.DueIn > 0 {
		dueIn = opts.DueIn
	}
	now := m.now().UTC()
	c := &domain.FraudCase{
		ID:               uuid.New().String(),
		CustomerID:       customerID,
		Title:            opts.Title,
		Status:           domain.CaseOpen,
		Priority:         priority,
		AlertIDs:         ids,
		TransactionIDs:   nonNil(txIDs),
		AssignedTo:       opts.AssignedTo,
		TotalFraudAmount: total,
		RecoveredAmount:  decimal.Zero,
		RecoveryStatus:   domain.RecoveryNone,
		RecoveryRate:     decimal.Zero,
		ActualLoss:       decimal.Zero,
		PreventedLoss:    decimal.Zero,
		DueDate:          now.Add(dueIn),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// Claim the alerts first; a concurrent case claiming one of them makes
	// this create fail instead of sharing the alert.
	var claimed []string
	for _, id := range ids {
		if _, err := m.alerts.LinkCase(ctx, id, c.ID); err != nil {
			m.release(ctx, c.ID, claimed)
			return nil, fmt.Errorf("link alert %s: %w", id, err)
		}
		claimed = append(claimed, id)
	}
	if err := m.insert(ctx, c); err != nil {
		m.release(ctx, c.ID, claimed)
		return nil, fmt.Errorf("create case: %w", err)
	}

	slog.Info("fraud case created", "case_id", c.ID, "case_number", c.CaseNumber, "customer_id", customerID, "priority", priority)
	return c, nil
}

// insert numbers and stores c, redrawing a number the store already holds.
func (m *Manager) insert(ctx context.Context, c *domain.FraudCase) error {
	for attempt := 1; ; attempt++ {
		number, err := m.numbers.Next(ctx)
		if err != nil {
			return err
		}
		c.CaseNumber = number

		err = m.store.CreateCase(ctx, c)
		if !errors.Is(err, domain.ErrDuplicateNumber) || attempt == numberAttempts {
			return err
		}
		slog.Warn("case number taken, resyncing sequence", "case_number", number, "attempt", attempt)
		m.numbers.Resync()
	}
}

// release detaches alerts claimed for a case that did not come to be.
func (m *Manager) release(ctx context.Context, caseID string, alertIDs []string) {
	for _, id := range alertIDs {
		if err := m.alerts.UnlinkCase(ctx, id, caseID); err != nil {
			slog.Warn("failed to release alert", "case_id", caseID, "alert_id", id, "error", err)
		}
	}
}

// Get returns a case by id.
func (m *Manager) Get(ctx context.Context, id string) (*domain.FraudCase, error) {
	return m.store.GetCase(ctx, id)
}

// List returns cases matching filter.
func (m *Manager) List(ctx context.Context, filter domain.CaseFilter) ([]*domain.FraudCase, error) {
	return m.store.ListCases(ctx, filter)
}

// LinkAlert adds an alert to the case. Linking twice is a no-op; an alert
// already in another case is rejected.
func (m *Manager) LinkAlert(ctx context.Context, caseID, alertID string) (*domain.FraudCase, error) {
	claimed := false
	c, err := m.mutate(ctx, caseID, func(c *domain.FraudCase) (bool, error) {
		if c.HasAlert(alertID) {
			return false, nil
		}
		if c.Status.Terminal() {
			return false, &domain.TransitionError{Entity: "case", ID: caseID, From: string(c.Status), To: "link_alert"}
		}
		a, err := m.alerts.Get(ctx, alertID)
		if err != nil {
			return false, err
		}
		if a.CustomerID != c.CustomerID {
			return false, domain.Invalid("alertId", "alert belongs to another customer")
		}
		if a.CaseID != "" && a.CaseID != caseID {
			return false, domain.Invalid("alertId", fmt.Sprintf("alert already belongs to case %s", a.CaseID))
		}
		if a.CaseID == "" {
			if _, err := m.alerts.LinkCase(ctx, alertID, caseID); err != nil {
				return false, fmt.Errorf("link alert %s: %w", alertID, err)
			}
			claimed = true
		}
		c.AlertIDs = append(c.AlertIDs, alertID)
		if a.TransactionID != "" && !contains(c.TransactionIDs, a.TransactionID) {
			c.TransactionIDs = append(c.TransactionIDs, a.TransactionID)
		}
		if a.Severity.Rank() > c.Priority.Rank() {
			c.Priority = a.Severity
		}
		return true, nil
	})
	if err != nil && claimed {
		m.release(ctx, caseID, []string{alertID})
	}
	return c, err
}

// Transition moves the case to status. Closing goes through CloseCase.
func (m *Manager) Transition(ctx context.Context, caseID string, to domain.CaseStatus) (*domain.FraudCase, error) {
	if !to.Valid() {
		return nil, domain.Invalid("status", fmt.Sprintf("unknown case status %q", to))
	}
	c, err := m.mutate(ctx, caseID, func(c *domain.FraudCase) (bool, error) {
		if !canTransition(c.Status, to) {
			return false, &domain.TransitionError{Entity: "case", ID: caseID, From: string(c.Status), To: string(to)}
		}
		c.Status = to
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if to == domain.CaseCancelled {
		m.cancelInvestigations(ctx, caseID)
	}
	return c, nil
}

// RecordRecovery adds a recovered amount to the case.
func (m *Manager) RecordRecovery(ctx context.Context, caseID string, amount decimal.Decimal) (*domain.FraudCase, error) {
	if !amount.IsPositive() {
		return nil, domain.Invalid("amount", "must be positive")
	}
	return m.mutate(ctx, caseID, func(c *domain.FraudCase) (bool, error) {
		if c.Status.Terminal() {
			return false, &domain.TransitionError{Entity: "case", ID: caseID, From: string(c.Status), To: "recovery"}
		}
		recovered := c.RecoveredAmount.Add(amount)
		if recovered.GreaterThan(c.TotalFraudAmount) {
			return false, domain.Invalid("amount", fmt.Sprintf("recovered %s would exceed fraud amount %s", recovered, c.TotalFraudAmount))
		}
		c.RecoveredAmount = recovered
		applyRecovery(c)
		return true, nil
	})
}

// CloseCase records the outcome and closes the case.
func (m *Manager) CloseCase(ctx context.Context, caseID string, in CloseInput) (*domain.FraudCase, error) {
	if !in.Outcome.Valid() {
		return nil, domain.Invalid("outcome", fmt.Sprintf("unknown outcome %q", in.Outcome))
	}
	if in.ActualLoss.IsNegative() || in.PreventedLoss.IsNegative() {
		return nil, domain.Invalid("loss", "must not be negative")
	}

	c, err := m.mutate(ctx, caseID, func(c *domain.FraudCase) (bool, error) {
		if c.Status.Terminal() {
			return false, &domain.TransitionError{Entity: "case", ID: caseID, From: string(c.Status), To: string(domain.CaseClosed)}
		}
		if c.RecoveredAmount.GreaterThan(c.TotalFraudAmount) {
			return false, domain.Invalid("recoveredAmount", "exceeds total fraud amount")
		}
		applyRecovery(c)
		c.Outcome = in.Outcome
		c.ActualLoss = in.ActualLoss
		c.PreventedLoss = in.PreventedLoss
		c.Status = domain.CaseClosed
		t := m.now().UTC()
		c.ClosedAt = &t
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("fraud case closed", "case_id", c.ID, "outcome", c.Outcome, "recovery_rate", c.RecoveryRate.String())
	m.cancelInvestigations(ctx, c.ID)
	m.publishClosed(ctx, c)
	return c, nil
}

// mutate loads, changes and CAS-writes a case under its key lock.
// fn reports whether anything changed.
func (m *Manager) mutate(ctx context.Context, caseID string, fn func(*domain.FraudCase) (bool, error)) (*domain.FraudCase, error) {
	unlock := m.locks.Lock(caseID)
	defer unlock()

	c, err := m.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	changed, err := fn(c)
	if err != nil {
		return nil, err
	}
	if !changed {
		return c, nil
	}
	c.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateCase(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (m *Manager) cancelInvestigations(ctx context.Context, caseID string) {
	if m.invs == nil {
		return
	}
	if _, err := m.invs.CancelForCase(ctx, caseID); err != nil {
		slog.Warn("failed to cancel investigations of finished case", "case_id", caseID, "error", err)
	}
}

func (m *Manager) publishClosed(ctx context.Context, c *domain.FraudCase) {
	if m.publisher == nil {
		return
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := m.publisher.Publish(ctx, domain.TopicCaseClosed, payload); err != nil {
		slog.Warn("failed to publish case closed", "case_id", c.ID, "error", err)
	}
}

func canTransition(from, to domain.CaseStatus) bool {
	if from.Terminal() || to == domain.CaseClosed || from == to {
		return false
	}
	if to == domain.CaseEscalated || to == domain.CaseCancelled {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// applyRecovery derives the recovery rate and status from the amounts.
func applyRecovery(c *domain.FraudCase) {
	if c.TotalFraudAmount.IsPositive() {
		c.RecoveryRate = c.RecoveredAmount.DivRound(c.TotalFraudAmount, 4)
	} else {
		c.RecoveryRate = decimal.Zero
	}
	switch {
	case !c.RecoveredAmount.IsPositive():
		c.RecoveryStatus = domain.RecoveryNone
	case c.RecoveredAmount.GreaterThanOrEqual(c.TotalFraudAmount):
		c.RecoveryStatus = domain.RecoveryFull
	default:
		c.RecoveryStatus = domain.RecoveryPartial
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
