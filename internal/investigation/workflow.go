// Package investigation drives fraud cases through a stepwise workflow to a
// liability and refund decision.
package investigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/keylock"
)

// OutcomeSink receives investigation outcomes, typically the behaviour
// profile store.
type OutcomeSink interface {
	ApplyOutcome(ctx context.Context, customerID string, outcome domain.Outcome) error
}

// OpenInput describes a new investigation.
type OpenInput struct {
	CaseID         string
	Type           domain.InvestigationType
	Steps          []domain.InvestigationStep
	DisputedAmount decimal.Decimal
	AssignedTo     string
}

// DefaultSteps returns the standard four-step plan.
func DefaultSteps() []domain.InvestigationStep {
	return []domain.InvestigationStep{
		{Name: "Review evidence", Type: domain.StepReview, Required: true},
		{Name: "Contact customer", Type: domain.StepContact, Required: true},
		{Name: "Verify transactions", Type: domain.StepVerify, Required: true},
		{Name: "Decide outcome", Type: domain.StepDecision, Required: true},
	}
}

// Workflow owns investigation mutation. Changes to one investigation are
// serialized and written with compare-and-swap.
type Workflow struct {
	store    domain.InvestigationStore
	cases    domain.CaseStore
	refunds  domain.RefundSink
	outcomes OutcomeSink
	locks    *keylock.Locker
	sla      map[domain.InvestigationType]time.Duration
	now      func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithRefundSink sets where refund requests are sent.
func WithRefundSink(s domain.RefundSink) Option {
	return func(w *Workflow) { w.refunds = s }
}

// WithOutcomeSink feeds outcomes back into customer profiles.
func WithOutcomeSink(s OutcomeSink) Option {
	return func(w *Workflow) { w.outcomes = s }
}

// WithClock overrides the workflow clock.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow creates an investigation workflow.
func NewWorkflow(store domain.InvestigationStore, cases domain.CaseStore, cfg domain.WorkflowConfig, opts ...Option) *Workflow {
	w := &Workflow{
		store: store,
		cases: cases,
		locks: keylock.New(),
		sla: map[domain.InvestigationType]time.Duration{
			domain.InvestigationStandard:  orDefault(cfg.StandardSLA, 48*time.Hour),
			domain.InvestigationExpedited: orDefault(cfg.ExpeditedSLA, 24*time.Hour),
			domain.InvestigationComplex:   orDefault(cfg.ComplexSLA, 120*time.Hour),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Open starts an investigation for a case. A case has at most one
// investigation that is not cancelled.
func (w *Workflow) Open(ctx context.Context, in OpenInput) (*domain.FraudInvestigation, error) {
	if in.CaseID == "" {
		return nil, domain.Invalid("caseId", "required")
	}
	if in.Type == "" {
		in.Type = domain.InvestigationStandard
	}
	if !in.Type.Valid() {
		return nil, domain.Invalid("type", fmt.Sprintf("unknown investigation type %q", in.Type))
	}
	if in.DisputedAmount.IsNegative() {
		return nil, domain.Invalid("disputedAmount", "must not be negative")
	}
	steps := in.Steps
	if len(steps) == 0 {
		steps = DefaultSteps()
	}
	for i, s := range steps {
		if s.Name == "" {
			return nil, domain.Invalid("steps["+strconv.Itoa(i)+"].name", "required")
		}
	}

	unlock := w.locks.Lock("case:" + in.CaseID)
	defer unlock()

	c, err := w.cases.GetCase(ctx, in.CaseID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, domain.Invalid("caseId", "case is "+string(c.Status))
	}
	existing, err := w.store.ListInvestigationsByCase(ctx, in.CaseID)
	if err != nil {
		return nil, fmt.Errorf("list investigations: %w", err)
	}
	for _, inv := range existing {
		if inv.Status != domain.InvestigationCancelled {
			return nil, domain.Invalid("caseId", "case already has investigation "+inv.ID)
		}
	}

	now := w.now().UTC()
	inv := &domain.FraudInvestigation{
		ID:             uuid.New().String(),
		CaseID:         in.CaseID,
		CustomerID:     c.CustomerID,
		Type:           in.Type,
		Status:         domain.InvestigationPending,
		Steps:          make([]domain.InvestigationStep, len(steps)),
		SLADeadline:    now.Add(w.sla[in.Type]),
		AssignedTo:     in.AssignedTo,
		Contacts:       []domain.CustomerContact{},
		Disputes:       []domain.DisputeRecord{},
		DisputedAmount: in.DisputedAmount,
		RefundAmount:   decimal.Zero,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, s := range steps {
		inv.Steps[i] = domain.InvestigationStep{
			Order:    i,
			Name:     s.Name,
			Type:     s.Type,
			Required: s.Required,
			Status:   domain.StepPending,
		}
	}
	if err := w.store.CreateInvestigation(ctx, inv); err != nil {
		return nil, fmt.Errorf("create investigation: %w", err)
	}

	slog.Info("investigation opened", "investigation_id", inv.ID, "case_id", in.CaseID, "type", in.Type, "sla_deadline", inv.SLADeadline)
	return inv, nil
}

// Get returns an investigation by id.
func (w *Workflow) Get(ctx context.Context, id string) (*domain.FraudInvestigation, error) {
	return w.store.GetInvestigation(ctx, id)
}

// ListByCase returns the case's investigations.
func (w *Workflow) ListByCase(ctx context.Context, caseID string) ([]*domain.FraudInvestigation, error) {
	return w.store.ListInvestigationsByCase(ctx, caseID)
}

// List returns investigations matching filter, newest first.
func (w *Workflow) List(ctx context.Context, filter domain.InvestigationFilter) ([]*domain.FraudInvestigation, error) {
	return w.store.ListInvestigations(ctx, filter)
}

// ListOverdue returns open investigations past their SLA deadline.
func (w *Workflow) ListOverdue(ctx context.Context) ([]*domain.FraudInvestigation, error) {
	open, err := w.store.ListOpenInvestigations(ctx)
	if err != nil {
		return nil, err
	}
	now := w.now()
	var out []*domain.FraudInvestigation
	for _, inv := range open {
		if inv.IsOverdue(now) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// Start moves a pending or escalated investigation to in_progress.
func (w *Workflow) Start(ctx context.Context, id string) (*domain.FraudInvestigation, error) {
	return w.setStatus(ctx, id, domain.InvestigationInProgress, domain.InvestigationPending, domain.InvestigationEscalated)
}

// RequestInfo pauses the investigation waiting on the customer.
func (w *Workflow) RequestInfo(ctx context.Context, id string) (*domain.FraudInvestigation, error) {
	return w.setStatus(ctx, id, domain.InvestigationPendingInfo, domain.InvestigationInProgress)
}

// ResumeInfo resumes work once requested information arrived.
func (w *Workflow) ResumeInfo(ctx context.Context, id string) (*domain.FraudInvestigation, error) {
	return w.setStatus(ctx, id, domain.InvestigationInProgress, domain.InvestigationPendingInfo)
}

// Escalate hands the investigation to a senior reviewer.
func (w *Workflow) Escalate(ctx context.Context, id, reason string) (*domain.FraudInvestigation, error) {
	return w.mutate(ctx, id, func(inv *domain.FraudInvestigation) error {
		switch inv.Status {
		case domain.InvestigationPending, domain.InvestigationInProgress, domain.InvestigationPendingInfo:
		default:
			return transitionErr(inv, domain.InvestigationEscalated)
		}
		inv.Status = domain.InvestigationEscalated
		inv.EscalationReason = reason
		return nil
	})
}

// Cancel abandons a non-terminal investigation.
func (w *Workflow) Cancel(ctx context.Context, id string) (*domain.FraudInvestigation, error) {
	return w.mutate(ctx, id, func(inv *domain.FraudInvestigation) error {
		if inv.Status.Terminal() {
			return transitionErr(inv, domain.InvestigationCancelled)
		}
		inv.Status = domain.InvestigationCancelled
		return nil
	})
}

// CancelForCase cancels the open investigations of a case that was closed
// or cancelled and reports how many it cancelled. It shares Open's case
// lock, so no investigation can be opened for the case while it runs.
func (w *Workflow) CancelForCase(ctx context.Context, caseID string) (int, error) {
	unlock := w.locks.Lock("case:" + caseID)
	defer unlock()

	invs, err := w.store.ListInvestigationsByCase(ctx, caseID)
	if err != nil {
		return 0, fmt.Errorf("list investigations: %w", err)
	}
	n := 0
	for _, inv := range invs {
		if inv.Status.Terminal() {
			continue
		}
		if _, err := w.Cancel(ctx, inv.ID); err != nil {
			// Finished concurrently.
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return n, fmt.Errorf("cancel investigation %s: %w", inv.ID, err)
		}
		n++
	}
	if n > 0 {
		slog.Info("investigations cancelled with their case", "case_id", caseID, "count", n)
	}
	return n, nil
}

// CompleteStep completes the step at the pointer. A pending investigation
// starts implicitly.
func (w *Workflow) CompleteStep(ctx context.Context, id string, index int, result, notes string) (*domain.FraudInvestigation, error) {
	return w.mutate(ctx, id, func(inv *domain.FraudInvestigation) error {
		if err := w.checkStep(inv, index); err != nil {
			return err
		}
		t := w.now().UTC()
		step := &inv.Steps[index]
		step.Status = domain.StepCompleted
		step.Result = result
		step.Notes = notes
		step.CompletedAt = &t
		inv.CurrentStep++
		return nil
	})
}

// SkipStep skips the optional step at the pointer.
func (w *Workflow) SkipStep(ctx context.Context, id string, index int, reason string) (*domain.FraudInvestigation, error) {
	return w.mutate(ctx, id, func(inv *domain.FraudInvestigation) error {
		if err := w.checkStep(inv, index); err != nil {
			return err
		}
		step := &inv.Steps[index]
		if step.Required {
			return domain.Invalid("index", fmt.Sprintf("step %d is required", index))
		}
		step.Status = domain.StepSkipped
		step.Notes = reason
		inv.CurrentStep++
		return nil
	})
}

// checkStep validates that index may be acted on now, auto-starting a
// pending investigation.
func (w *Workflow) checkStep(inv *domain.FraudInvestigation, index int) error {
	switch inv.Status {
	case domain.InvestigationPending:
		inv.Status = domain.InvestigationInProgress
	case domain.InvestigationInProgress:
	default:
		return transitionErr(inv, domain.InvestigationInProgress)
	}
	if index < 0 || index >= len(inv.Steps) {
		return domain.Invalid("index", fmt.Sprintf("step %d out of range", index))
	}
	if index != inv.CurrentStep {
		return &domain.TransitionError{
			Entity: "investigation",
			ID:     inv.ID,
			From:   strconv.Itoa(inv.CurrentStep),
			To:     strconv.Itoa(index),
			Step:   true,
		}
	}
	return nil
}

// RecordCustomerContact appends to the contact log.
func (w *Workflow) RecordCustomerContact(ctx context.Context, id string, contact domain.CustomerContact) (*domain.FraudInvestigation, error) {
	if contact.Channel == "" {
		return nil, domain.Invalid("channel", "required")
	}
	if contact.Direction != "inbound" && contact.Direction != "outbound" {
		return nil, domain.Invalid("direction", "must be inbound or outbound")
	}
	return w.mutate(ctx, id, func(inv *domain.FraudInvestigation) error {
		if inv.Status == domain.InvestigationCancelled {
			return transitionErr(inv, inv.Status)
		}
		if contact.At.IsZero() {
			contact.At = w.now().UTC()
		}
		inv.Contacts = append(inv.Contacts, contact)
		return nil
	})
}

// SetOutcome completes the investigation. Every required step must be done.
func (w *Workflow) SetOutcome(ctx context.Context, id string, outcome domain.Outcome, reason string) (*domain.FraudInvestigation, error) {
	if !outcome.Valid() {
		return nil, domain.Invalid("outcome", fmt.Sprintf("unknown outcome %q", outcome))
	}
	inv, err := w.mutate(ctx, id, func(inv *domain.FraudInvestigation) error {
		if inv.Status.Terminal() || !inv.RequiredStepsDone() {
			return transitionErr(inv, domain.InvestigationCompleted)
		}
		if err := w.liveCase(ctx, inv, string(domain.InvestigationCompleted)); err != nil {
			return err
		}
		t := w.now().UTC()
		inv.Outcome = outcome
		inv.OutcomeReason = reason
		inv.Status = domain.InvestigationCompleted
		inv.CompletedAt = &t
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("investigation completed", "investigation_id", id, "case_id", inv.CaseID, "outcome", outcome)
	if w.outcomes != nil && inv.CustomerID != "" {
		if err := w.outcomes.ApplyOutcome(ctx, inv.CustomerID, outcome); err != nil {
			slog.Warn("failed to apply outcome to profile", "investigation_id", id, "customer_id", inv.CustomerID, "error", err)
		}
	}
	return inv, nil
}

// ProcessRefund requests a refund of amount for a confirmed fraud outcome.
func (w *Workflow) ProcessRefund(ctx context.Context, id string, amount decimal.Decimal) (*domain.FraudInvestigation, error) {
	if !amount.IsPositive() {
		return nil, domain.Invalid("amount", "must be positive")
	}
	return w.mutate(ctx, id, func(inv *domain.FraudInvestigation) error {
		if inv.Outcome != domain.OutcomeFraudConfirmed {
			return &domain.TransitionError{Entity: "investigation", ID: inv.ID, From: string(inv.Status), To: "refund"}
		}
		if inv.RefundProcessed {
			return &domain.TransitionError{Entity: "investigation", ID: inv.ID, From: "refunded", To: "refund"}
		}
		if amount.GreaterThan(inv.DisputedAmount) {
			return domain.Invalid("amount", fmt.Sprintf("refund %s exceeds disputed amount %s", amount, inv.DisputedAmount))
		}
		if err := w.liveCase(ctx, inv, "refund"); err != nil {
			return err
		}

		if w.refunds != nil {
			req := domain.RefundRequest{
				ID:              "refund-" + inv.ID,
				InvestigationID: inv.ID,
				CaseID:          inv.CaseID,
				CustomerID:      inv.CustomerID,
				Amount:          amount,
				RequestedAt:     w.now().UTC(),
			}
			if err := w.refunds.RequestRefund(ctx, req); err != nil {
				return fmt.Errorf("request refund: %w", err)
			}
		}
		inv.RefundAmount = amount
		inv.RefundProcessed = true
		slog.Info("refund requested", "investigation_id", inv.ID, "case_id", inv.CaseID, "amount", amount.String())
		return nil
	})
}

func (w *Workflow) setStatus(ctx context.Context, id string, to domain.InvestigationStatus, from ...domain.InvestigationStatus) (*domain.FraudInvestigation, error) {
	return w.mutate(ctx, id, func(inv *domain.FraudInvestigation) error {
		for _, s := range from {
			if inv.Status == s {
				inv.Status = to
				return nil
			}
		}
		return transitionErr(inv, to)
	})
}

// mutate loads, changes and CAS-writes an investigation under its key lock.
// Nothing is written when fn fails.
func (w *Workflow) mutate(ctx context.Context, id string, fn func(*domain.FraudInvestigation) error) (*domain.FraudInvestigation, error) {
	unlock := w.locks.Lock(id)
	defer unlock()

	inv, err := w.store.GetInvestigation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(inv); err != nil {
		return nil, err
	}
	inv.UpdatedAt = w.now().UTC()
	if err := w.store.UpdateInvestigation(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// liveCase fails when the investigation's case is already closed or cancelled.
func (w *Workflow) liveCase(ctx context.Context, inv *domain.FraudInvestigation, to string) error {
	c, err := w.cases.GetCase(ctx, inv.CaseID)
	if err != nil {
		return fmt.Errorf("load case %s: %w", inv.CaseID, err)
	}
	if c.Status.Terminal() {
		return &domain.TransitionError{Entity: "investigation", ID: inv.ID, From: "case " + string(c.Status), To: to}
	}
	return nil
}

func transitionErr(inv *domain.FraudInvestigation, to domain.InvestigationStatus) error {
	return &domain.TransitionError{Entity: "investigation", ID: inv.ID, From: string(inv.Status), To: string(to)}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
