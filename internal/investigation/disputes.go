package investigation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

// OpenDispute records a disputed transaction on the investigation.
func (w *Workflow) OpenDispute(ctx context.Context, id, transactionID string, amount decimal.Decimal) (*domain.FraudInvestigation, *domain.DisputeRecord, error) {
	if transactionID == "" {
		return nil, nil, domain.Invalid("transactionId", "required")
	}
	if !amount.IsPositive() {
		return nil, nil, domain.Invalid("amount", "must be positive")
	}

	var opened domain.DisputeRecord
	inv, err := w.mutate(ctx, id, func(inv *domain.FraudInvestigation) error {
		if inv.Status == domain.InvestigationCancelled {
			return transitionErr(inv, inv.Status)
		}
		for _, d := range inv.Disputes {
			if d.TransactionID == transactionID && d.Status != domain.DisputeRejected {
				return domain.Invalid("transactionId", "transaction already disputed in "+d.ID)
			}
		}
		now := w.now().UTC()
		opened = domain.DisputeRecord{
			ID:                uuid.New().String(),
			TransactionID:     transactionID,
			Amount:            amount,
			Status:            domain.DisputeOpened,
			ProvisionalCredit: decimal.Zero,
			OpenedAt:          now,
			UpdatedAt:         now,
		}
		inv.Disputes = append(inv.Disputes, opened)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return inv, &opened, nil
}

// GrantProvisionalCredit credits the customer while the dispute is decided.
func (w *Workflow) GrantProvisionalCredit(ctx context.Context, id, disputeID string, amount decimal.Decimal) (*domain.FraudInvestigation, error) {
	if !amount.IsPositive() {
		return nil, domain.Invalid("amount", "must be positive")
	}
	return w.updateDispute(ctx, id, disputeID, func(d *domain.DisputeRecord) error {
		if d.Status != domain.DisputeOpened {
			return disputeErr(id, d, domain.DisputeProvisionalCredit)
		}
		if amount.GreaterThan(d.Amount) {
			return domain.Invalid("amount", fmt.Sprintf("credit %s exceeds disputed %s", amount, d.Amount))
		}
		d.Status = domain.DisputeProvisionalCredit
		d.ProvisionalCredit = amount
		return nil
	})
}

// DecideDispute accepts or rejects the dispute.
func (w *Workflow) DecideDispute(ctx context.Context, id, disputeID string, accepted bool) (*domain.FraudInvestigation, error) {
	to := domain.DisputeRejected
	if accepted {
		to = domain.DisputeAccepted
	}
	return w.updateDispute(ctx, id, disputeID, func(d *domain.DisputeRecord) error {
		if d.Status != domain.DisputeOpened && d.Status != domain.DisputeProvisionalCredit {
			return disputeErr(id, d, to)
		}
		t := w.now().UTC()
		d.Status = to
		d.DecidedAt = &t
		return nil
	})
}

// Chargeback records the network chargeback for an accepted dispute.
func (w *Workflow) Chargeback(ctx context.Context, id, disputeID, ref string) (*domain.FraudInvestigation, error) {
	if ref == "" {
		return nil, domain.Invalid("reference", "required")
	}
	return w.updateDispute(ctx, id, disputeID, func(d *domain.DisputeRecord) error {
		if d.Status != domain.DisputeAccepted {
			return disputeErr(id, d, domain.DisputeChargeback)
		}
		d.Status = domain.DisputeChargeback
		d.ChargebackRef = ref
		return nil
	})
}

func (w *Workflow) updateDispute(ctx context.Context, id, disputeID string, fn func(*domain.DisputeRecord) error) (*domain.FraudInvestigation, error) {
	return w.mutate(ctx, id, func(inv *domain.FraudInvestigation) error {
		for i := range inv.Disputes {
			if inv.Disputes[i].ID != disputeID {
				continue
			}
			if err := fn(&inv.Disputes[i]); err != nil {
				return err
			}
			inv.Disputes[i].UpdatedAt = w.now().UTC()
			return nil
		}
		return domain.NotFound("dispute", disputeID)
	})
}

func disputeErr(invID string, d *domain.DisputeRecord, to domain.DisputeStatus) error {
	return &domain.TransitionError{Entity: "dispute", ID: invID + "/" + d.ID, From: string(d.Status), To: string(to)}
}
