package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/investigation"
)

// OpenInvestigationRequest is the body of POST /investigations.
// Steps default to the standard plan when omitted.
type OpenInvestigationRequest struct {
	CaseID         string                     `json:"caseId"`
	Type           domain.InvestigationType   `json:"type,omitempty"`
	Steps          []domain.InvestigationStep `json:"steps,omitempty"`
	DisputedAmount decimal.Decimal            `json:"disputedAmount"`
	AssignedTo     string                     `json:"assignedTo,omitempty"`
}

// StepRequest is the body of the step completion and skip endpoints.
type StepRequest struct {
	Result string `json:"result,omitempty"`
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// OutcomeRequest is the body of POST /investigations/{id}/outcome.
type OutcomeRequest struct {
	Outcome domain.Outcome `json:"outcome"`
	Reason  string         `json:"reason,omitempty"`
}

// AmountRequest carries a monetary amount.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ReasonRequest carries a free-text reason.
type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

// DisputeRequest is the body of POST /investigations/{id}/disputes.
type DisputeRequest struct {
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
}

// DisputeDecisionRequest is the body of the dispute decision endpoint.
type DisputeDecisionRequest struct {
	Accepted bool `json:"accepted"`
}

// ChargebackRequest is the body of the chargeback endpoint.
type ChargebackRequest struct {
	Reference string `json:"reference"`
}

// OpenInvestigation handles POST /investigations.
func (h *Handler) OpenInvestigation(w http.ResponseWriter, r *http.Request) {
	var req OpenInvestigationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inv, err := h.investigations.Open(r.Context(), investigation.OpenInput{
		CaseID:         req.CaseID,
		Type:           req.Type,
		Steps:          req.Steps,
		DisputedAmount: req.DisputedAmount,
		AssignedTo:     req.AssignedTo,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// GetInvestigation handles GET /investigations/{id}.
func (h *Handler) GetInvestigation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.investigations.Get(r.Context(), urlID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// ListInvestigations handles GET /investigations?status=&caseId=&limit=.
func (h *Handler) ListInvestigations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.InvestigationFilter{
		CaseID: q.Get("caseId"),
		Status: domain.InvestigationStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, domain.Invalid("status", "unknown investigation status"))
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, domain.Invalid("limit", "must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	list, err := h.investigations.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"investigations": nonNilSlice(list),
		"count":          len(list),
	})
}

// ListOverdueInvestigations handles GET /investigations/overdue.
func (h *Handler) ListOverdueInvestigations(w http.ResponseWriter, r *http.Request) {
	list, err := h.investigations.ListOverdue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"investigations": nonNilSlice(list),
		"count":          len(list),
	})
}

// StartInvestigation handles POST /investigations/{id}/start.
func (h *Handler) StartInvestigation(w http.ResponseWriter, r *http.Request) {
	respondInvestigation(w)(h.investigations.Start(r.Context(), urlID(r)))
}

// RequestInvestigationInfo handles POST /investigations/{id}/request-info.
func (h *Handler) RequestInvestigationInfo(w http.ResponseWriter, r *http.Request) {
	respondInvestigation(w)(h.investigations.RequestInfo(r.Context(), urlID(r)))
}

// ResumeInvestigation handles POST /investigations/{id}/resume.
func (h *Handler) ResumeInvestigation(w http.ResponseWriter, r *http.Request) {
	respondInvestigation(w)(h.investigations.ResumeInfo(r.Context(), urlID(r)))
}

// CancelInvestigation handles POST /investigations/{id}/cancel.
func (h *Handler) CancelInvestigation(w http.ResponseWriter, r *http.Request) {
	respondInvestigation(w)(h.investigations.Cancel(r.Context(), urlID(r)))
}

// EscalateInvestigation handles POST /investigations/{id}/escalate.
func (h *Handler) EscalateInvestigation(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	respondInvestigation(w)(h.investigations.Escalate(r.Context(), urlID(r), req.Reason))
}

// CompleteStep handles POST /investigations/{id}/steps/{index}/complete.
func (h *Handler) CompleteStep(w http.ResponseWriter, r *http.Request) {
	index, ok := stepIndex(w, r)
	if !ok {
		return
	}
	var req StepRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	respondInvestigation(w)(h.investigations.CompleteStep(r.Context(), urlID(r), index, req.Result, req.Notes))
}

// SkipStep handles POST /investigations/{id}/steps/{index}/skip.
func (h *Handler) SkipStep(w http.ResponseWriter, r *http.Request) {
	index, ok := stepIndex(w, r)
	if !ok {
		return
	}
	var req StepRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	respondInvestigation(w)(h.investigations.SkipStep(r.Context(), urlID(r), index, req.Reason))
}

// RecordContact handles POST /investigations/{id}/contacts.
func (h *Handler) RecordContact(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerContact
	if !decodeJSON(w, r, &req) {
		return
	}
	respondInvestigation(w)(h.investigations.RecordCustomerContact(r.Context(), urlID(r), req))
}

// SetOutcome handles POST /investigations/{id}/outcome.
func (h *Handler) SetOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	respondInvestigation(w)(h.investigations.SetOutcome(r.Context(), urlID(r), req.Outcome, req.Reason))
}

// ProcessRefund handles POST /investigations/{id}/refund.
func (h *Handler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	respondInvestigation(w)(h.investigations.ProcessRefund(r.Context(), urlID(r), req.Amount))
}

// OpenDispute handles POST /investigations/{id}/disputes.
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	var req DisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inv, dispute, err := h.investigations.OpenDispute(r.Context(), urlID(r), req.TransactionID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"investigation": inv,
		"dispute":       dispute,
	})
}

// GrantProvisionalCredit handles POST /investigations/{id}/disputes/{disputeID}/credit.
func (h *Handler) GrantProvisionalCredit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	respondInvestigation(w)(h.investigations.GrantProvisionalCredit(r.Context(), urlID(r), chi.URLParam(r, "disputeID"), req.Amount))
}

// DecideDispute handles POST /investigations/{id}/disputes/{disputeID}/decision.
func (h *Handler) DecideDispute(w http.ResponseWriter, r *http.Request) {
	var req DisputeDecisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	respondInvestigation(w)(h.investigations.DecideDispute(r.Context(), urlID(r), chi.URLParam(r, "disputeID"), req.Accepted))
}

// Chargeback handles POST /investigations/{id}/disputes/{disputeID}/chargeback.
func (h *Handler) Chargeback(w http.ResponseWriter, r *http.Request) {
	var req ChargebackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	respondInvestigation(w)(h.investigations.Chargeback(r.Context(), urlID(r), chi.URLParam(r, "disputeID"), req.Reference))
}

func respondInvestigation(w http.ResponseWriter) func(*domain.FraudInvestigation, error) {
	return func(inv *domain.FraudInvestigation, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	}
}

func stepIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, domain.Invalid("index", "must be an integer"))
		return 0, false
	}
	return index, true
}
