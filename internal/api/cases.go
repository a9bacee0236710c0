package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/cases"
	"github.com/opensource-finance/harrier/internal/domain"
)

// CreateCaseRequest is the body of POST /cases.
type CreateCaseRequest struct {
	CustomerID       string           `json:"customerId"`
	AlertIDs         []string         `json:"alertIds"`
	Title            string           `json:"title,omitempty"`
	AssignedTo       string           `json:"assignedTo,omitempty"`
	TotalFraudAmount *decimal.Decimal `json:"totalFraudAmount,omitempty"`
	DueInHours       int              `json:"dueInHours,omitempty"`
}

// LinkAlertRequest is the body of POST /cases/{id}/alerts.
type LinkAlertRequest struct {
	AlertID string `json:"alertId"`
}

// CaseStatusRequest is the body of POST /cases/{id}/status.
type CaseStatusRequest struct {
	Status domain.CaseStatus `json:"status"`
}

// RecoveryRequest is the body of POST /cases/{id}/recoveries.
type RecoveryRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CloseCaseRequest is the body of POST /cases/{id}/close.
type CloseCaseRequest struct {
	Outcome       domain.Outcome  `json:"outcome"`
	ActualLoss    decimal.Decimal `json:"actualLoss"`
	PreventedLoss decimal.Decimal `json:"preventedLoss"`
}

// ListCases handles GET /cases?status=&customerId=.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.CaseFilter{
		CustomerID: q.Get("customerId"),
		Status:     domain.CaseStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, domain.Invalid("status", "unknown case status"))
		return
	}

	list, err := h.cases.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": nonNilSlice(list),
		"count": len(list),
	})
}

// CreateCase handles POST /cases.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req CreateCaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DueInHours < 0 {
		writeError(w, domain.Invalid("dueInHours", "must not be negative"))
		return
	}

	c, err := h.cases.CreateCase(r.Context(), req.CustomerID, req.AlertIDs, cases.CreateOptions{
		Title:            req.Title,
		AssignedTo:       req.AssignedTo,
		TotalFraudAmount: req.TotalFraudAmount,
		DueIn:            time.Duration(req.DueInHours) * time.Hour,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetCase handles GET /cases/{id}.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.cases.Get(r.Context(), urlID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListCaseInvestigations handles GET /cases/{id}/investigations.
func (h *Handler) ListCaseInvestigations(w http.ResponseWriter, r *http.Request) {
	list, err := h.investigations.ListByCase(r.Context(), urlID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"investigations": nonNilSlice(list),
		"count":          len(list),
	})
}

// LinkCaseAlert handles POST /cases/{id}/alerts.
func (h *Handler) LinkCaseAlert(w http.ResponseWriter, r *http.Request) {
	var req LinkAlertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AlertID == "" {
		writeError(w, domain.Invalid("alertId", "required"))
		return
	}

	c, err := h.cases.LinkAlert(r.Context(), urlID(r), req.AlertID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// TransitionCase handles POST /cases/{id}/status.
func (h *Handler) TransitionCase(w http.ResponseWriter, r *http.Request) {
	var req CaseStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.cases.Transition(r.Context(), urlID(r), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RecordRecovery handles POST /cases/{id}/recoveries.
func (h *Handler) RecordRecovery(w http.ResponseWriter, r *http.Request) {
	var req RecoveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.cases.RecordRecovery(r.Context(), urlID(r), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CloseCase handles POST /cases/{id}/close.
func (h *Handler) CloseCase(w http.ResponseWriter, r *http.Request) {
	var req CloseCaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.cases.CloseCase(r.Context(), urlID(r), cases.CloseInput{
		Outcome:       req.Outcome,
		ActualLoss:    req.ActualLoss,
		PreventedLoss: req.PreventedLoss,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
