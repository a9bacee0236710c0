package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/domain"
)

// CreateAlertRequest is the body of POST /alerts.
type CreateAlertRequest struct {
	CustomerID     string           `json:"customerId"`
	TransactionID  string           `json:"transactionId"`
	EventID        string           `json:"eventId,omitempty"`
	FraudType      domain.FraudType `json:"fraudType"`
	Severity       domain.Severity  `json:"severity"`
	FraudScore     float64          `json:"fraudScore"`
	Amount         float64          `json:"amount"`
	Indicators     []string         `json:"indicators,omitempty"`
	MatchedRuleIDs []string         `json:"matchedRuleIds,omitempty"`
}

// AlertActionRequest carries the optional fields of alert transitions.
type AlertActionRequest struct {
	Assignee   string `json:"assignee,omitempty"`
	Target     string `json:"target,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// ListAlerts handles GET /alerts?customerId=&status=&limit=.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AlertFilter{
		CustomerID: q.Get("customerId"),
		Status:     domain.AlertStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, domain.Invalid("status", "unknown alert status"))
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

	list, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": nonNilSlice(list),
		"count":  len(list),
	})
}

// CreateAlert handles POST /alerts for manually raised alerts.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req CreateAlertRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.alerts.Create(r.Context(), alert.CreateInput{
		CustomerID:     req.CustomerID,
		TransactionID:  req.TransactionID,
		EventID:        req.EventID,
		FraudType:      req.FraudType,
		Severity:       req.Severity,
		FraudScore:     req.FraudScore,
		Amount:         req.Amount,
		Indicators:     req.Indicators,
		MatchedRuleIDs: req.MatchedRuleIDs,
	})
	if errors.Is(err, domain.ErrDuplicateAlert) && a != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"alert": a,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.alerts.Get(r.Context(), urlID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// AssignAlert handles POST /alerts/{id}/assign.
func (h *Handler) AssignAlert(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, func(req AlertActionRequest) (*domain.FraudAlert, error) {
		return h.alerts.Assign(r.Context(), urlID(r), req.Assignee)
	})
}

// InvestigateAlert handles POST /alerts/{id}/investigate.
func (h *Handler) InvestigateAlert(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, func(AlertActionRequest) (*domain.FraudAlert, error) {
		return h.alerts.StartInvestigation(r.Context(), urlID(r))
	})
}

// EscalateAlert handles POST /alerts/{id}/escalate.
func (h *Handler) EscalateAlert(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, func(req AlertActionRequest) (*domain.FraudAlert, error) {
		return h.alerts.Escalate(r.Context(), urlID(r), req.Target, req.Reason)
	})
}

// ConfirmAlert handles POST /alerts/{id}/confirm.
func (h *Handler) ConfirmAlert(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, func(req AlertActionRequest) (*domain.FraudAlert, error) {
		return h.alerts.Confirm(r.Context(), urlID(r), req.Resolution)
	})
}

// DismissAlert handles POST /alerts/{id}/dismiss.
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, func(req AlertActionRequest) (*domain.FraudAlert, error) {
		return h.alerts.Dismiss(r.Context(), urlID(r), req.Resolution)
	})
}

// CloseAlert handles POST /alerts/{id}/close.
func (h *Handler) CloseAlert(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, func(req AlertActionRequest) (*domain.FraudAlert, error) {
		return h.alerts.Close(r.Context(), urlID(r), req.Resolution)
	})
}

func (h *Handler) alertAction(w http.ResponseWriter, r *http.Request, fn func(AlertActionRequest) (*domain.FraudAlert, error)) {
	var req AlertActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := fn(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
