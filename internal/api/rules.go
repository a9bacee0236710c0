package api

import (
	"net/http"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ListRules handles GET /rules. ?active=true limits the list to active rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list := h.engine.List(activeOnly)
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.engine.Get(urlID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /rules. The rule is validated and compiled before
// it is stored.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.FraudRule
	if !decodeJSON(w, r, &rule) {
		return
	}

	created, err := h.engine.CreateRule(r.Context(), &rule)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// UpdateRule handles PUT /rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.FraudRule
	if !decodeJSON(w, r, &rule) {
		return
	}

	updated, err := h.engine.UpdateRule(r.Context(), urlID(r), &rule)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// ToggleRequest is the body of POST /rules/{id}/toggle.
type ToggleRequest struct {
	Active bool `json:"active"`
}

// ToggleRule handles POST /rules/{id}/toggle.
func (h *Handler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule, err := h.engine.SetActive(r.Context(), urlID(r), req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}
