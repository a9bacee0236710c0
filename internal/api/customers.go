package api

import (
	"net/http"
	"strconv"

	"github.com/opensource-finance/harrier/internal/domain"
)

// defaultHistoryLimit is how many observations GET /customers/{id}/behavior
// returns when no limit is given.
const defaultHistoryLimit = 20

// BehaviorResponse is the response for GET /customers/{id}/behavior.
type BehaviorResponse struct {
	CustomerID string                  `json:"customerId"`
	Pattern    *domain.BehaviorPattern `json:"pattern"`
	History    []*domain.BehaviorEvent `json:"history"`
}

// GetCustomerBehavior handles GET /customers/{id}/behavior?limit=.
func (h *Handler) GetCustomerBehavior(w http.ResponseWriter, r *http.Request) {
	if h.profiles == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "behaviour profiles not available"})
		return
	}
	ctx := r.Context()
	customerID := urlID(r)

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, domain.Invalid("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	pattern, err := h.profiles.Get(ctx, customerID)
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := h.profiles.History(ctx, customerID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if pattern == nil && len(history) == 0 {
		writeError(w, domain.NotFound("behaviour pattern", customerID))
		return
	}

	writeJSON(w, http.StatusOK, BehaviorResponse{
		CustomerID: customerID,
		Pattern:    pattern,
		History:    nonNilSlice(history),
	})
}
