// Package api exposes the Harrier engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/cases"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/investigation"
	"github.com/opensource-finance/harrier/internal/profile"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/worker"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	repo           domain.Repository
	cache          domain.Cache
	bus            domain.EventBus
	engine         *rules.Engine
	evaluator      worker.Evaluator
	alerts         *alert.Manager
	cases          *cases.Manager
	investigations *investigation.Workflow
	profiles       *profile.Store
	worker         *worker.Worker
	version        string
}

// NewHandler creates a new API handler.
func NewHandler(svc Services, version string) *Handler {
	return &Handler{
		repo:           svc.Repo,
		cache:          svc.Cache,
		bus:            svc.Bus,
		engine:         svc.Engine,
		evaluator:      svc.Evaluator,
		alerts:         svc.Alerts,
		cases:          svc.Cases,
		investigations: svc.Investigations,
		profiles:       svc.Profiles,
		worker:         svc.Worker,
		version:        version,
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EvaluateResponse is the response for POST /evaluate.
type EvaluateResponse struct {
	EventID     string           `json:"eventId"`
	Decision    *domain.Decision `json:"decision,omitempty"`
	AlertID     string           `json:"alertId,omitempty"`
	AlertNumber string           `json:"alertNumber,omitempty"`
	Duplicate   bool             `json:"duplicate,omitempty"`
	Queued      bool             `json:"queued,omitempty"`
	Metadata    struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Evaluate scores one event synchronously. With ?async=true the event is
// published for the worker and 202 is returned.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var ev domain.Event
	if !decodeJSON(w, r, &ev) {
		return
	}

	resp := EvaluateResponse{}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.Version = h.version

	if r.URL.Query().Get("async") == "true" {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "event bus not available"})
			return
		}
		if err := ev.Validate(); err != nil {
			writeError(w, err)
			return
		}
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		payload, err := json.Marshal(&ev)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := h.bus.Publish(ctx, domain.TopicEventIngested, payload); err != nil {
			slog.Error("failed to queue event", "transaction_id", ev.TransactionID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "failed to queue event"})
			return
		}
		resp.EventID = ev.ID
		resp.Queued = true
		resp.Metadata.TotalMs = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	out, err := h.evaluator.Evaluate(ctx, &ev)
	if err != nil {
		writeError(w, err)
		return
	}

	resp.EventID = ev.ID
	resp.Decision = out.Decision
	resp.Duplicate = out.Duplicate
	if out.Alert != nil {
		resp.AlertID = out.Alert.ID
		resp.AlertNumber = out.Alert.AlertNumber
	}
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()

	writeJSON(w, http.StatusOK, resp)
}

// GetDecision handles GET /decisions/{id}.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := h.repo.GetDecision(r.Context(), urlID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(r.Context()); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil || h.evaluator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// StatsResponse summarises engine and workflow state.
type StatsResponse struct {
	Rules                 int                                `json:"rules"`
	ActiveRules           int                                `json:"activeRules"`
	Alerts                map[domain.AlertStatus]int         `json:"alerts"`
	AlertsBySeverity      map[domain.Severity]int            `json:"alertsBySeverity"`
	AlertsByFraudType     map[domain.FraudType]int           `json:"alertsByFraudType"`
	Cases                 map[domain.CaseStatus]int          `json:"cases"`
	Investigations        map[domain.InvestigationStatus]int `json:"investigations"`
	OverdueInvestigations int                                `json:"overdueInvestigations"`

	// Summed over all investigations; refunds count once processed.
	DisputedAmount decimal.Decimal `json:"disputedAmount"`
	RefundedAmount decimal.Decimal `json:"refundedAmount"`

	Worker  *worker.Stats `json:"worker,omitempty"`
	Version string        `json:"version"`
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatsResponse{
		Alerts:            map[domain.AlertStatus]int{},
		AlertsBySeverity:  map[domain.Severity]int{},
		AlertsByFraudType: map[domain.FraudType]int{},
		Cases:             map[domain.CaseStatus]int{},
		Investigations:    map[domain.InvestigationStatus]int{},
		DisputedAmount:    decimal.Zero,
		RefundedAmount:    decimal.Zero,
		Version:           h.version,
	}

	if h.engine != nil {
		resp.Rules = h.engine.RulesCount()
		resp.ActiveRules = len(h.engine.ListActive())
	}
	if h.alerts != nil {
		alerts, err := h.alerts.List(ctx, domain.AlertFilter{})
		if err != nil {
			writeError(w, err)
			return
		}
		for _, a := range alerts {
			resp.Alerts[a.Status]++
			resp.AlertsBySeverity[a.Severity]++
			resp.AlertsByFraudType[a.FraudType]++
		}
	}
	if h.cases != nil {
		list, err := h.cases.List(ctx, domain.CaseFilter{})
		if err != nil {
			writeError(w, err)
			return
		}
		for _, c := range list {
			resp.Cases[c.Status]++
		}
	}
	if h.investigations != nil {
		all, err := h.investigations.List(ctx, domain.InvestigationFilter{})
		if err != nil {
			writeError(w, err)
			return
		}
		for _, inv := range all {
			resp.Investigations[inv.Status]++
			resp.DisputedAmount = resp.DisputedAmount.Add(inv.DisputedAmount)
			if inv.RefundProcessed {
				resp.RefundedAmount = resp.RefundedAmount.Add(inv.RefundAmount)
			}
		}
		overdue, err := h.investigations.ListOverdue(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.OverdueInvestigations = len(overdue)
	}
	if h.worker != nil {
		stats := h.worker.GetStats()
		resp.Worker = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateAlert),
		errors.Is(err, domain.ErrDuplicateNumber),
		errors.Is(err, domain.ErrConcurrentUpdate):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		writeJSON(w, status, ErrorResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// decodeJSON reads the request body into v and writes 400 on failure.
// An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON request body"})
		return false
	}
	return true
}

func urlID(r *http.Request) string {
	return chi.URLParam(r, "id")
}
