package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/cases"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/investigation"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/profile"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Services bundles the components the API exposes.
// Cache, Bus, Profiles, Metrics and Worker are optional.
type Services struct {
	Repo           domain.Repository
	Cache          domain.Cache
	Bus            domain.EventBus
	Engine         *rules.Engine
	Evaluator      worker.Evaluator
	Alerts         *alert.Manager
	Cases          *cases.Manager
	Investigations *investigation.Workflow
	Profiles       *profile.Store
	Metrics        *metrics.Metrics
	Worker         *worker.Worker
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc Services, version string) *Server {
	handler := NewHandler(svc, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Get("/stats", handler.Stats)
	router.Method(http.MethodGet, "/metrics", svc.Metrics.Handler())

	router.Post("/evaluate", handler.Evaluate)
	router.Get("/decisions/{id}", handler.GetDecision)
	router.Get("/customers/{id}/behavior", handler.GetCustomerBehavior)

	router.Route("/rules", func(r chi.Router) {
		r.Get("/", handler.ListRules)
		r.Post("/", handler.CreateRule)
		r.Get("/{id}", handler.GetRule)
		r.Put("/{id}", handler.UpdateRule)
		r.Post("/{id}/toggle", handler.ToggleRule)
	})

	router.Route("/alerts", func(r chi.Router) {
		r.Get("/", handler.ListAlerts)
		r.Post("/", handler.CreateAlert)
		r.Get("/{id}", handler.GetAlert)
		r.Post("/{id}/assign", handler.AssignAlert)
		r.Post("/{id}/investigate", handler.InvestigateAlert)
		r.Post("/{id}/escalate", handler.EscalateAlert)
		r.Post("/{id}/confirm", handler.ConfirmAlert)
		r.Post("/{id}/dismiss", handler.DismissAlert)
		r.Post("/{id}/close", handler.CloseAlert)
	})

	router.Route("/cases", func(r chi.Router) {
		r.Get("/", handler.ListCases)
		r.Post("/", handler.CreateCase)
		r.Get("/{id}", handler.GetCase)
		r.Get("/{id}/investigations", handler.ListCaseInvestigations)
		r.Post("/{id}/alerts", handler.LinkCaseAlert)
		r.Post("/{id}/status", handler.TransitionCase)
		r.Post("/{id}/recoveries", handler.RecordRecovery)
		r.Post("/{id}/close", handler.CloseCase)
	})

	router.Route("/investigations", func(r chi.Router) {
		r.Get("/", handler.ListInvestigations)
		r.Post("/", handler.OpenInvestigation)
		r.Get("/overdue", handler.ListOverdueInvestigations)
		r.Get("/{id}", handler.GetInvestigation)
		r.Post("/{id}/start", handler.StartInvestigation)
		r.Post("/{id}/request-info", handler.RequestInvestigationInfo)
		r.Post("/{id}/resume", handler.ResumeInvestigation)
		r.Post("/{id}/escalate", handler.EscalateInvestigation)
		r.Post("/{id}/cancel", handler.CancelInvestigation)
		r.Post("/{id}/steps/{index}/complete", handler.CompleteStep)
		r.Post("/{id}/steps/{index}/skip", handler.SkipStep)
		r.Post("/{id}/contacts", handler.RecordContact)
		r.Post("/{id}/outcome", handler.SetOutcome)
		r.Post("/{id}/refund", handler.ProcessRefund)
		r.Post("/{id}/disputes", handler.OpenDispute)
		r.Post("/{id}/disputes/{disputeID}/credit", handler.GrantProvisionalCredit)
		r.Post("/{id}/disputes/{disputeID}/decision", handler.DecideDispute)
		r.Post("/{id}/disputes/{disputeID}/chargeback", handler.Chargeback)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
