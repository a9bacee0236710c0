// Harrier - Fraud decisions for every ledger event.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/cases"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/investigation"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/notify"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/profile"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/velocity"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := domain.LoadConfig()
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"alert_threshold", cfg.Engine.AlertThreshold,
	)

	if err := run(cfg); err != nil {
		slog.Error("harrier stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("harrier shutdown complete")
}

func run(cfg *domain.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	} else {
		slog.Info("tracing enabled", "service", cfg.Tracing.ServiceName)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	engine, err := rules.NewEngine(repo, cfg.Engine.MaxConcurrency, rules.WithObserver(m))
	if err != nil {
		return fmt.Errorf("initialize rule engine: %w", err)
	}
	defer engine.Close()
	if err := engine.Load(ctx); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if err := rules.SeedBuiltinRules(ctx, engine); err != nil {
		return fmt.Errorf("seed rules: %w", err)
	}
	go engine.RunHitFlusher(ctx, cfg.Engine.HitFlushInterval)
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	profiles := profile.NewStore(repo, profile.WithCache(cacheImpl, cfg.Workflow.PatternCacheTTL))
	alerts := alert.NewManager(repo, cacheImpl, cfg.Workflow.NumberCounterTTL,
		alert.WithNotifier(newNotifier(cfg.Workflow, busImpl), cfg.Workflow.NotifyRecipient),
		alert.WithObserver(m),
	)
	investigations := investigation.NewWorkflow(repo, repo, cfg.Workflow,
		investigation.WithRefundSink(notify.NewRefundPublisher(busImpl)),
		investigation.WithOutcomeSink(profiles),
	)
	caseManager := cases.NewManager(repo, alerts, cacheImpl, cfg.Workflow,
		cases.WithPublisher(busImpl),
		cases.WithInvestigations(investigations),
	)

	p := pipeline.New(
		repo,
		velocity.NewService(repo, cfg.Engine.VelocityWindow),
		engine,
		scoring.NewScorer(cfg.Engine),
		profiles,
		alerts,
		cfg.Engine,
		pipeline.WithBus(busImpl),
		pipeline.WithObserver(m),
	)

	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, p)
		if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.WorkerCount}); err != nil {
			return fmt.Errorf("start async worker: %w", err)
		}
		slog.Info("async worker started", "workers", cfg.WorkerCount)
	}

	srv := api.NewServer(cfg.Server, api.Services{
		Repo:           repo,
		Cache:          cacheImpl,
		Bus:            busImpl,
		Engine:         engine,
		Evaluator:      p,
		Alerts:         alerts,
		Cases:          caseManager,
		Investigations: investigations,
		Profiles:       profiles,
		Metrics:        m,
		Worker:         asyncWorker,
	}, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	// Stop consuming before the server and stores go away.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return nil
}

// newLogger builds the process logger from the logging settings.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// newNotifier publishes alert notifications on the bus, and also posts
// them to the webhook when one is configured.
func newNotifier(cfg domain.WorkflowConfig, eventBus domain.EventBus) domain.Notifier {
	busNotifier := notify.NewBusNotifier(eventBus)
	if cfg.WebhookURL == "" {
		return busNotifier
	}
	timeout := time.Duration(cfg.WebhookTimeoutSec) * time.Second
	return notify.Multi{busNotifier, notify.NewWebhookNotifier(cfg.WebhookURL, timeout)}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  HARRIER")
	fmt.Println("  Fraud decisions for every ledger event.")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate                  - Score a ledger event")
	fmt.Println("    GET  /rules                     - List fraud rules")
	fmt.Println("    POST /rules                     - Create a fraud rule")
	fmt.Println("    GET  /alerts/{id}               - Get an alert")
	fmt.Println("    POST /cases                     - Open a case over alerts")
	fmt.Println("    POST /investigations            - Open an investigation")
	fmt.Println("    GET  /investigations/overdue    - Investigations past SLA")
	fmt.Println("    GET  /stats                     - Engine and workflow stats")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println("    GET  /metrics                   - Prometheus metrics")
	fmt.Println()
}
