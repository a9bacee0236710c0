// Package worker evaluates events consumed from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
)

// Evaluator scores one event. Implemented by pipeline.Pipeline.
type Evaluator interface {
	Evaluate(ctx context.Context, ev *domain.Event) (*pipeline.Outcome, error)
}

// Worker processes ingested events asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	evaluator Evaluator

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount bounds concurrent evaluations
	WorkerCount int

	// Topic overrides the ingestion topic
	Topic string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, evaluator Evaluator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		evaluator: evaluator,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the ingestion topic.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.Topic == "" {
		cfg.Topic = domain.TopicEventIngested
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.sem = make(chan struct{}, cfg.WorkerCount)
	sub, err := w.bus.Subscribe(w.ctx, cfg.Topic, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.Topic, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", cfg.Topic,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// handleMessage decodes the event and evaluates it on a bounded pool.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var ev domain.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse event message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.process(msg.ID, &ev)
	}()
	return nil
}

func (w *Worker) process(messageID string, ev *domain.Event) {
	start := time.Now()

	out, err := w.evaluator.Evaluate(w.ctx, ev)
	if err != nil {
		w.failed.Add(1)
		slog.Error("event evaluation failed",
			"message_id", messageID,
			"transaction_id", ev.TransactionID,
			"error", err,
		)
		return
	}
	w.processed.Add(1)

	slog.Debug("event processed",
		"message_id", messageID,
		"transaction_id", ev.TransactionID,
		"score", out.Decision.FraudScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits for in-flight evaluations.
func (w *Worker) Stop() error {
	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
