// Package notify delivers notification and refund requests through the
// event bus, with an optional HTTP webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// BusNotifier publishes notification requests to TopicNotification.
type BusNotifier struct {
	bus domain.EventBus
}

// NewBusNotifier creates a notifier backed by bus.
func NewBusNotifier(bus domain.EventBus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

// Notify implements domain.Notifier.
func (n *BusNotifier) Notify(ctx context.Context, req domain.NotificationRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.bus.Publish(ctx, domain.TopicNotification, data); err != nil {
		return fmt.Errorf("publish notification %s: %w", req.ID, err)
	}
	return nil
}

// RefundPublisher hands refund requests to the ledger over the bus.
type RefundPublisher struct {
	bus domain.EventBus
}

// NewRefundPublisher creates a refund sink backed by bus.
func NewRefundPublisher(bus domain.EventBus) *RefundPublisher {
	return &RefundPublisher{bus: bus}
}

// RequestRefund implements domain.RefundSink.
func (p *RefundPublisher) RequestRefund(ctx context.Context, req domain.RefundRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode refund: %w", err)
	}
	if err := p.bus.Publish(ctx, domain.TopicRefundRequested, data); err != nil {
		return fmt.Errorf("publish refund %s: %w", req.ID, err)
	}
	slog.Info("refund requested",
		"refund_id", req.ID,
		"investigation_id", req.InvestigationID,
		"case_id", req.CaseID,
		"amount", req.Amount.String(),
	)
	return nil
}

// WebhookNotifier POSTs notification requests as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier. A zero timeout means 5s.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

// Notify implements domain.Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, req domain.NotificationRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Harrier-Notification", req.Type)

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", req.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %d", req.ID, resp.StatusCode)
	}
	return nil
}

// Multi fans a request out to every notifier. All are attempted; the
// errors are joined.
type Multi []domain.Notifier

// Notify implements domain.Notifier.
func (m Multi) Notify(ctx context.Context, req domain.NotificationRequest) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
