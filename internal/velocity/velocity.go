// Package velocity loads the short-term event history consulted by the
// velocity and geographic detectors.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Attributes added to an event so rule conditions can reference velocity.
const (
	AttrCount        = "velocity_count"
	AttrAmount       = "velocity_amount"
	AttrDeviceCount  = "device_velocity_count"
	AttrAccountCount = "account_velocity_count"
)

// Service reads event history for one entity.
type Service struct {
	events domain.EventStore
	window time.Duration
}

// NewService creates a history loader. window is the trailing period the
// velocity detector looks at.
func NewService(events domain.EventStore, window time.Duration) *Service {
	if window <= 0 {
		window = time.Hour
	}
	return &Service{events: events, window: window}
}

// Window returns the configured trailing window.
func (s *Service) Window() time.Duration {
	return s.window
}

// History returns the stored events of ev's customer inside the window
// ending at ev.Timestamp, with ev itself appended when it is not stored yet.
func (s *Service) History(ctx context.Context, ev *domain.Event) ([]*domain.Event, error) {
	if ev.CustomerID == "" {
		return nil, fmt.Errorf("customer id is required")
	}

	history, err := s.events.ListEvents(ctx, domain.EventFilter{
		CustomerID: ev.CustomerID,
		Since:      ev.Timestamp.Add(-s.window),
		Until:      ev.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	for _, h := range history {
		if h.ID == ev.ID {
			return history, nil
		}
	}
	return append(history, ev), nil
}

// GetTransactionCount returns the number of events for an entity within
// the trailing window ending now.
func (s *Service) GetTransactionCount(ctx context.Context, entityKey, entityID string, window time.Duration, now time.Time) (int64, error) {
	if entityID == "" {
		return 0, fmt.Errorf("entity id is required")
	}

	filter := domain.EventFilter{Since: now.Add(-window), Until: now}
	switch entityKey {
	case detect.EntityCustomer:
		filter.CustomerID = entityID
	case detect.EntityDevice:
		filter.DeviceID = entityID
	case detect.EntityAccount:
		filter.AccountID = entityID
	default:
		return 0, fmt.Errorf("unsupported entity key: %s", entityKey)
	}

	events, err := s.events.ListEvents(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to get events: %w", err)
	}
	return int64(len(events)), nil
}

// EntityCounts counts the window's events sharing ev's device and account,
// ev included. Keys are the device and account velocity attributes; an
// entity the event does not carry is left out.
func (s *Service) EntityCounts(ctx context.Context, ev *domain.Event) (map[string]float64, error) {
	counts := make(map[string]float64, 2)
	for _, e := range []struct {
		key, id, attr string
	}{
		{detect.EntityDevice, ev.DeviceID, AttrDeviceCount},
		{detect.EntityAccount, ev.AccountID, AttrAccountCount},
	} {
		if e.id == "" {
			continue
		}
		n, err := s.GetTransactionCount(ctx, e.key, e.id, s.window, ev.Timestamp)
		if err != nil {
			return nil, err
		}
		counts[e.attr] = float64(n + 1)
	}
	return counts, nil
}

// Enrich writes the computed velocity figures onto the event attributes.
// Computed values replace anything the caller sent under the same names.
func Enrich(ev *domain.Event, sig detect.VelocitySignal, counts map[string]float64) {
	if ev.Attributes == nil {
		ev.Attributes = make(map[string]any, 2+len(counts))
	}
	ev.Attributes[AttrCount] = float64(sig.Count)
	ev.Attributes[AttrAmount] = sig.Amount
	for k, v := range counts {
		ev.Attributes[k] = v
	}
}
