// Package profile maintains per-customer behaviour patterns.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/keylock"
)

const (
	// maxSetSize caps hours, days, devices and locations per pattern.
	maxSetSize = 20

	// fullConfidenceEvents is the observation count at which confidence is 1.
	fullConfidenceEvents = 50

	cachePrefix = "pattern:"
)

// Store is the behaviour profile service.
type Store struct {
	patterns domain.PatternStore
	cache    domain.Cache
	lookup   domain.CustomerLookup
	locks    *keylock.Locker
	ttl      time.Duration
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCache enables read-through caching of patterns.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(s *Store) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithLookup seeds new patterns from the customer directory.
func WithLookup(l domain.CustomerLookup) Option {
	return func(s *Store) { s.lookup = l }
}

// WithClock overrides the store clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a profile store over patterns.
func NewStore(patterns domain.PatternStore, opts ...Option) *Store {
	s := &Store{
		patterns: patterns,
		locks:    keylock.New(),
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the customer's pattern, or nil when none exists yet.
func (s *Store) Get(ctx context.Context, customerID string) (*domain.BehaviorPattern, error) {
	if p := s.cached(ctx, customerID); p != nil {
		return p, nil
	}
	p, err := s.patterns.GetPattern(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("get pattern %s: %w", customerID, err)
	}
	if p != nil {
		s.fill(ctx, p)
	}
	return p, nil
}

// Bootstrap returns the existing pattern or seeds one from the customer's
// risk profile. It returns nil when no lookup is configured and no pattern
// exists.
func (s *Store) Bootstrap(ctx context.Context, customerID string) (*domain.BehaviorPattern, error) {
	p, err := s.Get(ctx, customerID)
	if err != nil || p != nil || s.lookup == nil {
		return p, err
	}

	unlock := s.locks.Lock(customerID)
	defer unlock()

	// Another caller may have seeded it while we waited.
	if p, err = s.patterns.GetPattern(ctx, customerID); err != nil || p != nil {
		return p, err
	}

	risk, err := s.lookup.RiskProfile(ctx, customerID)
	if err != nil {
		slog.Warn("customer lookup failed, starting without pattern", "customer_id", customerID, "error", err)
		return nil, nil
	}
	if risk == nil {
		return nil, nil
	}

	now := s.now().UTC()
	p = &domain.BehaviorPattern{
		CustomerID:     customerID,
		TypicalHours:   capInts(append([]int(nil), risk.TypicalHours...)),
		KnownDevices:   capStrings(append([]string(nil), risk.KnownDevices...)),
		KnownLocations: capStrings(append([]string(nil), risk.KnownLocations...)),
		AvgAmount:      risk.AvgAmount,
		LastLocation:   risk.HomeLocation,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.patterns.UpsertPattern(ctx, p); err != nil {
		return nil, fmt.Errorf("seed pattern %s: %w", customerID, err)
	}
	s.invalidate(ctx, customerID)
	slog.Debug("pattern bootstrapped", "customer_id", customerID, "risk_level", risk.RiskLevel)
	return p, nil
}

// Record appends an observation and folds it into the customer's pattern.
func (s *Store) Record(ctx context.Context, ev *domain.Event, anomalies []domain.BehaviorAnomaly) (*domain.BehaviorPattern, error) {
	if ev == nil || ev.CustomerID == "" {
		return nil, domain.Invalid("customerId", "required")
	}

	unlock := s.locks.Lock(ev.CustomerID)
	defer unlock()

	at := ev.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	be := &domain.BehaviorEvent{
		ID:         uuid.New().String(),
		CustomerID: ev.CustomerID,
		EventID:    ev.ID,
		EventType:  ev.Type,
		DeviceID:   ev.DeviceID,
		IPAddress:  ev.IPAddress,
		Hour:       at.Hour(),
		Location:   ev.Geo.Label(),
		Amount:     ev.Amount,
		OccurredAt: at,
		Anomalies:  anomalies,
	}
	if err := s.patterns.SaveBehaviorEvent(ctx, be); err != nil {
		return nil, fmt.Errorf("save behavior event: %w", err)
	}

	p, err := s.patterns.GetPattern(ctx, ev.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("get pattern %s: %w", ev.CustomerID, err)
	}
	now := s.now().UTC()
	if p == nil {
		p = &domain.BehaviorPattern{CustomerID: ev.CustomerID, CreatedAt: now}
	}

	p.AvgAmount = (p.AvgAmount*float64(p.EventCount) + ev.Amount) / float64(p.EventCount+1)
	p.EventCount++
	p.TypicalHours = addInt(p.TypicalHours, at.Hour())
	p.TypicalDays = addInt(p.TypicalDays, int(at.Weekday()))
	if ev.DeviceID != "" {
		p.KnownDevices = addString(p.KnownDevices, ev.DeviceID)
	}
	if ev.Geo != nil {
		p.KnownLocations = addString(p.KnownLocations, ev.Geo.Label())
		loc := *ev.Geo
		p.LastLocation = &loc
	}
	p.LastSeenAt = at
	p.Confidence = math.Min(1, float64(p.EventCount)/fullConfidenceEvents)
	p.UpdatedAt = now

	if err := s.patterns.UpsertPattern(ctx, p); err != nil {
		return nil, fmt.Errorf("upsert pattern %s: %w", ev.CustomerID, err)
	}
	s.invalidate(ctx, ev.CustomerID)
	return p, nil
}

// ApplyOutcome feeds an investigation outcome back into the pattern.
// Confirmed fraud halves confidence, cleared outcomes raise it by 0.1.
func (s *Store) ApplyOutcome(ctx context.Context, customerID string, outcome domain.Outcome) error {
	unlock := s.locks.Lock(customerID)
	defer unlock()

	p, err := s.patterns.GetPattern(ctx, customerID)
	if err != nil {
		return fmt.Errorf("get pattern %s: %w", customerID, err)
	}
	if p == nil {
		return nil
	}

	switch outcome {
	case domain.OutcomeFraudConfirmed:
		p.Confidence /= 2
	case domain.OutcomeNoFraud, domain.OutcomeCustomerError:
		p.Confidence = math.Min(1, p.Confidence+0.1)
	default:
		return nil
	}
	p.UpdatedAt = s.now().UTC()

	if err := s.patterns.UpsertPattern(ctx, p); err != nil {
		return fmt.Errorf("upsert pattern %s: %w", customerID, err)
	}
	s.invalidate(ctx, customerID)
	return nil
}

// History returns the customer's most recent observations, newest first.
func (s *Store) History(ctx context.Context, customerID string, limit int) ([]*domain.BehaviorEvent, error) {
	return s.patterns.ListBehaviorEvents(ctx, customerID, limit)
}

func (s *Store) cached(ctx context.Context, customerID string) *domain.BehaviorPattern {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, cachePrefix+customerID)
	if err != nil || data == nil {
		return nil
	}
	var p domain.BehaviorPattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	return &p
}

func (s *Store) fill(ctx context.Context, p *domain.BehaviorPattern) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cachePrefix+p.CustomerID, data, s.ttl); err != nil {
		slog.Debug("pattern cache fill failed", "customer_id", p.CustomerID, "error", err)
	}
}

func (s *Store) invalidate(ctx context.Context, customerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cachePrefix+customerID); err != nil {
		slog.Debug("pattern cache invalidation failed", "customer_id", customerID, "error", err)
	}
}

func addInt(set []int, v int) []int {
	for _, x := range set {
		if x == v {
			return set
		}
	}
	return capInts(append(set, v))
}

func addString(set []string, v string) []string {
	for _, x := range set {
		if x == v {
			return set
		}
	}
	return capStrings(append(set, v))
}

func capInts(set []int) []int {
	if len(set) > maxSetSize {
		return set[len(set)-maxSetSize:]
	}
	return set
}

func capStrings(set []string) []string {
	if len(set) > maxSetSize {
		return set[len(set)-maxSetSize:]
	}
	return set
}
