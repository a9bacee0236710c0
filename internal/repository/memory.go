package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// MemoryRepository implements domain.Repository in process memory.
// Values are deep-copied on the way in and out.
type MemoryRepository struct {
	mu sync.RWMutex

	rules          map[string]*domain.FraudRule
	events         map[string]*domain.Event
	patterns       map[string]*domain.BehaviorPattern
	behaviorEvents map[string][]*domain.BehaviorEvent
	alerts         map[string]*domain.FraudAlert
	cases          map[string]*domain.FraudCase
	investigations map[string]*domain.FraudInvestigation
	decisions      map[string]*domain.Decision
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		rules:          make(map[string]*domain.FraudRule),
		events:         make(map[string]*domain.Event),
		patterns:       make(map[string]*domain.BehaviorPattern),
		behaviorEvents: make(map[string][]*domain.BehaviorEvent),
		alerts:         make(map[string]*domain.FraudAlert),
		cases:          make(map[string]*domain.FraudCase),
		investigations: make(map[string]*domain.FraudInvestigation),
		decisions:      make(map[string]*domain.Decision),
	}
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("repository: clone %T: %v", v, err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("repository: clone %T: %v", v, err))
	}
	return out
}

// Ping always succeeds.
func (m *MemoryRepository) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryRepository) Close() error { return nil }

// --- rules ---

func (m *MemoryRepository) SaveRule(ctx context.Context, rule *domain.FraudRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := clone(rule)
	if prev, ok := m.rules[rule.ID]; ok {
		c.HitCount = prev.HitCount
		c.LastHitAt = prev.LastHitAt
	}
	m.rules[rule.ID] = c
	return nil
}

func (m *MemoryRepository) GetRule(ctx context.Context, ruleID string) (*domain.FraudRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[ruleID]
	if !ok {
		return nil, domain.NotFound("rule", ruleID)
	}
	return clone(r), nil
}

func (m *MemoryRepository) ListRules(ctx context.Context, activeOnly bool) ([]*domain.FraudRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.FraudRule
	for _, r := range m.rules {
		if activeOnly && !r.Active() {
			continue
		}
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryRepository) AddRuleHits(ctx context.Context, ruleID string, delta int64, lastHit time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[ruleID]
	if !ok {
		return domain.NotFound("rule", ruleID)
	}
	r.HitCount += delta
	if r.LastHitAt == nil || lastHit.After(*r.LastHitAt) {
		t := lastHit
		r.LastHitAt = &t
	}
	return nil
}

// --- events ---

func (m *MemoryRepository) SaveEvent(ctx context.Context, ev *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[ev.ID]; !ok {
		m.events[ev.ID] = clone(ev)
	}
	return nil
}

func (m *MemoryRepository) ListEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Event
	for _, ev := range m.events {
		if filter.CustomerID != "" && ev.CustomerID != filter.CustomerID {
			continue
		}
		if filter.DeviceID != "" && ev.DeviceID != filter.DeviceID {
			continue
		}
		if filter.AccountID != "" && ev.AccountID != filter.AccountID {
			continue
		}
		if !filter.Since.IsZero() && ev.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && ev.Timestamp.After(filter.Until) {
			continue
		}
		out = append(out, clone(ev))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryRepository) LastLocatedEvent(ctx context.Context, customerID string, before time.Time) (*domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *domain.Event
	for _, ev := range m.events {
		if ev.CustomerID != customerID || ev.Geo == nil || ev.Timestamp.After(before) {
			continue
		}
		if best == nil || ev.Timestamp.After(best.Timestamp) {
			best = ev
		}
	}
	return clone(best), nil
}

// --- patterns ---

func (m *MemoryRepository) GetPattern(ctx context.Context, customerID string) (*domain.BehaviorPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.patterns[customerID]), nil
}

func (m *MemoryRepository) UpsertPattern(ctx context.Context, p *domain.BehaviorPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[p.CustomerID] = clone(p)
	return nil
}

func (m *MemoryRepository) SaveBehaviorEvent(ctx context.Context, be *domain.BehaviorEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behaviorEvents[be.CustomerID] = append(m.behaviorEvents[be.CustomerID], clone(be))
	return nil
}

func (m *MemoryRepository) ListBehaviorEvents(ctx context.Context, customerID string, limit int) ([]*domain.BehaviorEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.behaviorEvents[customerID]
	out := make([]*domain.BehaviorEvent, 0, len(src))
	for _, be := range src {
		out = append(out, clone(be))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- alerts ---

func (m *MemoryRepository) CreateAlert(ctx context.Context, alert *domain.FraudAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.alerts[alert.ID]; ok {
		return fmt.Errorf("alert %s already exists", alert.ID)
	}
	for _, a := range m.alerts {
		if a.AlertNumber == alert.AlertNumber {
			return fmt.Errorf("alert number %s: %w", alert.AlertNumber, domain.ErrDuplicateNumber)
		}
	}
	if !alert.Status.Terminal() && m.activeAlertLocked(alert.CustomerID, alert.TransactionID) != nil {
		return fmt.Errorf("alert for %s/%s: %w", alert.CustomerID, alert.TransactionID, domain.ErrDuplicateAlert)
	}
	m.alerts[alert.ID] = clone(alert)
	return nil
}

func (m *MemoryRepository) MaxAlertNumber(ctx context.Context, stem string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hi string
	for _, a := range m.alerts {
		if strings.HasPrefix(a.AlertNumber, stem) && a.AlertNumber > hi {
			hi = a.AlertNumber
		}
	}
	return hi, nil
}

func (m *MemoryRepository) GetAlert(ctx context.Context, alertID string) (*domain.FraudAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[alertID]
	if !ok {
		return nil, domain.NotFound("alert", alertID)
	}
	return clone(a), nil
}

func (m *MemoryRepository) UpdateAlert(ctx context.Context, alert *domain.FraudAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.alerts[alert.ID]
	if !ok {
		return domain.NotFound("alert", alert.ID)
	}
	if cur.Version != alert.Version {
		return fmt.Errorf("alert %s: %w", alert.ID, domain.ErrConcurrentUpdate)
	}
	alert.Version++
	m.alerts[alert.ID] = clone(alert)
	return nil
}

func (m *MemoryRepository) FindActiveAlert(ctx context.Context, customerID, transactionID string) (*domain.FraudAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.activeAlertLocked(customerID, transactionID)), nil
}

func (m *MemoryRepository) activeAlertLocked(customerID, transactionID string) *domain.FraudAlert {
	for _, a := range m.alerts {
		if a.CustomerID == customerID && a.TransactionID == transactionID && !a.Status.Terminal() {
			return a
		}
	}
	return nil
}

func (m *MemoryRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.FraudAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.FraudAlert
	for _, a := range m.alerts {
		if filter.CustomerID != "" && a.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- cases ---

func (m *MemoryRepository) CreateCase(ctx context.Context, c *domain.FraudCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cases[c.ID]; ok {
		return fmt.Errorf("case %s already exists", c.ID)
	}
	for _, cur := range m.cases {
		if cur.CaseNumber == c.CaseNumber {
			return fmt.Errorf("case number %s: %w", c.CaseNumber, domain.ErrDuplicateNumber)
		}
	}
	m.cases[c.ID] = clone(c)
	return nil
}

func (m *MemoryRepository) MaxCaseNumber(ctx context.Context, stem string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hi string
	for _, c := range m.cases {
		if strings.HasPrefix(c.CaseNumber, stem) && c.CaseNumber > hi {
			hi = c.CaseNumber
		}
	}
	return hi, nil
}

func (m *MemoryRepository) GetCase(ctx context.Context, caseID string) (*domain.FraudCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cases[caseID]
	if !ok {
		return nil, domain.NotFound("case", caseID)
	}
	return clone(c), nil
}

func (m *MemoryRepository) UpdateCase(ctx context.Context, c *domain.FraudCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.cases[c.ID]
	if !ok {
		return domain.NotFound("case", c.ID)
	}
	if cur.Version != c.Version {
		return fmt.Errorf("case %s: %w", c.ID, domain.ErrConcurrentUpdate)
	}
	c.Version++
	m.cases[c.ID] = clone(c)
	return nil
}

func (m *MemoryRepository) ListCases(ctx context.Context, filter domain.CaseFilter) ([]*domain.FraudCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.FraudCase
	for _, c := range m.cases {
		if filter.CustomerID != "" && c.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, clone(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- investigations ---

func (m *MemoryRepository) CreateInvestigation(ctx context.Context, inv *domain.FraudInvestigation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.investigations[inv.ID]; ok {
		return fmt.Errorf("investigation %s already exists", inv.ID)
	}
	m.investigations[inv.ID] = clone(inv)
	return nil
}

func (m *MemoryRepository) GetInvestigation(ctx context.Context, id string) (*domain.FraudInvestigation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.investigations[id]
	if !ok {
		return nil, domain.NotFound("investigation", id)
	}
	return clone(inv), nil
}

func (m *MemoryRepository) UpdateInvestigation(ctx context.Context, inv *domain.FraudInvestigation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.investigations[inv.ID]
	if !ok {
		return domain.NotFound("investigation", inv.ID)
	}
	if cur.Version != inv.Version {
		return fmt.Errorf("investigation %s: %w", inv.ID, domain.ErrConcurrentUpdate)
	}
	inv.Version++
	m.investigations[inv.ID] = clone(inv)
	return nil
}

func (m *MemoryRepository) ListInvestigationsByCase(ctx context.Context, caseID string) ([]*domain.FraudInvestigation, error) {
	return m.listInvestigations(func(inv *domain.FraudInvestigation) bool { return inv.CaseID == caseID },
		func(a, b *domain.FraudInvestigation) bool {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		})
}

func (m *MemoryRepository) ListOpenInvestigations(ctx context.Context) ([]*domain.FraudInvestigation, error) {
	return m.listInvestigations(func(inv *domain.FraudInvestigation) bool { return !inv.Status.Terminal() },
		func(a, b *domain.FraudInvestigation) bool {
			if !a.SLADeadline.Equal(b.SLADeadline) {
				return a.SLADeadline.Before(b.SLADeadline)
			}
			return a.ID < b.ID
		})
}

func (m *MemoryRepository) ListInvestigations(ctx context.Context, filter domain.InvestigationFilter) ([]*domain.FraudInvestigation, error) {
	out, err := m.listInvestigations(func(inv *domain.FraudInvestigation) bool {
		return (filter.CaseID == "" || inv.CaseID == filter.CaseID) &&
			(filter.Status == "" || inv.Status == filter.Status)
	}, func(a, b *domain.FraudInvestigation) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if err == nil && filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}

func (m *MemoryRepository) listInvestigations(keep func(*domain.FraudInvestigation) bool, less func(a, b *domain.FraudInvestigation) bool) ([]*domain.FraudInvestigation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.FraudInvestigation
	for _, inv := range m.investigations {
		if keep(inv) {
			out = append(out, clone(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

// --- decisions ---

func (m *MemoryRepository) SaveDecision(ctx context.Context, d *domain.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[d.ID] = clone(d)
	return nil
}

func (m *MemoryRepository) GetDecision(ctx context.Context, id string) (*domain.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.decisions[id]
	if !ok {
		return nil, domain.NotFound("decision", id)
	}
	return clone(d), nil
}
