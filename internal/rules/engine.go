// Package rules provides the fraud rule engine: typed conditions combined by
// a logic expression, with an optional CEL guard.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Observer receives rule evaluation events. Implemented by the metrics package.
type Observer interface {
	ObserveRuleHit(ruleID string)
	ObserveEvaluationFault(ruleID string)
}

// Engine evaluates events against the loaded fraud rules.
type Engine struct {
	mu       sync.RWMutex
	guards   *guardEnv
	compiled map[string]*compiledRule
	order    []string

	store      domain.RuleStore
	observer   Observer
	maxWorkers int
	now        func() time.Time
}

// hitCounter is shared by every version of a rule.
type hitCounter struct {
	total   atomic.Int64
	flushed atomic.Int64
	lastHit atomic.Int64 // unix nanos
}

type compiledRule struct {
	rule     *domain.FraudRule
	guard    cel.Program
	guardErr error
	hits     *hitCounter
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver reports hits and faults to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a rule engine backed by store. A nil store keeps rules
// in memory only.
func NewEngine(store domain.RuleStore, maxWorkers int, opts ...Option) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	guards, err := newGuardEnv()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		guards:     guards,
		compiled:   make(map[string]*compiledRule),
		store:      store,
		maxWorkers: maxWorkers,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Load replaces the engine's rules with the store's contents.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	stored, err := e.store.ListRules(ctx, false)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	compiled := make(map[string]*compiledRule, len(stored))
	for _, r := range stored {
		cr := e.compile(r, nil)
		if cr.guardErr != nil {
			slog.Warn("rule guard failed to compile", "rule_id", r.ID, "error", cr.guardErr)
		}
		compiled[r.ID] = cr
	}

	e.mu.Lock()
	e.compiled = compiled
	e.reorder()
	e.mu.Unlock()
	return nil
}

// ValidateRule checks a rule definition without installing it.
func (e *Engine) ValidateRule(r *domain.FraudRule) error {
	if r == nil {
		return domain.Invalid("rule", "required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return domain.Invalid("name", "required")
	}
	if !r.Type.Valid() {
		return domain.Invalid("type", fmt.Sprintf("unknown rule type %q", r.Type))
	}
	if len(r.Conditions) == 0 {
		return domain.Invalid("conditions", "at least one condition is required")
	}
	for i, c := range r.Conditions {
		if err := validateCondition(i, c); err != nil {
			return err
		}
	}
	if err := validateExpr(r.Logic, len(r.Conditions)); err != nil {
		return err
	}
	if r.Guard != "" {
		if _, err := e.guards.compile(r.Guard); err != nil {
			return domain.Invalid("guard", err.Error())
		}
	}
	if r.ScoreWeight < 0 || r.ScoreWeight > 100 {
		return domain.Invalid("scoreWeight", "must be within [0,100]")
	}
	if !r.Action.Valid() {
		return domain.Invalid("action", fmt.Sprintf("unknown action %q", r.Action))
	}
	if !r.Severity.Valid() {
		return domain.Invalid("severity", fmt.Sprintf("unknown severity %q", r.Severity))
	}
	return nil
}

func applyDefaults(r *domain.FraudRule) {
	if r.Action == "" {
		r.Action = domain.ActionAlert
	}
	if r.Severity == "" {
		r.Severity = domain.SeverityMedium
	}
	if r.Status == "" {
		r.Status = domain.RuleActive
	}
}

// CreateRule validates, persists and installs a new rule at version 1.
func (e *Engine) CreateRule(ctx context.Context, r *domain.FraudRule) (*domain.FraudRule, error) {
	rule := cloneRule(r)
	applyDefaults(rule)
	if err := e.ValidateRule(rule); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.Version = 1
	rule.HitCount = 0
	rule.LastHitAt = nil
	rule.CreatedAt = now
	rule.UpdatedAt = now

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.compiled[rule.ID]; exists {
		return nil, domain.Invalid("id", "rule already exists")
	}
	if err := e.save(ctx, rule); err != nil {
		return nil, err
	}
	e.compiled[rule.ID] = e.compile(rule, nil)
	e.reorder()

	slog.Info("rule created", "rule_id", rule.ID, "name", rule.Name, "type", rule.Type)
	return cloneRule(rule), nil
}

// UpdateRule replaces a rule's definition as a whole and bumps its version.
// Hit counters carry over.
func (e *Engine) UpdateRule(ctx context.Context, id string, r *domain.FraudRule) (*domain.FraudRule, error) {
	next := cloneRule(r)
	applyDefaults(next)
	if err := e.ValidateRule(next); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.compiled[id]
	if !ok {
		return nil, domain.NotFound("rule", id)
	}

	next.ID = id
	next.Version = current.rule.Version + 1
	next.CreatedAt = current.rule.CreatedAt
	next.UpdatedAt = e.now().UTC()
	current.snapshotHits(next)

	if err := e.save(ctx, next); err != nil {
		return nil, err
	}
	e.compiled[id] = e.compile(next, current.hits)

	slog.Info("rule updated", "rule_id", id, "version", next.Version)
	return cloneRule(next), nil
}

// SetActive toggles a rule. Deactivation is the only form of deletion.
func (e *Engine) SetActive(ctx context.Context, id string, active bool) (*domain.FraudRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.compiled[id]
	if !ok {
		return nil, domain.NotFound("rule", id)
	}

	next := cloneRule(current.rule)
	next.Status = domain.RuleInactive
	if active {
		next.Status = domain.RuleActive
	}
	if next.Status == current.rule.Status {
		current.snapshotHits(next)
		return next, nil
	}
	next.Version++
	next.UpdatedAt = e.now().UTC()
	current.snapshotHits(next)

	if err := e.save(ctx, next); err != nil {
		return nil, err
	}
	e.compiled[id] = &compiledRule{rule: next, guard: current.guard, guardErr: current.guardErr, hits: current.hits}

	slog.Info("rule toggled", "rule_id", id, "status", next.Status)
	return cloneRule(next), nil
}

// Get returns a copy of the rule with live hit counters.
func (e *Engine) Get(id string) (*domain.FraudRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cr, ok := e.compiled[id]
	if !ok {
		return nil, domain.NotFound("rule", id)
	}
	out := cloneRule(cr.rule)
	cr.snapshotHits(out)
	return out, nil
}

// List returns rules in evaluation order.
func (e *Engine) List(activeOnly bool) []*domain.FraudRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.FraudRule, 0, len(e.order))
	for _, id := range e.order {
		cr := e.compiled[id]
		if activeOnly && !cr.rule.Active() {
			continue
		}
		r := cloneRule(cr.rule)
		cr.snapshotHits(r)
		out = append(out, r)
	}
	return out
}

// ListActive returns the active rules in evaluation order.
func (e *Engine) ListActive() []*domain.FraudRule {
	return e.List(true)
}

// RulesCount returns the number of active rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, cr := range e.compiled {
		if cr.rule.Active() {
			n++
		}
	}
	return n
}

// EvaluateEvent evaluates ev against every active rule in parallel and
// returns one result per active rule, in rule order. It never fails:
// a faulty rule is reported as a non-match and the others still run.
func (e *Engine) EvaluateEvent(ctx context.Context, ev *domain.Event) []domain.RuleResult {
	e.mu.RLock()
	active := make([]*compiledRule, 0, len(e.order))
	for _, id := range e.order {
		if cr := e.compiled[id]; cr.rule.Active() {
			active = append(active, cr)
		}
	}
	e.mu.RUnlock()

	if len(active) == 0 || ev == nil {
		return nil
	}

	activation := guardActivation(ev)
	now := e.now()

	// Parallel evaluation using worker pool pattern
	results := make([]domain.RuleResult, len(active))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, cr := range active {
		wg.Add(1)
		go func(idx int, r *compiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(ctx, r, ev, activation, now)
		}(i, cr)
	}

	wg.Wait()
	return results
}

func (e *Engine) evaluateRule(ctx context.Context, cr *compiledRule, ev *domain.Event, activation map[string]any, now time.Time) domain.RuleResult {
	rule := cr.rule
	result := domain.RuleResult{
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		RuleType:        rule.Type,
		ConditionsTotal: len(rule.Conditions),
		Action:          rule.Action,
		Severity:        rule.Severity,
	}

	matched, fault := e.match(cr, ev, activation, &result)
	if fault != "" {
		result.Fault = fault
		slog.WarnContext(ctx, "rule evaluation fault", "rule_id", rule.ID, "event_id", ev.ID, "fault", fault)
		if e.observer != nil {
			e.observer.ObserveEvaluationFault(rule.ID)
		}
		return result
	}
	if !matched {
		return result
	}

	result.Matched = true
	result.Score = rule.ScoreWeight
	cr.hits.total.Add(1)
	cr.hits.lastHit.Store(now.UnixNano())
	if e.observer != nil {
		e.observer.ObserveRuleHit(rule.ID)
	}
	return result
}

func (e *Engine) match(cr *compiledRule, ev *domain.Event, activation map[string]any, result *domain.RuleResult) (bool, string) {
	rule := cr.rule
	outcomes := make([]bool, len(rule.Conditions))
	for i, c := range rule.Conditions {
		if fault := conditionFault(c); fault != "" {
			return false, fault
		}
		observed, present := ev.Field(c.Field)
		outcomes[i] = EvaluateCondition(c, observed, present)
		if outcomes[i] {
			result.ConditionsMatched++
		}
	}

	matched, err := evalExpr(rule.Logic, outcomes)
	if err != nil {
		return false, err.Error()
	}
	if !matched || rule.Guard == "" {
		return matched, ""
	}

	if cr.guardErr != nil {
		return false, "guard: " + cr.guardErr.Error()
	}
	ok, err := evalGuard(cr.guard, activation)
	if err != nil {
		return false, "guard: " + err.Error()
	}
	return ok, ""
}

// FlushHits writes accumulated hit counts to the store.
func (e *Engine) FlushHits(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	e.mu.RLock()
	pending := make([]*compiledRule, 0, len(e.compiled))
	for _, cr := range e.compiled {
		pending = append(pending, cr)
	}
	e.mu.RUnlock()

	var firstErr error
	for _, cr := range pending {
		total := cr.hits.total.Load()
		flushed := cr.hits.flushed.Load()
		delta := total - flushed
		if delta <= 0 {
			continue
		}
		lastHit := time.Unix(0, cr.hits.lastHit.Load()).UTC()
		if err := e.store.AddRuleHits(ctx, cr.rule.ID, delta, lastHit); err != nil {
			slog.Warn("failed to flush rule hits", "rule_id", cr.rule.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		cr.hits.flushed.CompareAndSwap(flushed, total)
	}
	return firstErr
}

// RunHitFlusher flushes hit counters every interval until ctx is done.
func (e *Engine) RunHitFlusher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = e.FlushHits(flushCtx)
			cancel()
			return
		case <-ticker.C:
			_ = e.FlushHits(ctx)
		}
	}
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*compiledRule)
	e.order = nil
	return nil
}

func (e *Engine) save(ctx context.Context, r *domain.FraudRule) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveRule(ctx, r); err != nil {
		return fmt.Errorf("save rule %s: %w", r.ID, err)
	}
	return nil
}

func (e *Engine) compile(r *domain.FraudRule, hits *hitCounter) *compiledRule {
	if hits == nil {
		hits = &hitCounter{}
		hits.total.Store(r.HitCount)
		hits.flushed.Store(r.HitCount)
		if r.LastHitAt != nil {
			hits.lastHit.Store(r.LastHitAt.UnixNano())
		}
	}
	cr := &compiledRule{rule: r, hits: hits}
	if r.Guard != "" {
		cr.guard, cr.guardErr = e.guards.compile(r.Guard)
	}
	return cr
}

// reorder sorts rule ids by creation time. Caller holds e.mu.
func (e *Engine) reorder() {
	order := make([]string, 0, len(e.compiled))
	for id := range e.compiled {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := e.compiled[order[i]].rule, e.compiled[order[j]].rule
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	e.order = order
}

func (cr *compiledRule) snapshotHits(dst *domain.FraudRule) {
	dst.HitCount = cr.hits.total.Load()
	if ns := cr.hits.lastHit.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		dst.LastHitAt = &t
	}
}

func cloneRule(r *domain.FraudRule) *domain.FraudRule {
	if r == nil {
		return nil
	}
	out := *r
	out.Conditions = append([]domain.RuleCondition(nil), r.Conditions...)
	out.Logic = cloneExpr(r.Logic)
	if r.LastHitAt != nil {
		t := *r.LastHitAt
		out.LastHitAt = &t
	}
	return &out
}

func cloneExpr(e *domain.Expr) *domain.Expr {
	if e == nil {
		return nil
	}
	out := &domain.Expr{Op: e.Op, Index: e.Index}
	for _, a := range e.Args {
		out.Args = append(out.Args, cloneExpr(a))
	}
	return out
}
