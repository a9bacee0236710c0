package alert_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []domain.NotificationRequest
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, req domain.NotificationRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reqs = append(n.reqs, req)
	return n.err
}

type severityCounter map[domain.Severity]int

func (c severityCounter) ObserveAlertCreated(s domain.Severity) { c[s]++ }

var now = time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)

func clock() time.Time { return now }

func input(tx string) alert.CreateInput {
	return alert.CreateInput{
		CustomerID:    "cust-1",
		TransactionID: tx,
		Severity:      domain.SeverityHigh,
		FraudScore:    65,
		FraudType:     domain.FraudCardTesting,
		Indicators:    []string{"velocity"},
	}
}

func newManager(t *testing.T, opts ...alert.Option) (*alert.Manager, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemory()
	opts = append([]alert.Option{alert.WithClock(clock)}, opts...)
	return alert.NewManager(repo, nil, 48*time.Hour, opts...), repo
}

func TestCreate(t *testing.T) {
	notifier := &recordingNotifier{}
	counter := severityCounter{}
	m, _ := newManager(t, alert.WithNotifier(notifier, "ops"), alert.WithObserver(counter))
	ctx := context.Background()

	a, err := m.Create(ctx, input("tx-1"))
	require.NoError(t, err)
	assert.Equal(t, "FA-20260302-000001", a.AlertNumber)
	assert.Equal(t, domain.AlertNew, a.Status)
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, now, a.CreatedAt)
	assert.NotNil(t, a.MatchedRuleIDs)

	b, err := m.Create(ctx, input("tx-2"))
	require.NoError(t, err)
	assert.Equal(t, "FA-20260302-000002", b.AlertNumber)

	require.Len(t, notifier.reqs, 2)
	assert.Equal(t, alert.NotificationType, notifier.reqs[0].Type)
	assert.Equal(t, "ops", notifier.reqs[0].Recipient)
	assert.Equal(t, a.ID, notifier.reqs[0].Payload["alertId"])
	assert.Equal(t, 2, counter[domain.SeverityHigh])
}

func TestCreateDeduplicates(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, input("tx-1"))
	require.NoError(t, err)

	again, err := m.Create(ctx, input("tx-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateAlert)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)

	// Once dispositioned, a new alert may be raised for the pair.
	_, err = m.Dismiss(ctx, first.ID, "customer confirmed")
	require.NoError(t, err)
	next, err := m.Create(ctx, input("tx-1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestCreateConcurrentSinglesOut(t *testing.T) {
	m, repo := newManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := map[string]bool{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := m.Create(ctx, input("tx-race"))
			if err != nil && !errors.Is(err, domain.ErrDuplicateAlert) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if a != nil {
				mu.Lock()
				ids[a.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	active, err := repo.ListAlerts(ctx, domain.AlertFilter{CustomerID: "cust-1"})
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Len(t, ids, 1)
}

func TestCreateNotificationFailureKeepsAlert(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("bus down")}
	m, _ := newManager(t, alert.WithNotifier(notifier, "ops"))

	a, err := m.Create(context.Background(), input("tx-1"))
	require.NoError(t, err)

	stored, err := m.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.AlertNumber, stored.AlertNumber)
}

func TestCreateValidation(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	bad := input("tx-1")
	bad.CustomerID = ""
	_, err := m.Create(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrValidation)

	bad = input("tx-1")
	bad.FraudScore = 120
	_, err = m.Create(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrValidation)

	bad = input("tx-1")
	bad.Severity = "severe"
	_, err = m.Create(ctx, bad)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "severity", verr.Field)
}

func TestLifecycle(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, input("tx-1"))
	require.NoError(t, err)

	_, err = m.StartInvestigation(ctx, a.ID)
	var terr *domain.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "new", terr.From)

	a, err = m.Assign(ctx, a.ID, "analyst-1")
	require.NoError(t, err)
	assert.Equal(t, "analyst-1", a.AssignedTo)

	a, err = m.StartInvestigation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertInvestigating, a.Status)

	a, err = m.Confirm(ctx, a.ID, "card skimmed")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertConfirmedFraud, a.Status)
	require.NotNil(t, a.ResolvedAt)

	a, err = m.Close(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertClosed, a.Status)
	assert.Equal(t, "card skimmed", a.Resolution)
	assert.Equal(t, 5, a.Version)
}

func TestTerminalAlertRejectsTransitions(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, input("tx-1"))
	require.NoError(t, err)
	a, err = m.Dismiss(ctx, a.ID, "known merchant")
	require.NoError(t, err)

	for name, op := range map[string]func() (*domain.FraudAlert, error){
		"assign":   func() (*domain.FraudAlert, error) { return m.Assign(ctx, a.ID, "x") },
		"escalate": func() (*domain.FraudAlert, error) { return m.Escalate(ctx, a.ID, "lead", "why") },
		"confirm":  func() (*domain.FraudAlert, error) { return m.Confirm(ctx, a.ID, "") },
		"dismiss":  func() (*domain.FraudAlert, error) { return m.Dismiss(ctx, a.ID, "") },
	} {
		_, err := op()
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, name)
	}

	stored, err := m.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertFalsePositive, stored.Status)
	assert.Equal(t, a.Version, stored.Version)

	_, err = m.Close(ctx, a.ID, "done")
	require.NoError(t, err)
	_, err = m.Close(ctx, a.ID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestEscalateKeepsSeverity(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, input("tx-1"))
	require.NoError(t, err)

	a, err = m.Escalate(ctx, a.ID, "fraud-lead", "high value customer")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertEscalated, a.Status)
	assert.Equal(t, domain.SeverityHigh, a.Severity)
	assert.Equal(t, "fraud-lead", a.EscalatedTo)

	a, err = m.Assign(ctx, a.ID, "senior-analyst")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertAssigned, a.Status)

	_, err = m.Escalate(ctx, a.ID, "", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStaleUpdateLosesRace(t *testing.T) {
	m, repo := newManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, input("tx-1"))
	require.NoError(t, err)

	stale, err := repo.GetAlert(ctx, a.ID)
	require.NoError(t, err)

	_, err = m.Assign(ctx, a.ID, "analyst-1")
	require.NoError(t, err)

	stale.Status = domain.AlertEscalated
	assert.ErrorIs(t, repo.UpdateAlert(ctx, stale), domain.ErrConcurrentUpdate)
}

func TestLinkCase(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, input("tx-1"))
	require.NoError(t, err)

	a, err = m.LinkCase(ctx, a.ID, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "case-1", a.CaseID)

	again, err := m.LinkCase(ctx, a.ID, "case-1")
	require.NoError(t, err)
	assert.Equal(t, a.Version, again.Version)

	_, err = m.LinkCase(ctx, "missing", "case-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLinkCaseRefusesSecondCase(t *testing.T) {
	m, repo := newManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, input("tx-1"))
	require.NoError(t, err)
	_, err = m.LinkCase(ctx, a.ID, "case-1")
	require.NoError(t, err)

	_, err = m.LinkCase(ctx, a.ID, "case-2")
	assert.ErrorIs(t, err, domain.ErrValidation)
	stored, err := repo.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "case-1", stored.CaseID)

	// Unlinking from a case the alert is not in is a no-op.
	require.NoError(t, m.UnlinkCase(ctx, a.ID, "case-2"))
	stored, _ = repo.GetAlert(ctx, a.ID)
	assert.Equal(t, "case-1", stored.CaseID)

	require.NoError(t, m.UnlinkCase(ctx, a.ID, "case-1"))
	_, err = m.LinkCase(ctx, a.ID, "case-2")
	require.NoError(t, err)
}

func TestCreateAfterRestartSkipsStoredNumbers(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "alerts.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	before := alert.NewManager(repo, cache.NewLRUCache(100), 48*time.Hour, alert.WithClock(clock))
	first, err := before.Create(ctx, input("tx-1"))
	require.NoError(t, err)

	// A restarted process comes up with an empty counter cache.
	after := alert.NewManager(repo, cache.NewLRUCache(100), 48*time.Hour, alert.WithClock(clock))
	second, err := after.Create(ctx, input("tx-2"))
	require.NoError(t, err)

	assert.Equal(t, "FA-20260302-000001", first.AlertNumber)
	assert.Equal(t, "FA-20260302-000002", second.AlertNumber)
}

func TestCreateRedrawsTakenNumber(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	a := alert.NewManager(repo, nil, 48*time.Hour, alert.WithClock(clock))
	b := alert.NewManager(repo, nil, 48*time.Hour, alert.WithClock(clock))

	first, err := a.Create(ctx, input("tx-1"))
	require.NoError(t, err)
	second, err := b.Create(ctx, input("tx-2"))
	require.NoError(t, err)

	// a still believes 000002 is free; the store rejects it and a resyncs.
	third, err := a.Create(ctx, input("tx-3"))
	require.NoError(t, err)

	assert.Equal(t, "FA-20260302-000001", first.AlertNumber)
	assert.Equal(t, "FA-20260302-000002", second.AlertNumber)
	assert.Equal(t, "FA-20260302-000003", third.AlertNumber)
}

func TestFromDecision(t *testing.T) {
	ev := &domain.Event{ID: "ev-1", CustomerID: "c", TransactionID: "t", Amount: 42}
	d := &domain.Decision{
		FraudScore:     55,
		Severity:       domain.SeverityMedium,
		FraudType:      domain.FraudUnusualAmount,
		MatchedRuleIDs: []string{"r1"},
		AnomalySignals: []domain.Signal{{Name: "high_amount", Triggered: true}},
	}
	in := alert.FromDecision(ev, d)
	assert.Equal(t, "t", in.TransactionID)
	assert.Equal(t, 42.0, in.Amount)
	assert.Equal(t, []string{"high_amount", "rule:r1"}, in.Indicators)
}
