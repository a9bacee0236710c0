package cases_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/cases"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/investigation"
	"github.com/opensource-finance/harrier/internal/repository"
)

type capturePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fixture struct {
	repo   *repository.MemoryRepository
	alerts *alert.Manager
	cases  *cases.Manager
	invs   *investigation.Workflow
	pub    *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := repository.NewMemory()
	alerts := alert.NewManager(repo, nil, 0, alert.WithClock(clock))
	pub := &capturePublisher{}
	cfg := domain.DefaultConfig().Workflow
	invs := investigation.NewWorkflow(repo, repo, cfg, investigation.WithClock(clock))
	return &fixture{
		repo:   repo,
		alerts: alerts,
		cases: cases.NewManager(repo, alerts, nil, cfg,
			cases.WithClock(clock), cases.WithPublisher(pub), cases.WithInvestigations(invs)),
		invs: invs,
		pub:  pub,
	}
}

func (f *fixture) alert(t *testing.T, customer, tx string, sev domain.Severity, amount float64) *domain.FraudAlert {
	t.Helper()
	a, err := f.alerts.Create(context.Background(), alert.CreateInput{
		CustomerID:    customer,
		TransactionID: tx,
		Severity:      sev,
		FraudScore:    50,
		Amount:        amount,
	})
	require.NoError(t, err)
	return a
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreateCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a1 := f.alert(t, "cust-1", "tx-1", domain.SeverityMedium, 100.50)
	a2 := f.alert(t, "cust-1", "tx-2", domain.SeverityCritical, 200)

	c, err := f.cases.CreateCase(ctx, "cust-1", []string{a1.ID, a2.ID, a1.ID}, cases.CreateOptions{Title: "card skimming"})
	require.NoError(t, err)

	assert.Equal(t, "FC-20260302-000001", c.CaseNumber)
	assert.Equal(t, domain.CaseOpen, c.Status)
	assert.Equal(t, domain.SeverityCritical, c.Priority)
	assert.Equal(t, []string{a1.ID, a2.ID}, c.AlertIDs)
	assert.Equal(t, []string{"tx-1", "tx-2"}, c.TransactionIDs)
	assert.True(t, c.TotalFraudAmount.Equal(d("300.5")), c.TotalFraudAmount.String())
	assert.Equal(t, now.Add(14*24*time.Hour), c.DueDate)
	assert.Equal(t, domain.RecoveryNone, c.RecoveryStatus)

	linked, err := f.alerts.Get(ctx, a2.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, linked.CaseID)
}

func TestCreateCaseValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.alert(t, "cust-2", "tx-9", domain.SeverityLow, 10)

	_, err := f.cases.CreateCase(ctx, "cust-1", nil, cases.CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.cases.CreateCase(ctx, "cust-1", []string{other.ID}, cases.CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.cases.CreateCase(ctx, "cust-1", []string{"missing"}, cases.CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	total := d("500")
	c, err := f.cases.CreateCase(ctx, "cust-2", []string{other.ID}, cases.CreateOptions{TotalFraudAmount: &total, DueIn: time.Hour})
	require.NoError(t, err)
	assert.True(t, c.TotalFraudAmount.Equal(total))
	assert.Equal(t, now.Add(time.Hour), c.DueDate)
}

func TestLinkAlertIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a1 := f.alert(t, "cust-1", "tx-1", domain.SeverityLow, 10)
	a2 := f.alert(t, "cust-1", "tx-2", domain.SeverityHigh, 20)
	c, err := f.cases.CreateCase(ctx, "cust-1", []string{a1.ID}, cases.CreateOptions{})
	require.NoError(t, err)

	c, err = f.cases.LinkAlert(ctx, c.ID, a2.ID)
	require.NoError(t, err)
	assert.Len(t, c.AlertIDs, 2)
	assert.Equal(t, domain.SeverityHigh, c.Priority)
	version := c.Version

	c, err = f.cases.LinkAlert(ctx, c.ID, a2.ID)
	require.NoError(t, err)
	assert.Len(t, c.AlertIDs, 2)
	assert.Equal(t, version, c.Version)
}

func TestTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.alert(t, "cust-1", "tx-1", domain.SeverityHigh, 10)
	c, err := f.cases.CreateCase(ctx, "cust-1", []string{a.ID}, cases.CreateOptions{})
	require.NoError(t, err)

	_, err = f.cases.Transition(ctx, c.ID, domain.CaseConfirmedFraud)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	for _, s := range []domain.CaseStatus{domain.CaseInProgress, domain.CaseEscalated, domain.CasePendingReview, domain.CaseConfirmedFraud} {
		c, err = f.cases.Transition(ctx, c.ID, s)
		require.NoError(t, err, "to %s", s)
	}
	assert.Equal(t, domain.CaseConfirmedFraud, c.Status)

	_, err = f.cases.Transition(ctx, c.ID, domain.CaseClosed)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.cases.Transition(ctx, c.ID, "archived")
	assert.ErrorIs(t, err, domain.ErrValidation)

	c, err = f.cases.Transition(ctx, c.ID, domain.CaseCancelled)
	require.NoError(t, err)
	_, err = f.cases.Transition(ctx, c.ID, domain.CaseInProgress)
	var terr *domain.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "cancelled", terr.From)
}

func TestRecoveryAndClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.alert(t, "cust-1", "tx-1", domain.SeverityHigh, 1000)
	c, err := f.cases.CreateCase(ctx, "cust-1", []string{a.ID}, cases.CreateOptions{})
	require.NoError(t, err)

	c, err = f.cases.RecordRecovery(ctx, c.ID, d("250"))
	require.NoError(t, err)
	assert.Equal(t, domain.RecoveryPartial, c.RecoveryStatus)

	_, err = f.cases.RecordRecovery(ctx, c.ID, d("800"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.cases.RecordRecovery(ctx, c.ID, d("-1"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	c, err = f.cases.CloseCase(ctx, c.ID, cases.CloseInput{
		Outcome:       domain.OutcomeFraudConfirmed,
		ActualLoss:    d("750"),
		PreventedLoss: d("0"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseClosed, c.Status)
	assert.True(t, c.RecoveryRate.Equal(d("0.25")), c.RecoveryRate.String())
	require.NotNil(t, c.ClosedAt)

	require.Len(t, f.pub.topics, 1)
	assert.Equal(t, domain.TopicCaseClosed, f.pub.topics[0])
	var published domain.FraudCase
	require.NoError(t, json.Unmarshal(f.pub.payloads[0], &published))
	assert.Equal(t, c.ID, published.ID)

	_, err = f.cases.CloseCase(ctx, c.ID, cases.CloseInput{Outcome: domain.OutcomeNoFraud})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCloseZeroFraudAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.alert(t, "cust-1", "tx-1", domain.SeverityLow, 0)
	c, err := f.cases.CreateCase(ctx, "cust-1", []string{a.ID}, cases.CreateOptions{})
	require.NoError(t, err)

	c, err = f.cases.CloseCase(ctx, c.ID, cases.CloseInput{Outcome: domain.OutcomeNoFraud})
	require.NoError(t, err)
	assert.True(t, c.RecoveryRate.IsZero())
	assert.Equal(t, domain.RecoveryNone, c.RecoveryStatus)
}

func TestCloseRejectsOverRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.alert(t, "cust-1", "tx-1", domain.SeverityLow, 100)
	c, err := f.cases.CreateCase(ctx, "cust-1", []string{a.ID}, cases.CreateOptions{})
	require.NoError(t, err)

	// Recovered amount drifted past the total outside the manager.
	c.RecoveredAmount = d("150")
	require.NoError(t, f.repo.UpdateCase(ctx, c))

	_, err = f.cases.CloseCase(ctx, c.ID, cases.CloseInput{Outcome: domain.OutcomeFraudConfirmed})
	assert.ErrorIs(t, err, domain.ErrValidation)

	stored, err := f.cases.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseOpen, stored.Status)
}

func TestConcurrentRecoveriesAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.alert(t, "cust-1", "tx-1", domain.SeverityLow, 1000)
	c, err := f.cases.CreateCase(ctx, "cust-1", []string{a.ID}, cases.CreateOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.cases.RecordRecovery(ctx, c.ID, d("10"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.cases.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.RecoveredAmount.Equal(d("200")), stored.RecoveredAmount.String())
	assert.Equal(t, 21, stored.Version)
}

func TestAlertBelongsToOneCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a1 := f.alert(t, "cust-1", "tx-1", domain.SeverityLow, 10)
	a2 := f.alert(t, "cust-1", "tx-2", domain.SeverityLow, 20)

	first, err := f.cases.CreateCase(ctx, "cust-1", []string{a1.ID}, cases.CreateOptions{})
	require.NoError(t, err)

	_, err = f.cases.CreateCase(ctx, "cust-1", []string{a2.ID, a1.ID}, cases.CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	free, err := f.alerts.Get(ctx, a2.ID)
	require.NoError(t, err)
	assert.Empty(t, free.CaseID, "a rejected case claims no alert")

	second, err := f.cases.CreateCase(ctx, "cust-1", []string{a2.ID}, cases.CreateOptions{})
	require.NoError(t, err)

	_, err = f.cases.LinkAlert(ctx, second.ID, a1.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	stored, err := f.cases.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a2.ID}, stored.AlertIDs)
	owner, err := f.alerts.Get(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, owner.CaseID)
}

func TestConcurrentCasesClaimAlertOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.alert(t, "cust-1", "tx-1", domain.SeverityLow, 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.cases.CreateCase(ctx, "cust-1", []string{a.ID}, cases.CreateOptions{}); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	all, err := f.cases.List(ctx, domain.CaseFilter{CustomerID: "cust-1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateCaseRedrawsTakenNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A second manager over the same store stands in for a restarted process.
	other := cases.NewManager(f.repo, f.alerts, nil, domain.DefaultConfig().Workflow, cases.WithClock(clock))

	c1, err := f.cases.CreateCase(ctx, "cust-1", []string{f.alert(t, "cust-1", "tx-1", domain.SeverityLow, 1).ID}, cases.CreateOptions{})
	require.NoError(t, err)
	c2, err := other.CreateCase(ctx, "cust-1", []string{f.alert(t, "cust-1", "tx-2", domain.SeverityLow, 1).ID}, cases.CreateOptions{})
	require.NoError(t, err)
	c3, err := f.cases.CreateCase(ctx, "cust-1", []string{f.alert(t, "cust-1", "tx-3", domain.SeverityLow, 1).ID}, cases.CreateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "FC-20260302-000001", c1.CaseNumber)
	assert.Equal(t, "FC-20260302-000002", c2.CaseNumber)
	assert.Equal(t, "FC-20260302-000003", c3.CaseNumber)
}

func TestFinishingCaseCancelsInvestigations(t *testing.T) {
	for _, finish := range []string{"close", "cancel"} {
		t.Run(finish, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			a := f.alert(t, "cust-1", "tx-1", domain.SeverityHigh, 100)
			c, err := f.cases.CreateCase(ctx, "cust-1", []string{a.ID}, cases.CreateOptions{})
			require.NoError(t, err)
			inv, err := f.invs.Open(ctx, investigation.OpenInput{CaseID: c.ID})
			require.NoError(t, err)

			if finish == "close" {
				_, err = f.cases.CloseCase(ctx, c.ID, cases.CloseInput{Outcome: domain.OutcomeNoFraud})
			} else {
				_, err = f.cases.Transition(ctx, c.ID, domain.CaseCancelled)
			}
			require.NoError(t, err)

			stored, err := f.invs.Get(ctx, inv.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.InvestigationCancelled, stored.Status)
		})
	}
}
