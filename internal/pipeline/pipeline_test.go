package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/profile"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/velocity"
)

var base = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu        sync.Mutex
	decisions []*domain.Decision
}

func (r *recorder) ObserveDecision(d *domain.Decision, took time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

type fixture struct {
	repo     *repository.MemoryRepository
	engine   *rules.Engine
	alerts   *alert.Manager
	profiles *profile.Store
	bus      *bus.ChannelBus
	observer *recorder
	p        *pipeline.Pipeline
}

func newFixture(t *testing.T, tune func(*domain.EngineConfig)) *fixture {
	t.Helper()
	cfg := domain.DefaultConfig().Engine
	if tune != nil {
		tune(&cfg)
	}

	f := &fixture{
		repo:     repository.NewMemory(),
		bus:      bus.NewChannelBus(100),
		observer: &recorder{},
	}
	t.Cleanup(func() { f.bus.Close() })

	var err error
	f.engine, err = rules.NewEngine(f.repo, 4)
	require.NoError(t, err)
	f.alerts = alert.NewManager(f.repo, nil, time.Hour)
	f.profiles = profile.NewStore(f.repo)

	f.p = pipeline.New(
		f.repo,
		velocity.NewService(f.repo, cfg.VelocityWindow),
		f.engine,
		scoring.NewScorer(cfg),
		f.profiles,
		f.alerts,
		cfg,
		pipeline.WithBus(f.bus),
		pipeline.WithObserver(f.observer),
	)
	return f
}

func event(n int, at time.Time) *domain.Event {
	return &domain.Event{
		ID:            fmt.Sprintf("ev-%d", n),
		TransactionID: fmt.Sprintf("tx-%d", n),
		CustomerID:    "cust-1",
		Amount:        100,
		Currency:      "USD",
		Type:          "purchase",
		Channel:       "online",
		Timestamp:     at,
	}
}

func TestFirstLargePaymentOnNewDevice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ev := event(1, base)
	ev.Amount = 12000
	ev.DeviceID = "dev-new"

	out, err := f.p.Evaluate(ctx, ev)
	require.NoError(t, err)

	d := out.Decision
	assert.Equal(t, 40.0, d.FraudScore)
	assert.Equal(t, domain.SeverityMedium, d.Severity)
	assert.Equal(t, domain.ActionLog, d.RecommendedAction)
	assert.False(t, d.ShouldAlert)
	assert.Nil(t, out.Alert)

	stored, err := f.repo.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.FraudScore, stored.FraudScore)

	pattern, err := f.profiles.Get(ctx, "cust-1")
	require.NoError(t, err)
	require.NotNil(t, pattern)
	assert.Equal(t, 1, pattern.EventCount)
	assert.Contains(t, pattern.KnownDevices, "dev-new")

	require.Len(t, f.observer.decisions, 1)
}

func TestVelocityBurstRaisesAlert(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.CreateRule(ctx, &domain.FraudRule{
		Name: "Velocity burst",
		Type: domain.RuleTypeVelocity,
		Conditions: []domain.RuleCondition{
			{Field: velocity.AttrCount, Operator: domain.OpGreater, Value: 5.0, DataType: domain.DataTypeNumber},
		},
		Action:      domain.ActionAlert,
		ScoreWeight: 25,
	})
	require.NoError(t, err)

	alerts := make(chan *domain.Message, 1)
	_, err = f.bus.Subscribe(ctx, domain.TopicAlertCreated, func(ctx context.Context, msg *domain.Message) error {
		alerts <- msg
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		out, err := f.p.Evaluate(ctx, event(i, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		assert.Nil(t, out.Alert, "event %d should not alert", i)
	}

	out, err := f.p.Evaluate(ctx, event(5, base.Add(5*time.Minute)))
	require.NoError(t, err)

	d := out.Decision
	assert.Equal(t, 55.0, d.FraudScore)
	assert.Equal(t, domain.FraudCardNotPresent, d.FraudType)
	assert.Equal(t, domain.ActionAlert, d.RecommendedAction)
	require.NotNil(t, out.Alert)
	assert.Equal(t, out.Alert.ID, d.AlertID)
	assert.Equal(t, domain.AlertNew, out.Alert.Status)

	var vel domain.Signal
	for _, s := range d.AnomalySignals {
		if s.Kind == domain.SignalVelocity {
			vel = s
		}
	}
	assert.True(t, vel.Triggered)
	assert.Equal(t, 6.0, vel.Value)

	select {
	case msg := <-alerts:
		var a domain.FraudAlert
		require.NoError(t, json.Unmarshal(msg.Payload, &a))
		assert.Equal(t, out.Alert.ID, a.ID)
	case <-time.After(time.Second):
		t.Fatal("alert was not published")
	}
}

func TestImpossibleTravel(t *testing.T) {
	f := newFixture(t, func(c *domain.EngineConfig) { c.AlertThreshold = 40 })
	ctx := context.Background()

	london := event(1, base)
	london.Geo = &domain.GeoPoint{Latitude: 51.5074, Longitude: -0.1278, Country: "GB", City: "London"}
	_, err := f.p.Evaluate(ctx, london)
	require.NoError(t, err)

	newYork := event(2, base.Add(30*time.Minute))
	newYork.Geo = &domain.GeoPoint{Latitude: 40.7128, Longitude: -74.0060, Country: "US", City: "New York"}
	out, err := f.p.Evaluate(ctx, newYork)
	require.NoError(t, err)

	d := out.Decision
	assert.Equal(t, 45.0, d.FraudScore, "impossible travel 35 plus new location 10")
	assert.Equal(t, domain.FraudLocationAnomaly, d.FraudType)
	require.NotNil(t, out.Alert)
	assert.Equal(t, domain.FraudLocationAnomaly, out.Alert.FraudType)
}

func TestDuplicateTransactionReusesAlert(t *testing.T) {
	f := newFixture(t, func(c *domain.EngineConfig) { c.AlertThreshold = 20 })
	ctx := context.Background()

	first := event(1, base)
	first.Amount = 20000
	out1, err := f.p.Evaluate(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, out1.Alert)
	assert.False(t, out1.Duplicate)

	retry := event(2, base.Add(time.Second))
	retry.TransactionID = first.TransactionID
	retry.Amount = 20000
	out2, err := f.p.Evaluate(ctx, retry)
	require.NoError(t, err)
	require.NotNil(t, out2.Alert)
	assert.True(t, out2.Duplicate)
	assert.Equal(t, out1.Alert.ID, out2.Alert.ID)

	all, err := f.alerts.List(ctx, domain.AlertFilter{CustomerID: "cust-1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEvaluateValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := map[string]*domain.Event{
		"nil":         nil,
		"customer":    {TransactionID: "tx"},
		"transaction": {CustomerID: "c"},
		"amount":      {CustomerID: "c", TransactionID: "tx", Amount: -1},
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.p.Evaluate(ctx, ev)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))
		})
	}
}

func TestEvaluateFillsIdentity(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f.p = pipeline.New(f.repo, velocity.NewService(f.repo, time.Hour), f.engine,
		scoring.NewScorer(domain.DefaultConfig().Engine), f.profiles, f.alerts,
		domain.DefaultConfig().Engine, pipeline.WithClock(func() time.Time { return now }))

	ev := &domain.Event{CustomerID: "cust-2", TransactionID: "tx-9", Amount: 10}
	out, err := f.p.Evaluate(context.Background(), ev)
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, now, ev.Timestamp)
	assert.Equal(t, ev.ID, out.Decision.EventID)
}

func TestSharedDeviceVelocity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rule, err := f.engine.CreateRule(ctx, &domain.FraudRule{
		Name: "Device shared across customers",
		Type: domain.RuleTypeDevice,
		Conditions: []domain.RuleCondition{
			{Field: velocity.AttrDeviceCount, Operator: domain.OpGreaterEqual, Value: 3.0, DataType: domain.DataTypeNumber},
		},
		Action:      domain.ActionAlert,
		ScoreWeight: 30,
	})
	require.NoError(t, err)

	var last *pipeline.Outcome
	for i := 0; i < 3; i++ {
		ev := event(i, base.Add(time.Duration(i)*time.Minute))
		ev.CustomerID = fmt.Sprintf("cust-%c", 'a'+i)
		ev.DeviceID = "dev-farm"
		last, err = f.p.Evaluate(ctx, ev)
		require.NoError(t, err)
		if i < 2 {
			assert.NotContains(t, last.Decision.MatchedRuleIDs, rule.ID, "event %d", i)
		}
	}
	assert.Contains(t, last.Decision.MatchedRuleIDs, rule.ID)
}

func TestCallerVelocityAttributesAreReplaced(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rule, err := f.engine.CreateRule(ctx, &domain.FraudRule{
		Name: "Velocity burst",
		Type: domain.RuleTypeVelocity,
		Conditions: []domain.RuleCondition{
			{Field: velocity.AttrCount, Operator: domain.OpGreater, Value: 5.0, DataType: domain.DataTypeNumber},
		},
		Action:      domain.ActionAlert,
		ScoreWeight: 25,
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.p.Evaluate(ctx, event(i, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	ev := event(5, base.Add(5*time.Minute))
	ev.Attributes = map[string]any{velocity.AttrCount: 0.0, velocity.AttrAmount: 0.0}
	out, err := f.p.Evaluate(ctx, ev)
	require.NoError(t, err)

	assert.Contains(t, out.Decision.MatchedRuleIDs, rule.ID)
	assert.Equal(t, 6.0, ev.Attributes[velocity.AttrCount])
}
