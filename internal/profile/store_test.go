package profile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/profile"
	"github.com/opensource-finance/harrier/internal/repository"
)

type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deletes int
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.deletes++
	return nil
}

func (c *mapCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, errors.New("not supported")
}

func (c *mapCache) Ping(ctx context.Context) error { return nil }
func (c *mapCache) Close() error                   { return nil }

type stubLookup struct {
	profile *domain.CustomerRiskProfile
	err     error
	calls   int
}

func (l *stubLookup) RiskProfile(ctx context.Context, customerID string) (*domain.CustomerRiskProfile, error) {
	l.calls++
	return l.profile, l.err
}

var clock = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

func event(id string, amount float64, device string, at time.Time) *domain.Event {
	return &domain.Event{
		ID:            id,
		TransactionID: "tx-" + id,
		CustomerID:    "cust-1",
		Type:          "payment",
		DeviceID:      device,
		Amount:        amount,
		Timestamp:     at,
	}
}

func TestRecordBuildsPattern(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	store := profile.NewStore(repo, profile.WithClock(clock))

	at := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	_, err := store.Record(ctx, event("e1", 100, "dev-1", at), nil)
	require.NoError(t, err)

	ev := event("e2", 300, "dev-2", at.Add(time.Hour))
	ev.Geo = &domain.GeoPoint{Latitude: 52.52, Longitude: 13.40, Country: "de", City: "Berlin"}
	p, err := store.Record(ctx, ev, []domain.BehaviorAnomaly{{Type: "new_device", Score: 15}})
	require.NoError(t, err)

	assert.Equal(t, 2, p.EventCount)
	assert.InDelta(t, 200.0, p.AvgAmount, 1e-9)
	assert.ElementsMatch(t, []int{14, 15}, p.TypicalHours)
	assert.Equal(t, []int{int(time.Monday)}, p.TypicalDays)
	assert.ElementsMatch(t, []string{"dev-1", "dev-2"}, p.KnownDevices)
	assert.Equal(t, []string{"DE/berlin"}, p.KnownLocations)
	require.NotNil(t, p.LastLocation)
	assert.Equal(t, "de", p.LastLocation.Country)
	assert.InDelta(t, 2.0/50, p.Confidence, 1e-9)

	history, err := store.History(ctx, "cust-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "e2", history[0].EventID)
	assert.Equal(t, "DE/berlin", history[0].Location)
	assert.Len(t, history[0].Anomalies, 1)
}

func TestRecordCapsSetsAndConfidence(t *testing.T) {
	ctx := context.Background()
	store := profile.NewStore(repository.NewMemory(), profile.WithClock(clock))

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	var p *domain.BehaviorPattern
	var err error
	for i := 0; i < 60; i++ {
		dev := "dev-" + string(rune('A'+i%26)) + string(rune('a'+i/26))
		p, err = store.Record(ctx, event("e", 10, dev, start.Add(time.Duration(i)*time.Hour)), nil)
		require.NoError(t, err)
	}

	assert.Len(t, p.KnownDevices, 20)
	assert.LessOrEqual(t, len(p.TypicalHours), 20)
	assert.Equal(t, 1.0, p.Confidence)
	assert.Equal(t, 60, p.EventCount)
}

func TestRecordRequiresCustomer(t *testing.T) {
	store := profile.NewStore(repository.NewMemory())
	_, err := store.Record(context.Background(), &domain.Event{ID: "x"}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	cache := newMapCache()
	store := profile.NewStore(repo, profile.WithCache(cache, time.Minute), profile.WithClock(clock))

	p, err := store.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = store.Record(ctx, event("e1", 50, "dev-1", clock()), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.deletes)

	p, err = store.Get(ctx, "cust-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Contains(t, cache.data, "pattern:cust-1")

	// Served from cache even after the backing row changes.
	require.NoError(t, repo.UpsertPattern(ctx, &domain.BehaviorPattern{CustomerID: "cust-1", EventCount: 99}))
	cached, err := store.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cached.EventCount)
}

func TestBootstrapFromLookup(t *testing.T) {
	ctx := context.Background()
	lookup := &stubLookup{profile: &domain.CustomerRiskProfile{
		CustomerID:     "cust-1",
		RiskLevel:      "low",
		TypicalHours:   []int{9, 10, 11},
		KnownDevices:   []string{"dev-home"},
		KnownLocations: []string{"US/austin"},
		AvgAmount:      80,
	}}
	store := profile.NewStore(repository.NewMemory(), profile.WithLookup(lookup), profile.WithClock(clock))

	p, err := store.Bootstrap(ctx, "cust-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.KnowsDevice("dev-home"))
	assert.True(t, p.KnowsLocation("US/austin"))
	assert.Equal(t, 0, p.EventCount)

	_, err = store.Bootstrap(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 1, lookup.calls)
}

func TestBootstrapLookupFailure(t *testing.T) {
	lookup := &stubLookup{err: errors.New("directory down")}
	store := profile.NewStore(repository.NewMemory(), profile.WithLookup(lookup))

	p, err := store.Bootstrap(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestBootstrapWithoutLookup(t *testing.T) {
	store := profile.NewStore(repository.NewMemory())
	p, err := store.Bootstrap(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestApplyOutcome(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	store := profile.NewStore(repo, profile.WithClock(clock))

	require.NoError(t, repo.UpsertPattern(ctx, &domain.BehaviorPattern{CustomerID: "cust-1", Confidence: 0.8}))

	require.NoError(t, store.ApplyOutcome(ctx, "cust-1", domain.OutcomeFraudConfirmed))
	p, _ := repo.GetPattern(ctx, "cust-1")
	assert.InDelta(t, 0.4, p.Confidence, 1e-9)

	require.NoError(t, store.ApplyOutcome(ctx, "cust-1", domain.OutcomeNoFraud))
	p, _ = repo.GetPattern(ctx, "cust-1")
	assert.InDelta(t, 0.5, p.Confidence, 1e-9)

	require.NoError(t, store.ApplyOutcome(ctx, "cust-1", domain.OutcomeInconclusive))
	p, _ = repo.GetPattern(ctx, "cust-1")
	assert.InDelta(t, 0.5, p.Confidence, 1e-9)

	assert.NoError(t, store.ApplyOutcome(ctx, "nobody", domain.OutcomeFraudConfirmed))
}
