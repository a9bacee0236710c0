package detect_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
)

var base = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func located(lat, lon float64, at time.Time) *domain.Event {
	return &domain.Event{Timestamp: at, Geo: &domain.GeoPoint{Latitude: lat, Longitude: lon}}
}

func TestGeoAnomaly(t *testing.T) {
	// One degree of longitude on the equator is ~111.19 km.
	thousandKm := 1000 / 111.19493

	t.Run("1000 km in 10 minutes is impossible", func(t *testing.T) {
		sig := detect.GeoAnomaly(located(0, 0, base), located(0, thousandKm, base.Add(10*time.Minute)), 900)
		assert.InDelta(t, 1000, sig.DistanceKm, 1)
		assert.InDelta(t, 6000, sig.SpeedKmh, 10)
		assert.True(t, sig.Impossible)
	})

	t.Run("5 km in 10 minutes is plausible", func(t *testing.T) {
		sig := detect.GeoAnomaly(located(0, 0, base), located(0, 5/111.19493, base.Add(10*time.Minute)), 900)
		assert.InDelta(t, 5, sig.DistanceKm, 0.1)
		assert.False(t, sig.Impossible)
	})

	t.Run("zero elapsed time with distance is impossible", func(t *testing.T) {
		sig := detect.GeoAnomaly(located(0, 0, base), located(0, 1, base), 900)
		assert.True(t, sig.Impossible)
	})

	t.Run("gps jitter at the same time is not", func(t *testing.T) {
		// About 20 metres apart.
		sig := detect.GeoAnomaly(located(51.5074, -0.1278, base), located(51.50758, -0.1278, base), 900)
		assert.Greater(t, sig.DistanceKm, 0.0)
		assert.False(t, sig.Impossible)
	})

	t.Run("gps jitter one second apart is not", func(t *testing.T) {
		sig := detect.GeoAnomaly(located(51.5074, -0.1278, base), located(51.5110, -0.1278, base.Add(time.Second)), 900)
		assert.Greater(t, sig.SpeedKmh, 900.0)
		assert.False(t, sig.Impossible)
	})

	t.Run("same place same time is not", func(t *testing.T) {
		sig := detect.GeoAnomaly(located(10, 10, base), located(10, 10, base), 900)
		assert.False(t, sig.Impossible)
	})

	t.Run("missing location yields zero signal", func(t *testing.T) {
		sig := detect.GeoAnomaly(&domain.Event{Timestamp: base}, located(0, 1, base), 900)
		assert.Equal(t, detect.GeoSignal{}, sig)
	})

	t.Run("signal carries weight only when impossible", func(t *testing.T) {
		sig := detect.GeoAnomaly(located(0, 0, base), located(0, thousandKm, base.Add(10*time.Minute)), 0).Signal(35)
		assert.Equal(t, 35.0, sig.Weight)
		assert.Equal(t, domain.SignalGeo, sig.Kind)
	})
}

func TestHaversineKnownDistance(t *testing.T) {
	// London to Paris is roughly 344 km.
	d := detect.HaversineKm(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, 344, d, 3)
}

func TestVelocity(t *testing.T) {
	history := make([]*domain.Event, 0, 7)
	for i := 0; i < 6; i++ {
		history = append(history, &domain.Event{CustomerID: "c1", Amount: 10, Timestamp: base.Add(-time.Duration(i*5) * time.Minute)})
	}
	// Outside the window and for another customer.
	history = append(history,
		&domain.Event{CustomerID: "c1", Amount: 10, Timestamp: base.Add(-2 * time.Hour)},
		&domain.Event{CustomerID: "c2", Amount: 10, Timestamp: base},
	)

	sig := detect.Velocity(base, history, detect.VelocityConfig{
		Window: time.Hour, MaxCount: 5, EntityKey: detect.EntityCustomer, EntityID: "c1",
	})
	assert.Equal(t, 6, sig.Count)
	assert.Equal(t, 60.0, sig.Amount)
	assert.True(t, sig.Triggered)
	assert.InDelta(t, 20.0, sig.ExcessPercentage, 1e-9)

	t.Run("within limit", func(t *testing.T) {
		sig := detect.Velocity(base, history[:5], detect.VelocityConfig{Window: time.Hour, MaxCount: 5})
		assert.False(t, sig.Triggered)
		assert.Zero(t, sig.ExcessPercentage)
	})

	t.Run("amount dimension breaching most wins", func(t *testing.T) {
		sig := detect.Velocity(base, history[:6], detect.VelocityConfig{Window: time.Hour, MaxCount: 5, MaxAmount: 30})
		assert.True(t, sig.Triggered)
		assert.InDelta(t, 100.0, sig.ExcessPercentage, 1e-9)
	})

	t.Run("zero window", func(t *testing.T) {
		assert.Equal(t, detect.VelocitySignal{}, detect.Velocity(base, history, detect.VelocityConfig{}))
	})
}

func TestDeviation(t *testing.T) {
	w := detect.DefaultDeviationWeights()
	pattern := &domain.BehaviorPattern{
		CustomerID:     "c1",
		TypicalHours:   []int{9, 10, 11, 14},
		KnownDevices:   []string{"dev-1"},
		KnownLocations: []string{"GB/london"},
		AvgAmount:      100,
	}

	t.Run("matching event has no deviation", func(t *testing.T) {
		ev := &domain.Event{DeviceID: "dev-1", Amount: 120, Timestamp: base, Geo: &domain.GeoPoint{Country: "gb", City: "London"}}
		sig := detect.Deviation(ev, pattern, w)
		assert.Zero(t, sig.Score)
		assert.Empty(t, sig.Signals())
	})

	t.Run("every deviation", func(t *testing.T) {
		ev := &domain.Event{DeviceID: "dev-9", Amount: 400, Timestamp: base.Add(-11 * time.Hour), Geo: &domain.GeoPoint{Country: "BR", City: "Rio"}}
		sig := detect.Deviation(ev, pattern, w)
		assert.True(t, sig.NewDevice)
		assert.True(t, sig.UnusualHour)
		assert.True(t, sig.NewLocation)
		assert.True(t, sig.AmountSpike)
		assert.Equal(t, 50.0, sig.Score)
		assert.Len(t, sig.Signals(), 4)
		assert.Len(t, sig.Anomalies(), 4)
	})

	t.Run("score is bounded", func(t *testing.T) {
		heavy := detect.DeviationWeights{NewDevice: 80, UnusualHour: 80, SpikeMultiplier: 3}
		ev := &domain.Event{DeviceID: "dev-9", Timestamp: base.Add(-11 * time.Hour)}
		assert.Equal(t, 100.0, detect.Deviation(ev, pattern, heavy).Score)
	})

	t.Run("nil pattern only flags a new device", func(t *testing.T) {
		sig := detect.Deviation(&domain.Event{DeviceID: "dev-1", Amount: 1e6, Timestamp: base}, nil, w)
		assert.True(t, sig.NewDevice)
		assert.False(t, sig.AmountSpike)
		assert.Equal(t, 15.0, sig.Score)

		none := detect.Deviation(&domain.Event{Amount: 5, Timestamp: base}, nil, w)
		assert.Zero(t, none.Score)
	})
}

func TestHighAmount(t *testing.T) {
	sig := detect.HighAmount(&domain.Event{Amount: 15000}, 10000)
	require.True(t, sig.Triggered)
	assert.Equal(t, 25.0, sig.Signal(25).Weight)

	assert.False(t, detect.HighAmount(&domain.Event{Amount: 10000}, 10000).Triggered)
	assert.Equal(t, detect.DefaultHighAmountThreshold, detect.HighAmount(&domain.Event{}, 0).Threshold)
	assert.Zero(t, detect.HighAmount(&domain.Event{Amount: 5}, 0).Signal(25).Weight)
}
