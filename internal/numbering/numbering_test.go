package numbering_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/numbering"
)

func TestNextWithCache(t *testing.T) {
	ctx := context.Background()
	shared := cache.NewLRUCache(100)
	day := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	a := numbering.New("FA", shared, 0)
	a.SetClock(func() time.Time { return day })
	b := numbering.New("FA", shared, 0)
	b.SetClock(func() time.Time { return day })

	n1, err := a.Next(ctx)
	require.NoError(t, err)
	n2, err := b.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, "FA-20260302-000001", n1)
	assert.Equal(t, "FA-20260302-000002", n2, "allocators sharing a cache share the sequence")

	fc := numbering.New("FC", shared, 0)
	fc.SetClock(func() time.Time { return day })
	n3, err := fc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "FC-20260302-000001", n3)
}

func TestNextRestartsEachDay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	a := numbering.New("FA", nil, 0)
	a.SetClock(func() time.Time { return now })

	first, err := a.Next(ctx)
	require.NoError(t, err)
	second, err := a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "FA-20260302-000001", first)
	assert.Equal(t, "FA-20260302-000002", second)

	now = now.Add(2 * time.Minute)
	next, err := a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "FA-20260303-000001", next)
}

func TestNextUsesUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	a := numbering.New("FC", nil, 0)
	a.SetClock(func() time.Time { return time.Date(2026, 3, 3, 5, 0, 0, 0, loc) })

	n, err := a.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FC-20260302-000001", n)
}

func TestNextConcurrentUnique(t *testing.T) {
	a := numbering.New("FA", cache.NewLRUCache(10), time.Hour)

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := a.Next(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 32)
}

func TestNextResumesAboveStoredNumbers(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	var stems []string
	floor := func(_ context.Context, stem string) (string, error) {
		stems = append(stems, stem)
		return "FA-20260302-000007", nil
	}

	// A fresh cache stands in for a restarted process.
	a := numbering.New("FA", cache.NewLRUCache(10), 0)
	a.SetClock(func() time.Time { return day })
	a.SetFloor(floor)

	first, err := a.Next(ctx)
	require.NoError(t, err)
	second, err := a.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, "FA-20260302-000008", first)
	assert.Equal(t, "FA-20260302-000009", second)
	assert.Equal(t, []string{"FA-20260302-"}, stems, "floor is read once per day")
}

func TestNextEmptyFloor(t *testing.T) {
	a := numbering.New("FC", nil, 0)
	a.SetClock(func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) })
	a.SetFloor(func(context.Context, string) (string, error) { return "", nil })

	n, err := a.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FC-20260302-000001", n)
}

func TestResyncRereadsFloor(t *testing.T) {
	ctx := context.Background()
	stored := ""
	a := numbering.New("FA", nil, 0)
	a.SetClock(func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) })
	a.SetFloor(func(context.Context, string) (string, error) { return stored, nil })

	n, err := a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "FA-20260302-000001", n)

	// Another writer stored higher numbers behind our back.
	stored = "FA-20260302-000040"
	n, err = a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "FA-20260302-000002", n, "floor is cached until Resync")

	a.Resync()
	n, err = a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "FA-20260302-000041", n)

	stored = ""
	a.Resync()
	n, err = a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "FA-20260302-000042", n, "the offset never moves backwards")
}

func TestFloorErrorIsReturned(t *testing.T) {
	a := numbering.New("FA", nil, 0)
	a.SetFloor(func(context.Context, string) (string, error) { return "", errors.New("db down") })

	_, err := a.Next(context.Background())
	assert.ErrorContains(t, err, "db down")
}
