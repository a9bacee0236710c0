// Package numbering allocates human-readable, per-day sequential numbers
// such as FA-20260302-000017.
package numbering

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Floor reports the highest number already stored under stem
// (e.g. "FA-20260302-"), or "" when there is none.
type Floor func(ctx context.Context, stem string) (string, error)

// Allocator hands out numbers of the form PREFIX-YYYYMMDD-NNNNNN.
// With a cache the sequence is shared by every process using it;
// without one it is local to the Allocator.
//
// With a Floor the sequence resumes above the numbers already stored, so a
// restart that loses the counter does not hand out used numbers again.
type Allocator struct {
	prefix string
	cache  domain.Cache
	window time.Duration
	now    func() time.Time
	floor  Floor

	mu      sync.Mutex
	local   map[string]int64
	offsets map[string]int64
	stale   bool
}

// New creates an allocator. window bounds how long a day's counter is kept.
func New(prefix string, cache domain.Cache, window time.Duration) *Allocator {
	if window <= 0 {
		window = 48 * time.Hour
	}
	return &Allocator{
		prefix:  prefix,
		cache:   cache,
		window:  window,
		now:     time.Now,
		local:   make(map[string]int64),
		offsets: make(map[string]int64),
	}
}

// SetClock overrides the allocator clock.
func (a *Allocator) SetClock(now func() time.Time) {
	a.now = now
}

// SetFloor makes the allocator skip numbers already stored.
func (a *Allocator) SetFloor(f Floor) {
	a.floor = f
}

// Resync forces the next allocation to re-read the floor. Call it after
// a store rejected a number as taken.
func (a *Allocator) Resync() {
	a.mu.Lock()
	a.stale = true
	a.mu.Unlock()
}

// Next returns the next number for the current UTC day.
func (a *Allocator) Next(ctx context.Context) (string, error) {
	day := a.now().UTC().Format("20060102")

	n, err := a.count(ctx, day)
	if err != nil {
		return "", err
	}
	if a.floor != nil {
		off, err := a.offset(ctx, day, n)
		if err != nil {
			return "", err
		}
		n += off
	}
	return fmt.Sprintf("%s-%s-%06d", a.prefix, day, n), nil
}

func (a *Allocator) count(ctx context.Context, day string) (int64, error) {
	if a.cache != nil {
		n, err := a.cache.IncrementCounter(ctx, "seq:"+a.prefix+":"+day, a.window)
		if err != nil {
			return 0, fmt.Errorf("allocate %s number: %w", a.prefix, err)
		}
		return n, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.local {
		if k != day {
			delete(a.local, k)
		}
	}
	a.local[day]++
	return a.local[day], nil
}

// offset returns how far the counter must be shifted to clear the stored
// numbers of day. It is read once per day and again after Resync.
func (a *Allocator) offset(ctx context.Context, day string, n int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	off, ok := a.offsets[day]
	if ok && !a.stale {
		return off, nil
	}

	stem := a.prefix + "-" + day + "-"
	hi, err := a.floor(ctx, stem)
	if err != nil {
		return 0, fmt.Errorf("read %s floor: %w", a.prefix, err)
	}
	if hi != "" {
		seq, err := strconv.ParseInt(strings.TrimPrefix(hi, stem), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse stored number %q: %w", hi, err)
		}
		if seq >= n+off {
			off = seq - n + 1
		}
	}

	for k := range a.offsets {
		if k != day {
			delete(a.offsets, k)
		}
	}
	a.offsets[day] = off
	a.stale = false
	return off, nil
}
