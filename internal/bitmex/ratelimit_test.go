package bitmex

import (
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGovernorSpendsAndReplenishes(t *testing.T) {
	g := newRateGovernor(3)

	require.True(t, g.TryAcquire())
	require.True(t, g.TryAcquire())
	require.True(t, g.TryAcquire())
	require.False(t, g.TryAcquire())

	g.Tick()
	require.True(t, g.TryAcquire())
	require.False(t, g.TryAcquire())
}

func TestGovernorReplenishNeverExceedsLimit(t *testing.T) {
	g := newRateGovernor(2)
	for i := 0; i < 5; i++ {
		g.Tick()
	}
	_, remaining, _ := g.Snapshot()
	require.Equal(t, 2, remaining)
}

func TestGovernorObserveOverridesLocalCount(t *testing.T) {
	g := newRateGovernor(60)

	h := http.Header{}
	h.Set("x-ratelimit-remaining", "5")
	g.Observe(h)
	_, remaining, _ := g.Snapshot()
	require.Equal(t, 5, remaining)

	h.Set("x-ratelimit-remaining", "999")
	g.Observe(h)
	_, remaining, _ = g.Snapshot()
	require.Equal(t, 60, remaining)

	h.Set("x-ratelimit-remaining", "-3")
	g.Observe(h)
	_, remaining, _ = g.Snapshot()
	require.Equal(t, 0, remaining)
}

func TestGovernorIgnoresGarbageHeaders(t *testing.T) {
	g := newRateGovernor(60)
	h := http.Header{}
	h.Set("x-ratelimit-remaining", "soon")
	h.Set("x-ratelimit-limit", "-1")
	h.Set("Retry-After", "later")
	g.Observe(h)

	limit, remaining, penalty := g.Snapshot()
	require.Equal(t, 60, limit)
	require.Equal(t, 60, remaining)
	require.Equal(t, 0, penalty)
}

func TestGovernorRetryAfterStartsPenalty(t *testing.T) {
	g := newRateGovernor(60)

	h := http.Header{}
	h.Set("Retry-After", "2")
	g.Observe(h)

	_, _, penalty := g.Snapshot()
	require.Equal(t, 3, penalty)
	require.False(t, g.TryAcquire())

	g.Tick()
	g.Tick()
	require.False(t, g.TryAcquire())

	g.Tick()
	require.True(t, g.TryAcquire())
}

func TestGovernorLimitHeaderRebasesQuota(t *testing.T) {
	g := newRateGovernor(60)

	h := http.Header{}
	h.Set("x-ratelimit-limit", "10")
	g.Observe(h)

	limit, remaining, _ := g.Snapshot()
	require.Equal(t, 10, limit)
	require.Equal(t, 10, remaining)
}

func TestGovernorConcurrentAcquiresNeverOvershootQuota(t *testing.T) {
	const (
		initial  = 32
		workers  = 8
		attempts = 500
		ticks    = 64
	)
	g := newRateGovernor(initial)

	var (
		acquired   atomic.Int64
		violations atomic.Int64
		wg         sync.WaitGroup
	)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < attempts; j++ {
				if g.TryAcquire() {
					acquired.Add(1)
				}
				limit, remaining, penalty := g.Snapshot()
				if remaining < 0 || remaining > limit || penalty < 0 {
					violations.Add(1)
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		correction := http.Header{}
		correction.Set("x-ratelimit-remaining", "0")
		for j := 0; j < ticks; j++ {
			g.Tick()
			if j%16 == 0 {
				g.Observe(correction)
			}
		}
	}()

	close(start)
	wg.Wait()

	// Every successful acquire spends either initial stock or one tick's
	// replenishment; the server corrections in this script only shrink the
	// pool. More acquisitions than initial+ticks means two callers spent the
	// same slot.
	require.Zero(t, violations.Load())
	require.LessOrEqual(t, acquired.Load(), int64(initial+ticks))

	limit, remaining, penalty := g.Snapshot()
	require.Equal(t, initial, limit)
	require.GreaterOrEqual(t, remaining, 0)
	require.LessOrEqual(t, remaining, limit)
	require.Zero(t, penalty)
}

func TestGovernorDefaultsNonPositiveLimit(t *testing.T) {
	g := newRateGovernor(0)
	limit, remaining, _ := g.Snapshot()
	require.Equal(t, defaultRateLimit, limit)
	require.Equal(t, defaultRateLimit, remaining)
}
