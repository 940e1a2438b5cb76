package bitmex

import (
	"net/http"
	"strconv"
	"sync"
)

// rateGovernor is the client-side view of the venue's request quota. Callers
// acquire before sending; response headers correct local drift; a once-per-
// second tick replenishes quota and counts penalty cooldowns down.
//
// Invariants: 0 <= remaining <= limit and penaltySeconds >= 0, under any
// interleaving of TryAcquire, Observe and Tick.
type rateGovernor struct {
	mu             sync.Mutex
	limit          int
	remaining      int
	penaltySeconds int
}

func newRateGovernor(limit int) *rateGovernor {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	return &rateGovernor{limit: limit, remaining: limit}
}

// TryAcquire reserves one request slot. It refuses without mutating while a
// penalty cooldown runs or the quota is spent.
func (g *rateGovernor) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.penaltySeconds > 0 || g.remaining <= 0 {
		return false
	}
	g.remaining--
	return true
}

// Observe folds one response's quota headers into the local view. The server
// value overwrites the optimistic local count; a Retry-After header starts a
// penalty one second longer than asked, as margin against clock skew.
func (g *rateGovernor) Observe(h http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if v := h.Get("x-ratelimit-limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			g.limit = limit
			if g.remaining > g.limit {
				g.remaining = g.limit
			}
		}
	}
	if v := h.Get("x-ratelimit-remaining"); v != "" {
		if remaining, err := strconv.Atoi(v); err == nil {
			g.remaining = clamp(remaining, 0, g.limit)
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if retryAfter, err := strconv.Atoi(v); err == nil && retryAfter >= 0 {
			g.penaltySeconds = retryAfter + 1
		}
	}
}

// Tick advances the governor by one second: the quota replenishes by one up
// to the limit and any penalty counts down toward zero.
func (g *rateGovernor) Tick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.remaining < g.limit {
		g.remaining++
	}
	if g.penaltySeconds > 0 {
		g.penaltySeconds--
	}
}

// Snapshot reports the current quota view for logs and gauges.
func (g *rateGovernor) Snapshot() (limit, remaining, penaltySeconds int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit, g.remaining, g.penaltySeconds
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
