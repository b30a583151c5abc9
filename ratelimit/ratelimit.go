// Package ratelimit provides process-wide admission counters used by the
// Coordinator's admission path (spec.md §4.H, §5 "Rate limiter:
// process-wide counter with atomic acquire/release"), and a token-bucket
// Limiter that nothing in this module uses.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Counter is an atomic-acquire/release bound on concurrent work, used for
// the global and per-tenant concurrency caps.
type Counter struct {
	mu       sync.Mutex
	limit    int
	inflight int
}

// NewCounter builds a Counter bounded to limit concurrent holders. limit <=
// 0 means unbounded.
func NewCounter(limit int) *Counter {
	return &Counter{limit: limit}
}

// TryAcquire reserves one slot if the counter is under its limit. Release
// must be called exactly once per successful TryAcquire.
func (c *Counter) TryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && c.inflight >= c.limit {
		return false
	}
	c.inflight++
	return true
}

// Release frees one previously-acquired slot.
func (c *Counter) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight > 0 {
		c.inflight--
	}
}

// Inflight reports the current number of held slots.
func (c *Counter) Inflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// TenantCounters lazily creates one Counter per tenant, each bounded to the
// same per-tenant limit.
type TenantCounters struct {
	mu    sync.Mutex
	limit int
	byKey map[string]*Counter
}

// NewTenantCounters builds a TenantCounters bounding each tenant to limit
// concurrent runs.
func NewTenantCounters(limit int) *TenantCounters {
	return &TenantCounters{limit: limit, byKey: make(map[string]*Counter)}
}

// For returns the Counter for tenantID, creating it on first use.
func (t *TenantCounters) For(tenantID string) *Counter {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byKey[tenantID]
	if !ok {
		c = NewCounter(t.limit)
		t.byKey[tenantID] = c
	}
	return c
}

// Limiter wraps golang.org/x/time/rate for request-rate limiting (as
// opposed to concurrency caps), e.g. bounding how often a given tenant may
// start new runs.
type Limiter struct {
	*rate.Limiter
}

// NewLimiter builds a Limiter allowing ratePerSecond sustained requests
// with burst headroom.
func NewLimiter(ratePerSecond float64, burst int) *Limiter {
	return &Limiter{Limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}
