// Package coordinator gates concurrent provider calls: provider-wide
// concurrency, optional per-tenant concurrency, and provider RPM, acquired in
// that order and released in reverse (SPEC_FULL.md §4.4).
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gicagen/resilience-core/internal/ratelimit"
)

// Limits configures one provider's resource gates.
type Limits struct {
	Concurrency int
	RPM         int
	RPMWindow   time.Duration
}

// Coordinator owns the semaphores, tenant semaphores, and rate limiters for
// every provider it has seen. It is safe for concurrent use.
type Coordinator struct {
	mu               sync.Mutex
	defaultLimits    Limits
	providerLimits   map[string]Limits
	providerSem      map[string]*semaphore
	tenantSem        map[string]*semaphore // keyed by provider+"/"+tenant
	limiters         map[string]*ratelimit.Limiter
	maxInflightTenant int
}

// New creates a coordinator. defaultLimits apply to any provider without an
// explicit entry in providerLimits. maxInflightPerTenant <= 0 disables the
// tenant gate, matching SPEC_FULL.md §4.4's "optional" tenant semaphore.
func New(defaultLimits Limits, providerLimits map[string]Limits, maxInflightPerTenant int) *Coordinator {
	if providerLimits == nil {
		providerLimits = map[string]Limits{}
	}
	return &Coordinator{
		defaultLimits:     defaultLimits,
		providerLimits:    providerLimits,
		providerSem:       map[string]*semaphore{},
		tenantSem:         map[string]*semaphore{},
		limiters:          map[string]*ratelimit.Limiter{},
		maxInflightTenant: maxInflightPerTenant,
	}
}

func (c *Coordinator) limitsFor(provider string) Limits {
	if l, ok := c.providerLimits[provider]; ok {
		return l
	}
	return c.defaultLimits
}

// lease represents the held gates for one in-flight call; Release must be
// called exactly once, in any order of the caller's choosing (it releases
// internally in reverse acquisition order).
type lease struct {
	providerSem *semaphore
	tenantSem   *semaphore
}

// Acquire blocks until the provider concurrency gate, the optional tenant
// gate, and the provider's RPM limiter all admit the call, or ctx is
// cancelled. The returned release func must be deferred by the caller.
func (c *Coordinator) Acquire(ctx context.Context, provider, tenant string) (release func(), err error) {
	limits := c.limitsFor(provider)

	providerSem := c.getProviderSemaphore(provider, limits)
	if err := providerSem.acquire(ctx); err != nil {
		return nil, fmt.Errorf("provider concurrency: %w", err)
	}

	var tenantSem *semaphore
	if c.maxInflightTenant > 0 && tenant != "" {
		tenantSem = c.getTenantSemaphore(provider, tenant)
		if err := tenantSem.acquire(ctx); err != nil {
			providerSem.release()
			return nil, fmt.Errorf("tenant concurrency: %w", err)
		}
	}

	limiter := c.getLimiter(provider, limits)
	if err := limiter.Acquire(ctx); err != nil {
		if tenantSem != nil {
			tenantSem.release()
		}
		providerSem.release()
		return nil, fmt.Errorf("provider rate limit: %w", err)
	}

	l := &lease{providerSem: providerSem, tenantSem: tenantSem}
	return l.Release, nil
}

func (l *lease) Release() {
	if l.tenantSem != nil {
		l.tenantSem.release()
	}
	l.providerSem.release()
}

func (c *Coordinator) getProviderSemaphore(provider string, limits Limits) *semaphore {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.providerSem[provider]; ok {
		return s
	}
	n := limits.Concurrency
	if n <= 0 {
		n = 2
	}
	s := newSemaphore(n)
	c.providerSem[provider] = s
	return s
}

func (c *Coordinator) getTenantSemaphore(provider, tenant string) *semaphore {
	key := provider + "/" + tenant
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.tenantSem[key]; ok {
		return s
	}
	s := newSemaphore(c.maxInflightTenant)
	c.tenantSem[key] = s
	return s
}

func (c *Coordinator) getLimiter(provider string, limits Limits) *ratelimit.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[provider]; ok {
		return l
	}
	rpm := limits.RPM
	if rpm <= 0 {
		rpm = 60 // SPEC_FULL.md §6 / §9: intentional default, not a bug.
	}
	window := limits.RPMWindow
	if window <= 0 {
		window = time.Minute
	}
	l := ratelimit.New(rpm, window)
	c.limiters[provider] = l
	return l
}

// Snapshot describes one provider's current gate occupancy for the
// providers-status payload (SPEC_FULL.md §6).
type Snapshot struct {
	Provider         string
	// QueueDepth is the number of provider-concurrency permits currently
	// held; callers waiting for a permit are not counted.
	QueueDepth       int64
	ConcurrencyLimit int64
	RPMUsage         int
	RPMLimit         int
}

// Snapshot returns the current occupancy for every provider the coordinator
// has observed.
func (c *Coordinator) Snapshot() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, 0, len(c.providerSem))
	for provider, sem := range c.providerSem {
		depth, limit := 0, 0
		if l, ok := c.limiters[provider]; ok {
			depth, limit = l.Usage()
		}
		out = append(out, Snapshot{
			Provider:         provider,
			QueueDepth:       sem.inUse(),
			ConcurrencyLimit: sem.max,
			RPMUsage:         depth,
			RPMLimit:         limit,
		})
	}
	return out
}
