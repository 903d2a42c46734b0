// Package retrypolicy computes retry eligibility and backoff durations for
// the provider router: a fixed [2,5,12]-second schedule with injected-random
// jitter (or the provider's own Retry-After, when given), generalized to
// the router's closed error taxonomy (SPEC_FULL.md §4.2/§9).
package retrypolicy

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/gicagen/resilience-core/internal/errcls"
)

// Policy controls how many times each error class may be retried and the
// jitter/cap applied to the resulting backoff.
type Policy struct {
	MaxRateLimitedRetries int
	MaxTransientRetries   int
	JitterFraction        float64
	CapSeconds            float64
}

// Default returns the policy SPEC_FULL.md §6 lists as defaults.
func Default() Policy {
	return Policy{
		MaxRateLimitedRetries: 2,
		MaxTransientRetries:   1,
		JitterFraction:        0.3,
		CapSeconds:            30,
	}
}

var baseSchedule = [...]float64{2, 5, 12}

// ShouldRetry reports whether another attempt is warranted for the given
// error class at the given zero-indexed attempt number.
func (p Policy) ShouldRetry(class errcls.Class, attempt int) bool {
	switch class {
	case errcls.RateLimited:
		return attempt < p.MaxRateLimitedRetries
	case errcls.Transient:
		return attempt < p.MaxTransientRetries
	default:
		return false
	}
}

// ComputeBackoff returns the wait duration before the next attempt.
// retryAfter, when > 0, is honored exactly (clamped to CapSeconds, no
// jitter) instead of the schedule. rng is consulted for jitter; pass
// rand.Float64 in production and a fixed stub in tests for deterministic
// assertions.
func (p Policy) ComputeBackoff(attempt int, retryAfterSeconds float64, rng func() float64) time.Duration {
	if rng == nil {
		rng = rand.Float64
	}

	if retryAfterSeconds > 0 {
		return time.Duration(math.Max(0.1, math.Min(p.CapSeconds, retryAfterSeconds)) * float64(time.Second))
	}

	idx := attempt
	if idx > len(baseSchedule)-1 {
		idx = len(baseSchedule) - 1
	}
	if idx < 0 {
		idx = 0
	}
	base := baseSchedule[idx]

	jitter := p.JitterFraction
	factor := 1 - jitter + rng()*2*jitter
	total := base * factor

	if total > p.CapSeconds {
		total = p.CapSeconds
	}
	if total < 0.1 {
		total = 0.1
	}
	return time.Duration(total * float64(time.Second))
}

// Sleep waits for d or returns ctx.Err() if the context is cancelled first.
// Sleeps are chunked so cancellation is observed promptly (SPEC_FULL.md §5).
func Sleep(ctx context.Context, d time.Duration) error {
	const chunk = 500 * time.Millisecond
	for d > 0 {
		step := d
		if step > chunk {
			step = chunk
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		d -= step
	}
	return nil
}
