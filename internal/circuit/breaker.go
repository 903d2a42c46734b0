// Package circuit implements the per-provider circuit breaker described in
// SPEC_FULL.md §4.5, adapted from internal/infra/circuit.go's CircuitBreaker
// with half-open trial counting and immediate re-open on half-open failure.
package circuit

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config parameterizes one breaker instance.
type Config struct {
	FailuresThreshold int
	Window            time.Duration
	OpenDuration      time.Duration
	HalfOpenMaxTrials int
}

// DefaultConfig matches SPEC_FULL.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		FailuresThreshold: 5,
		Window:            60 * time.Second,
		OpenDuration:      120 * time.Second,
		HalfOpenMaxTrials: 2,
	}
}

type providerState struct {
	state         State
	failures      []time.Time
	openedAt      time.Time
	halfOpenUsed  int
	lastReason    string
}

// Registry owns one breaker state machine per provider, created lazily.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	cfgByKey map[string]Config
	states   map[string]*providerState
	now      func() time.Time
}

// NewRegistry creates a registry with a default config applied to any
// provider without an override.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		cfgByKey: map[string]Config{},
		states:   map[string]*providerState{},
		now:      time.Now,
	}
}

// WithProviderConfig overrides the breaker parameters for one provider.
func (r *Registry) WithProviderConfig(provider string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfgByKey[provider] = cfg
}

func (r *Registry) configFor(provider string) Config {
	if c, ok := r.cfgByKey[provider]; ok {
		return c
	}
	return r.cfg
}

func (r *Registry) stateFor(provider string) *providerState {
	s, ok := r.states[provider]
	if !ok {
		s = &providerState{state: Closed}
		r.states[provider] = s
	}
	return s
}

// BeforeCall reports whether a call to provider is currently admitted,
// transitioning open -> half_open when the cooldown has elapsed.
func (r *Registry) BeforeCall(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.configFor(provider)
	s := r.stateFor(provider)
	now := r.now()

	switch s.state {
	case Closed:
		return true
	case Open:
		if now.Sub(s.openedAt) >= cfg.OpenDuration {
			s.state = HalfOpen
			s.halfOpenUsed = 1
			return true
		}
		return false
	case HalfOpen:
		if s.halfOpenUsed >= cfg.HalfOpenMaxTrials {
			return false
		}
		s.halfOpenUsed++
		return true
	default:
		return true
	}
}

// OnSuccess clears failure history and closes the breaker.
func (r *Registry) OnSuccess(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stateFor(provider)
	s.state = Closed
	s.failures = nil
	s.halfOpenUsed = 0
	s.lastReason = ""
}

// OnFailure records a failure. From half_open it reopens immediately
// regardless of threshold; from closed/open it trims the failure window and
// opens once the threshold is reached.
func (r *Registry) OnFailure(provider, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.configFor(provider)
	s := r.stateFor(provider)
	now := r.now()
	s.lastReason = reason

	if s.state == HalfOpen {
		s.state = Open
		s.openedAt = now
		s.failures = nil
		s.halfOpenUsed = 0
		return
	}

	s.failures = append(s.failures, now)
	s.failures = trim(s.failures, now.Add(-cfg.Window))

	if len(s.failures) >= cfg.FailuresThreshold {
		s.state = Open
		s.openedAt = now
	}
}

func trim(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0], events[i:]...)
}

// Snapshot describes one provider's breaker state for observability.
type Snapshot struct {
	Provider             string
	State                State
	OpenSecondsRemaining float64
	RecentFailures       int
	LastReason           string
}

// Snapshot returns the current state for every provider the registry has
// observed.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]Snapshot, 0, len(r.states))
	for provider, s := range r.states {
		cfg := r.configFor(provider)
		remaining := 0.0
		if s.state == Open {
			remaining = (cfg.OpenDuration - now.Sub(s.openedAt)).Seconds()
			if remaining < 0 {
				remaining = 0
			}
		}
		out = append(out, Snapshot{
			Provider:             provider,
			State:                s.state,
			OpenSecondsRemaining: remaining,
			RecentFailures:       len(s.failures),
			LastReason:           s.lastReason,
		})
	}
	return out
}
