// Package metrics tracks per-provider health telemetry used by the router's
// fallback-skip logic and the operator status surface (SPEC_FULL.md §4.7).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Health is the derived provider health used in status payloads.
type Health string

const (
	Unknown     Health = "UNKNOWN"
	OK          Health = "OK"
	Degraded    Health = "DEGRADED"
	RateLimited Health = "RATE_LIMITED"
	Exhausted   Health = "EXHAUSTED"
)

// ProbeResult is the last liveness check recorded for a provider.
type ProbeResult struct {
	Status    string
	Detail    string
	RetryAfter time.Duration
	At        time.Time
}

type errorEvent struct {
	at   time.Time
	kind string
}

type providerState struct {
	ema             float64
	emaSet          bool
	exhausted       bool
	rateLimitedUntil time.Time
	successWindow   []time.Time
	errorWindow     []errorEvent
	monthKey        string
	monthTokensIn   int64
	monthTokensOut  int64
	lastProbe       *ProbeResult
	probedOnce      bool
}

// Store owns the in-memory state for every provider it has observed, plus
// the Prometheus collectors that mirror it.
type Store struct {
	mu     sync.Mutex
	states map[string]*providerState
	now    func() time.Time

	requestsTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latencyEMA    *prometheus.GaugeVec
	exhaustedGauge *prometheus.GaugeVec
	rateLimitedGauge *prometheus.GaugeVec
}

// NewStore creates a metrics store. Collectors are registered against reg if
// non-nil; pass prometheus.NewRegistry() in production and nil in tests that
// don't care about Prometheus export.
func NewStore(reg prometheus.Registerer) *Store {
	s := &Store{
		states: map[string]*providerState{},
		now:    time.Now,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_provider_requests_total",
			Help: "Total generate calls per provider, by outcome.",
		}, []string{"provider", "outcome"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_provider_errors_total",
			Help: "Total provider errors, by kind.",
		}, []string{"provider", "kind"}),
		latencyEMA: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llm_provider_latency_ema_ms",
			Help: "Exponential moving average latency per provider, in milliseconds.",
		}, []string{"provider"}),
		exhaustedGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llm_provider_exhausted",
			Help: "1 if the provider is currently marked exhausted.",
		}, []string{"provider"}),
		rateLimitedGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llm_provider_rate_limited",
			Help: "1 if the provider is currently rate limited.",
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(s.requestsTotal, s.errorsTotal, s.latencyEMA, s.exhaustedGauge, s.rateLimitedGauge)
	}
	return s
}

func (s *Store) stateFor(provider string) *providerState {
	st, ok := s.states[provider]
	if !ok {
		st = &providerState{}
		s.states[provider] = st
	}
	return st
}

const successWindowSpan = time.Minute
const timeoutWindowSpan = 15 * time.Minute

// RecordSuccess updates success counters, EMA latency, and monthly token
// usage for provider.
func (s *Store) RecordSuccess(provider string, latencyMs float64, promptChars, responseChars int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(provider)
	now := s.now()
	st.successWindow = append(st.successWindow, now)
	st.successWindow = trimBefore(st.successWindow, now.Add(-successWindowSpan))
	st.updateEMA(latencyMs, 0.3)
	st.exhausted = false
	st.rollMonth(now)
	st.monthTokensIn += int64(ceilDiv4(promptChars))
	st.monthTokensOut += int64(ceilDiv4(responseChars))

	s.requestsTotal.WithLabelValues(provider, "success").Inc()
	s.latencyEMA.WithLabelValues(provider).Set(st.ema)
	s.exhaustedGauge.WithLabelValues(provider).Set(0)
}

// RecordError records a generic provider failure of the given kind.
func (s *Store) RecordError(provider, kind string, latencyMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(provider)
	now := s.now()
	st.errorWindow = append(st.errorWindow, errorEvent{at: now, kind: kind})
	st.errorWindow = trimErrorsBefore(st.errorWindow, now.Add(-timeoutWindowSpan))
	if latencyMs > 0 {
		st.updateEMA(latencyMs, 0.2)
	}

	s.errorsTotal.WithLabelValues(provider, kind).Inc()
	s.requestsTotal.WithLabelValues(provider, "error").Inc()
	if st.emaSet {
		s.latencyEMA.WithLabelValues(provider).Set(st.ema)
	}
}

// RecordRateLimited marks provider as rate limited until now + max(1s,
// retryAfter) and records a rate_limit error event.
func (s *Store) RecordRateLimited(provider string, retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(provider)
	now := s.now()
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	st.rateLimitedUntil = now.Add(retryAfter)
	st.errorWindow = append(st.errorWindow, errorEvent{at: now, kind: "rate_limit"})

	s.errorsTotal.WithLabelValues(provider, "rate_limit").Inc()
	s.rateLimitedGauge.WithLabelValues(provider).Set(1)
}

// RecordExhausted marks provider exhausted.
func (s *Store) RecordExhausted(provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(provider)
	st.exhausted = true
	st.errorWindow = append(st.errorWindow, errorEvent{at: s.now(), kind: "exhausted"})

	s.errorsTotal.WithLabelValues(provider, "exhausted").Inc()
	s.exhaustedGauge.WithLabelValues(provider).Set(1)
}

// RecordProbe stores the last probe outcome for provider. It is idempotent
// with respect to double counting: calling it twice for the same probe does
// not inflate request/error totals, only the stored snapshot changes.
func (s *Store) RecordProbe(provider, status, detail string, retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(provider)
	now := s.now()
	st.lastProbe = &ProbeResult{Status: status, Detail: detail, RetryAfter: retryAfter, At: now}
	st.probedOnce = true

	switch status {
	case "ok":
		st.exhausted = false
	case "rate_limited":
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		st.rateLimitedUntil = now.Add(retryAfter)
	case "exhausted":
		st.exhausted = true
	}
}

// Snapshot is the health payload returned for one provider.
type Snapshot struct {
	Provider           string
	Health             Health
	EMALatencyMs        float64
	MonthTokensIn       int64
	MonthTokensOut      int64
	LastProbe           *ProbeResult
	RecentErrorCount    int
	RecentSuccessCount  int
}

// PayloadForProvider derives the health snapshot for provider. configured
// must come from the provider's IsConfigured(), since the metrics store
// itself has no notion of credentials.
func (s *Store) PayloadForProvider(provider string, configured bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[provider]
	if !ok {
		st = &providerState{}
	}
	now := s.now()

	health := deriveHealth(st, configured, now)

	return Snapshot{
		Provider:           provider,
		Health:             health,
		EMALatencyMs:       st.ema,
		MonthTokensIn:      st.monthTokensIn,
		MonthTokensOut:     st.monthTokensOut,
		LastProbe:          st.lastProbe,
		RecentErrorCount:   len(trimErrorsBefore(append([]errorEvent{}, st.errorWindow...), now.Add(-timeoutWindowSpan))),
		RecentSuccessCount: len(trimBefore(append([]time.Time{}, st.successWindow...), now.Add(-successWindowSpan))),
	}
}

func deriveHealth(st *providerState, configured bool, now time.Time) Health {
	if !configured {
		return Unknown
	}
	if st.exhausted {
		return Exhausted
	}
	if st.rateLimitedUntil.After(now) {
		return RateLimited
	}
	if countKind(st.errorWindow, "timeout", now.Add(-timeoutWindowSpan)) >= 3 {
		return Degraded
	}
	return OK
}

func countKind(events []errorEvent, kind string, cutoff time.Time) int {
	n := 0
	for _, e := range events {
		if e.kind == kind && e.at.After(cutoff) {
			n++
		}
	}
	return n
}

func (st *providerState) updateEMA(latencyMs, weight float64) {
	if !st.emaSet {
		st.ema = latencyMs
		st.emaSet = true
		return
	}
	st.ema = (1-weight)*st.ema + weight*latencyMs
}

func (st *providerState) rollMonth(now time.Time) {
	key := now.Format("2006-01")
	if st.monthKey != key {
		st.monthKey = key
		st.monthTokensIn = 0
		st.monthTokensOut = 0
	}
}

func trimBefore(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	return events[i:]
}

func trimErrorsBefore(events []errorEvent, cutoff time.Time) []errorEvent {
	i := 0
	for i < len(events) && !events[i].at.After(cutoff) {
		i++
	}
	return events[i:]
}

func ceilDiv4(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}
