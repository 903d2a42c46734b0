package router

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/gicagen/resilience-core/internal/circuit"
	"github.com/gicagen/resilience-core/internal/coordinator"
	"github.com/gicagen/resilience-core/internal/errcls"
	"github.com/gicagen/resilience-core/internal/metrics"
	"github.com/gicagen/resilience-core/internal/policy"
	"github.com/gicagen/resilience-core/internal/providers"
	"github.com/gicagen/resilience-core/internal/retrypolicy"
)

// Clock abstracts time.Now for latency measurement in tests.
type Clock func() time.Time

// Router is the process-wide provider selection state machine.
type Router struct {
	providers   map[string]providers.Provider
	breaker     *circuit.Registry
	coord       *coordinator.Coordinator
	metrics     *metrics.Store
	policies    *policy.Registry
	retry       retrypolicy.Policy
	rng         func() float64
	now         Clock
	generateTimeout time.Duration
	disableCrossProviderFallback bool
}

// Config wires a Router's dependencies.
type Config struct {
	Providers       map[string]providers.Provider
	Breaker         *circuit.Registry
	Coordinator     *coordinator.Coordinator
	Metrics         *metrics.Store
	Policies        *policy.Registry
	Retry           retrypolicy.Policy
	RandSource      func() float64
	GenerateTimeout time.Duration
	// DisableCrossProviderFallback is the inverse of AI_FALLBACK_ON_QUOTA
	// (which defaults true): when set, auto mode never advances past the
	// preferred/primary provider. Zero value matches the spec's default.
	DisableCrossProviderFallback bool
}

// New builds a Router from cfg, applying defaults for anything unset.
func New(cfg Config) *Router {
	r := &Router{
		providers:                    cfg.Providers,
		breaker:                      cfg.Breaker,
		coord:                        cfg.Coordinator,
		metrics:                      cfg.Metrics,
		policies:                     cfg.Policies,
		retry:                        cfg.Retry,
		rng:                          cfg.RandSource,
		now:                          time.Now,
		generateTimeout:              cfg.GenerateTimeout,
		disableCrossProviderFallback: cfg.DisableCrossProviderFallback,
	}
	if r.rng == nil {
		r.rng = defaultRand
	}
	if r.generateTimeout <= 0 {
		r.generateTimeout = 60 * time.Second
	}
	if r.retry == (retrypolicy.Policy{}) {
		r.retry = retrypolicy.Default()
	}
	return r
}

func defaultRand() float64 { return 0.5 }

// Call resolves the candidate chain for req and drives generation across
// it, applying retry/backoff, circuit breaking, resource gating, and the
// degraded fallback. disabledForJob is mutated in place as providers become
// unusable for the remainder of the calling job.
func (r *Router) Call(ctx context.Context, req Request, disabledForJob map[string]bool) (Result, error) {
	if disabledForJob == nil {
		disabledForJob = map[string]bool{}
	}

	pol, ok := r.policies.For(req.Phase)
	if !ok {
		return Result{}, fmt.Errorf("router: unknown phase %q", req.Phase)
	}

	chain := r.resolveChain(req, pol)

	var incidents []Incident
	var lastErr error
	retryCount := 0

	for i, candidate := range chain {
		if candidate == policy.Degraded {
			if pol.AllowDegraded && !pol.Critical {
				incidents = append(incidents, r.incident(req, SeverityWarning, "", IncidentDegraded, "falling back to degraded local sanitization"))
				return Result{
					Content:    sanitizeDegraded(req.Context),
					Provider:   policy.Degraded,
					Status:     StatusDegraded,
					Incidents:  incidents,
					RetryCount: retryCount,
				}, nil
			}
			continue
		}

		if disabledForJob[candidate] {
			continue
		}
		p, ok := r.providers[candidate]
		if !ok || !p.IsConfigured() {
			continue
		}

		if !r.breaker.BeforeCall(candidate) {
			incidents = append(incidents, r.incident(req, SeverityWarning, candidate, IncidentCircuitOpen, "circuit open"))
			continue
		}

		content, attemptsUsed, lastClass, err := r.runProviderLoop(ctx, p, req, pol, &incidents)
		retryCount += attemptsUsed
		if err == nil {
			return Result{
				Content:    content,
				Provider:   candidate,
				Status:     StatusOK,
				Incidents:  incidents,
				RetryCount: retryCount,
			}, nil
		}
		lastErr = err

		if lastClass == errcls.Exhausted || lastClass == errcls.AuthError {
			disabledForJob[candidate] = true
		}

		isPrimary := i == 0
		if req.SelectionMode == Fixed && isPrimary {
			if lastClass != errcls.Transient && lastClass != errcls.RateLimited {
				break
			}
			incidents = append(incidents, r.incident(req, SeverityWarning, candidate, IncidentFixedModeFallback, "fixed mode contingency fallback"))
		}
	}

	if pol.AllowDegraded {
		incidents = append(incidents, r.incident(req, SeverityWarning, "", IncidentDegraded, "chain exhausted, falling back to degraded"))
		return Result{
			Content:    sanitizeDegraded(req.Context),
			Provider:   policy.Degraded,
			Status:     StatusDegraded,
			Incidents:  incidents,
			RetryCount: retryCount,
		}, nil
	}

	if lastErr != nil {
		return Result{Incidents: incidents, RetryCount: retryCount}, lastErr
	}
	return Result{Incidents: incidents, RetryCount: retryCount}, ErrNoProviderAvailable
}

// runProviderLoop drives the inner retry loop for one provider, returning
// the generated content, the number of attempts made, and the last
// classified error (zero value if it never failed).
func (r *Router) runProviderLoop(ctx context.Context, p providers.Provider, req Request, pol policy.Policy, incidents *[]Incident) (string, int, errcls.Class, error) {
	attempt := 0
	var lastClass errcls.Class
	var lastErr error

	for {
		select {
		case <-ctx.Done():
			return "", attempt, lastClass, ctx.Err()
		default:
		}

		prompt := boundPrompt(req.Prompt, req.Context, pol.MaxInputTokens, pol.MaxOutputTokens)

		release, err := r.coord.Acquire(ctx, p.Name(), req.TenantID)
		if err != nil {
			return "", attempt, lastClass, err
		}

		start := r.now()
		content, genErr := p.Generate(ctx, prompt, r.generateTimeout, req.Model)
		latencyMs := float64(r.now().Sub(start).Milliseconds())
		release()

		if genErr == nil {
			r.breaker.OnSuccess(p.Name())
			r.metrics.RecordSuccess(p.Name(), latencyMs, len(prompt), len(content))
			return content, attempt, "", nil
		}

		status := statusCodeOf(genErr)
		class := errcls.Classify(genErr, status)
		retryAfter, _ := errcls.RetryAfterSeconds(genErr)

		r.breaker.OnFailure(p.Name(), string(class))
		r.recordMetricFailure(p.Name(), class, latencyMs, retryAfter)

		severity := SeverityWarning
		if pol.Critical {
			severity = SeverityError
		}
		*incidents = append(*incidents, r.incident(req, severity, p.Name(), IncidentProvider, genErr.Error()))

		lastErr = genErr
		lastClass = class

		if class == errcls.Exhausted || class == errcls.AuthError {
			return "", attempt + 1, lastClass, lastErr
		}

		if r.retry.ShouldRetry(class, attempt) {
			backoff := r.retry.ComputeBackoff(attempt, retryAfter, r.rng)
			*incidents = append(*incidents, r.incident(req, SeverityWarning, p.Name(), IncidentRetry, fmt.Sprintf("retrying after %s", backoff)))
			if err := retrypolicy.Sleep(ctx, backoff); err != nil {
				return "", attempt + 1, lastClass, err
			}
			attempt++
			continue
		}

		return "", attempt + 1, lastClass, lastErr
	}
}

func (r *Router) recordMetricFailure(provider string, class errcls.Class, latencyMs, retryAfterSeconds float64) {
	switch class {
	case errcls.RateLimited:
		r.metrics.RecordRateLimited(provider, time.Duration(retryAfterSeconds*float64(time.Second)))
	case errcls.Exhausted:
		r.metrics.RecordExhausted(provider)
	case errcls.Transient:
		r.metrics.RecordError(provider, "timeout", latencyMs)
	default:
		r.metrics.RecordError(provider, strings.ToLower(string(class)), latencyMs)
	}
}

func (r *Router) incident(req Request, sev Severity, provider string, kind IncidentKind, message string) Incident {
	return Incident{
		Timestamp:   r.now(),
		Severity:    sev,
		Phase:       req.Phase,
		Provider:    provider,
		Message:     message,
		SectionID:   req.SectionID,
		SectionPath: req.SectionPath,
		Kind:        kind,
	}
}

// resolveChain builds the ordered candidate list per SPEC_FULL.md §4.9 step 1.
// Fixed mode normally yields a single primary; the caller's inner loop still
// handles the contingency fallback onto chain[1] when the primary's terminal
// error is TRANSIENT or RATE_LIMITED.
func (r *Router) resolveChain(req Request, pol policy.Policy) []string {
	var real []string
	seen := map[string]bool{}
	add := func(id string) {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] || id == policy.Degraded {
			return
		}
		seen[id] = true
		real = append(real, id)
	}

	add(req.PreferredProvider)
	for _, c := range req.CandidateProviders {
		add(c)
	}
	if req.SelectionMode == Auto {
		for _, c := range pol.FallbackChain {
			add(c)
		}
	}

	// AI_FALLBACK_ON_QUOTA=false: auto mode never advances past the head.
	if r.disableCrossProviderFallback && req.SelectionMode == Auto && len(real) > 1 {
		real = real[:1]
	}

	if pol.AllowDegraded {
		real = append(real, policy.Degraded)
	}
	return real
}

var budgetFloorChars = 400

// boundPrompt truncates prompt+context to fit under maxInputTokens-maxOutputTokens,
// using the ceil(chars/4) token estimator (SPEC_FULL.md §4.9 step 2/3).
func boundPrompt(prompt, ctx string, maxInputTokens, maxOutputTokens int) string {
	combined := prompt
	if ctx != "" {
		combined = prompt + "\n\n" + ctx
	}
	budget := maxInputTokens - maxOutputTokens
	if budget <= 0 {
		return combined
	}
	estimated := estimateTokens(combined)
	if estimated <= budget {
		return combined
	}
	limitChars := budget * 4
	if limitChars < budgetFloorChars {
		limitChars = budgetFloorChars
	}
	if limitChars >= len(combined) {
		return combined
	}
	return combined[:limitChars]
}

// estimateTokens is the ceil(chars/4) heuristic shared across components.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return int(math.Ceil(float64(len(s)) / 4.0))
}

var (
	fenceRe   = regexp.MustCompile("```[a-zA-Z0-9]*")
	tableRe   = regexp.MustCompile(`(?m)^\s*\|.*\|\s*$`)
	bulletRe  = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	forbidden = []string{"FIGURA DE EJEMPLO"}
)

// sanitizeDegraded produces local-only sanitized content for the degraded
// provider sentinel: strip markdown fences, pipe tables, bullet leaders, and
// known forbidden placeholder tokens.
func sanitizeDegraded(context string) string {
	out := fenceRe.ReplaceAllString(context, "")
	out = tableRe.ReplaceAllString(out, "")
	out = bulletRe.ReplaceAllString(out, "")
	for _, token := range forbidden {
		out = strings.ReplaceAll(out, token, "")
	}
	return strings.TrimSpace(out)
}

func statusCodeOf(err error) int {
	var ce *providers.CallError
	for e := err; e != nil; {
		if c, ok := e.(*providers.CallError); ok {
			ce = c
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if ce == nil {
		return 0
	}
	return ce.StatusCode
}
