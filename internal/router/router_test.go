package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gicagen/resilience-core/internal/circuit"
	"github.com/gicagen/resilience-core/internal/coordinator"
	"github.com/gicagen/resilience-core/internal/metrics"
	"github.com/gicagen/resilience-core/internal/policy"
	"github.com/gicagen/resilience-core/internal/providers"
	"github.com/gicagen/resilience-core/internal/retrypolicy"
)

type scriptedCall struct {
	content string
	err     error
}

type fakeProvider struct {
	name      string
	configured bool
	calls     []scriptedCall
	callCount int
}

func (f *fakeProvider) Name() string        { return f.name }
func (f *fakeProvider) IsConfigured() bool  { return f.configured }
func (f *fakeProvider) Probe(ctx context.Context) (providers.ProbeResult, error) {
	return providers.ProbeResult{Status: providers.ProbeOK}, nil
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, timeout time.Duration, model string) (string, error) {
	if f.callCount >= len(f.calls) {
		return "", errors.New("fakeProvider: ran out of scripted calls")
	}
	c := f.calls[f.callCount]
	f.callCount++
	return c.content, c.err
}

func newTestRouter(t *testing.T, provs map[string]providers.Provider) (*Router, map[string]*fakeProvider) {
	t.Helper()
	fakes := map[string]*fakeProvider{}
	for name, p := range provs {
		if fp, ok := p.(*fakeProvider); ok {
			fakes[name] = fp
		}
	}
	r := New(Config{
		Providers:   provs,
		Breaker:     circuit.NewRegistry(circuit.DefaultConfig()),
		Coordinator: coordinator.New(coordinator.Limits{Concurrency: 4, RPM: 10000}, nil, 0),
		Metrics:     metrics.NewStore(nil),
		Policies:    policy.NewRegistry("", ""),
		Retry:       retrypolicy.Policy{MaxRateLimitedRetries: 2, MaxTransientRetries: 1, JitterFraction: 0, CapSeconds: 1},
		RandSource:  func() float64 { return 0 },
	})
	return r, fakes
}

func TestHappyPathSingleProvider(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", configured: true, calls: []scriptedCall{{content: "Contenido 1"}}}
	r, _ := newTestRouter(t, map[string]providers.Provider{"gemini": gemini})

	res, err := r.Call(context.Background(), Request{
		Phase:             policy.PhaseGenerateSection,
		Prompt:            "write section 1",
		PreferredProvider: "gemini",
		SelectionMode:     Auto,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "Contenido 1" || res.Provider != "gemini" || res.Status != StatusOK {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Incidents) != 0 {
		t.Fatalf("expected zero incidents, got %+v", res.Incidents)
	}
}

func TestQuotaFallback(t *testing.T) {
	primary := &fakeProvider{name: "gemini", configured: true, calls: []scriptedCall{
		{err: providers.NewCallError("gemini", "m", 402, errors.New("quota exceeded"))},
	}}
	fallback := &fakeProvider{name: "mistral", configured: true, calls: []scriptedCall{
		{content: "Contenido por fallback."},
	}}
	r, _ := newTestRouter(t, map[string]providers.Provider{"gemini": primary, "mistral": fallback})

	res, err := r.Call(context.Background(), Request{
		Phase:              policy.PhaseGenerateSection,
		Prompt:             "write section",
		CandidateProviders: []string{"gemini", "mistral"},
		SelectionMode:      Auto,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "Contenido por fallback." || res.Provider != "mistral" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if primary.callCount != 1 {
		t.Fatalf("expected primary called exactly once, got %d", primary.callCount)
	}
	if fallback.callCount != 1 {
		t.Fatalf("expected fallback called exactly once, got %d", fallback.callCount)
	}

	foundWarning := false
	for _, inc := range res.Incidents {
		if inc.Kind == IncidentProvider && inc.Severity == SeverityWarning {
			foundWarning = true
		}
	}
	if !foundWarning {
		t.Fatalf("expected a warning incident of kind provider, got %+v", res.Incidents)
	}
}

func TestExhaustedDisablesProviderForJob(t *testing.T) {
	primary := &fakeProvider{name: "gemini", configured: true, calls: []scriptedCall{
		{err: providers.NewCallError("gemini", "m", 402, errors.New("exhausted"))},
	}}
	fallback := &fakeProvider{name: "mistral", configured: true, calls: []scriptedCall{
		{content: "one"}, {content: "two"},
	}}
	r, _ := newTestRouter(t, map[string]providers.Provider{"gemini": primary, "mistral": fallback})

	disabled := map[string]bool{}
	for i := 0; i < 2; i++ {
		_, err := r.Call(context.Background(), Request{
			Phase:              policy.PhaseGenerateSection,
			Prompt:             "write",
			CandidateProviders: []string{"gemini", "mistral"},
			SelectionMode:      Auto,
		}, disabled)
		if err != nil {
			t.Fatalf("unexpected error on section %d: %v", i, err)
		}
	}
	if primary.callCount != 1 {
		t.Fatalf("expected primary called exactly once total, got %d", primary.callCount)
	}
	if fallback.callCount != 2 {
		t.Fatalf("expected fallback called twice, got %d", fallback.callCount)
	}
}

func TestFixedModeTLSErrorRetriesOnceWithoutFallback(t *testing.T) {
	primary := &fakeProvider{name: "gemini", configured: true, calls: []scriptedCall{
		{err: providers.NewCallError("gemini", "m", 0, errors.New("SSLV3_ALERT_BAD_RECORD_MAC"))},
		{err: providers.NewCallError("gemini", "m", 0, errors.New("SSLV3_ALERT_BAD_RECORD_MAC"))},
	}}
	fallback := &fakeProvider{name: "mistral", configured: true, calls: []scriptedCall{{content: "unused"}}}

	r, _ := newTestRouter(t, map[string]providers.Provider{"gemini": primary, "mistral": fallback})
	r.retry = retrypolicy.Policy{MaxRateLimitedRetries: 2, MaxTransientRetries: 1, JitterFraction: 0, CapSeconds: 1}

	_, err := r.Call(context.Background(), Request{
		Phase:             policy.PhaseGenerateSection,
		Prompt:            "write",
		PreferredProvider: "gemini",
		SelectionMode:     Fixed,
	}, nil)
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if primary.callCount != 2 {
		t.Fatalf("expected provider called exactly twice (attempt + 1 retry), got %d", primary.callCount)
	}
	if fallback.callCount != 0 {
		t.Fatalf("expected fallback never invoked in fixed mode when it is not a contingency candidate, got %d calls", fallback.callCount)
	}
}

func TestCleanupDegradesWhenChainExhausted(t *testing.T) {
	cleanup := &fakeProvider{name: "gemini", configured: true, calls: []scriptedCall{
		{err: providers.NewCallError("gemini", "m", 503, errors.New("service unavailable"))},
		{err: providers.NewCallError("gemini", "m", 503, errors.New("service unavailable"))},
	}}
	r, _ := newTestRouter(t, map[string]providers.Provider{"gemini": cleanup})
	r.retry = retrypolicy.Policy{MaxRateLimitedRetries: 0, MaxTransientRetries: 1, JitterFraction: 0, CapSeconds: 1}

	res, err := r.Call(context.Background(), Request{
		Phase:             policy.PhaseCleanupCorrection,
		Prompt:            "clean up",
		Context:           "```\nraw content\n```\n| a | b |\n- bullet\nFIGURA DE EJEMPLO",
		PreferredProvider: "gemini",
		SelectionMode:     Auto,
	}, nil)
	if err != nil {
		t.Fatalf("expected degraded result, not an error: %v", err)
	}
	if res.Status != StatusDegraded || res.Provider != "degraded" {
		t.Fatalf("expected degraded result, got %+v", res)
	}
	foundDegraded := false
	for _, inc := range res.Incidents {
		if inc.Kind == IncidentDegraded {
			foundDegraded = true
		}
	}
	if !foundDegraded {
		t.Fatal("expected a degraded incident")
	}
}

func TestGenerateSectionNeverDegrades(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", configured: true, calls: []scriptedCall{
		{err: providers.NewCallError("gemini", "m", 503, errors.New("down"))},
		{err: providers.NewCallError("gemini", "m", 503, errors.New("down"))},
	}}
	r, _ := newTestRouter(t, map[string]providers.Provider{"gemini": gemini})
	r.retry = retrypolicy.Policy{MaxRateLimitedRetries: 0, MaxTransientRetries: 1, JitterFraction: 0, CapSeconds: 1}

	_, err := r.Call(context.Background(), Request{
		Phase:             policy.PhaseGenerateSection,
		Prompt:            "write",
		PreferredProvider: "gemini",
		SelectionMode:     Auto,
	}, nil)
	if err == nil {
		t.Fatal("expected generate_section to raise rather than degrade")
	}
}

func TestSanitizeDegradedStripsMarkup(t *testing.T) {
	in := "```go\ncode\n```\n| col1 | col2 |\n- bullet one\nFIGURA DE EJEMPLO plain text"
	out := sanitizeDegraded(in)
	for _, bad := range []string{"```", "|", "- bullet", "FIGURA DE EJEMPLO"} {
		if containsSubstring(out, bad) {
			t.Fatalf("expected sanitized output to strip %q, got %q", bad, out)
		}
	}
}

func containsSubstring(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}

func TestEstimateTokensMonotonicity(t *testing.T) {
	s1 := "hello world this is a test"
	s2 := "another chunk of text here"
	if got, max := estimateTokens(s1+s2), estimateTokens(s1)+estimateTokens(s2)+1; got > max {
		t.Fatalf("estimateTokens(s1+s2)=%d exceeds bound %d", got, max)
	}
}

func TestBoundPromptTruncatesOversizedInput(t *testing.T) {
	big := make([]byte, 10000)
	for i := range big {
		big[i] = 'x'
	}
	out := boundPrompt("prefix", string(big), 100, 20)
	if len(out) >= len(big) {
		t.Fatalf("expected truncation, got length %d", len(out))
	}
}
