package core

import (
	"path/filepath"
	"testing"

	"github.com/gicagen/resilience-core/internal/config"
)

func minimalConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	enabled := true
	return &config.Config{
		Version: config.CurrentVersion,
		Providers: map[string]config.ProviderConfig{
			"gemini":     {APIKey: "gemini-key", Concurrency: 3, RPM: 60},
			"mistral":    {Concurrency: 3, RPM: 60},
			"openrouter": {Concurrency: 3, RPM: 60},
		},
		Concurrency: config.ConcurrencyConfig{MaxInflightPerTenant: 2},
		Breaker: config.BreakerConfig{
			Failures: 5, WindowSeconds: 60, OpenSeconds: 120, HalfOpenMaxTrials: 2,
		},
		Retry: config.RetryConfig{
			JitterFraction: 0.3, CapSeconds: 30, RateLimitedRetries: 2, TransientRetries: 1,
		},
		Orchestrator: config.OrchestratorConfig{
			InterSectionDelaySeconds: 2.0,
			FallbackChainGenerate:    "gemini,mistral,openrouter,DEGRADED",
			FallbackChainCleanup:     "gemini,mistral",
			FallbackOnQuota:          &enabled,
			SelectionPath:            filepath.Join(dir, "selection.json"),
		},
		Logging: config.LoggingConfig{Level: "info", Format: "json"},
		Trace:   config.TraceConfig{Path: filepath.Join(dir, "trace.jsonl")},
	}
}

func TestNewRejectsNilConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewWiresAllComponents(t *testing.T) {
	c, err := New(minimalConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, name := range []string{"gemini", "mistral", "openrouter"} {
		if _, ok := c.Providers[name]; !ok {
			t.Fatalf("expected provider %q to be wired", name)
		}
	}
	if c.Router == nil {
		t.Fatal("expected router to be wired")
	}
	if c.Coordinator == nil {
		t.Fatal("expected coordinator to be wired")
	}
	if c.Breaker == nil {
		t.Fatal("expected breaker registry to be wired")
	}
	if c.Metrics == nil {
		t.Fatal("expected metrics store to be wired")
	}
	if c.Policies == nil {
		t.Fatal("expected policy registry to be wired")
	}
	if c.Selection == nil {
		t.Fatal("expected selection store to be wired")
	}
	if c.Trace == nil {
		t.Fatal("expected trace sink to be wired")
	}
	if c.Orchestrator == nil {
		t.Fatal("expected orchestrator to be wired")
	}
}

func TestNewHonorsFallbackOnQuotaDisabled(t *testing.T) {
	cfg := minimalConfig(t)
	disabled := false
	cfg.Orchestrator.FallbackOnQuota = &disabled

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Router == nil {
		t.Fatal("expected router to be wired even with fallback disabled")
	}
}
