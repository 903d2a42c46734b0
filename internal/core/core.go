// Package core bundles the process-wide singletons — router, coordinator,
// circuit breaker registry, metrics store, policy registry, selection
// store, and trace sink — into a single value constructed once at CLI
// startup and passed explicitly (SPEC_FULL.md §9 Design Notes), rather than
// hidden behind package-level globals.
package core

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/gicagen/resilience-core/internal/circuit"
	"github.com/gicagen/resilience-core/internal/config"
	"github.com/gicagen/resilience-core/internal/coordinator"
	"github.com/gicagen/resilience-core/internal/metrics"
	"github.com/gicagen/resilience-core/internal/orchestrator"
	"github.com/gicagen/resilience-core/internal/policy"
	"github.com/gicagen/resilience-core/internal/providers"
	"github.com/gicagen/resilience-core/internal/retrypolicy"
	"github.com/gicagen/resilience-core/internal/router"
	"github.com/gicagen/resilience-core/internal/selection"
	"github.com/gicagen/resilience-core/internal/trace"
	"github.com/prometheus/client_golang/prometheus"
)

// Core holds every long-lived dependency the CLI's subcommands need.
type Core struct {
	Config       *config.Config
	Providers    map[string]providers.Provider
	Breaker      *circuit.Registry
	Coordinator  *coordinator.Coordinator
	Metrics      *metrics.Store
	Policies     *policy.Registry
	Router       *router.Router
	Selection    *selection.Store
	Trace        trace.Sink
	Orchestrator *orchestrator.Orchestrator
}

// New constructs a Core from cfg. It is the only place process-wide
// singletons are created; callers hold and thread the returned value rather
// than reaching for package-level state.
func New(cfg *config.Config) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("core: config is required")
	}

	provs, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metricsStore := metrics.NewStore(reg)

	breakerCfg := circuit.Config{
		FailuresThreshold: cfg.Breaker.Failures,
		Window:            time.Duration(cfg.Breaker.WindowSeconds) * time.Second,
		OpenDuration:      time.Duration(cfg.Breaker.OpenSeconds) * time.Second,
		HalfOpenMaxTrials: cfg.Breaker.HalfOpenMaxTrials,
	}
	breaker := circuit.NewRegistry(breakerCfg)

	providerLimits := map[string]coordinator.Limits{}
	for name, pc := range cfg.Providers {
		providerLimits[name] = coordinator.Limits{Concurrency: pc.Concurrency, RPM: pc.RPM}
	}
	coord := coordinator.New(coordinator.Limits{Concurrency: 3, RPM: 60}, providerLimits, cfg.Concurrency.MaxInflightPerTenant)

	policies := policy.NewRegistry(cfg.Orchestrator.FallbackChainGenerate, cfg.Orchestrator.FallbackChainCleanup)

	retry := retrypolicy.Policy{
		MaxRateLimitedRetries: cfg.Retry.RateLimitedRetries,
		MaxTransientRetries:   cfg.Retry.TransientRetries,
		JitterFraction:        cfg.Retry.JitterFraction,
		CapSeconds:            float64(cfg.Retry.CapSeconds),
	}

	disableFallback := cfg.Orchestrator.FallbackOnQuota != nil && !*cfg.Orchestrator.FallbackOnQuota

	r := router.New(router.Config{
		Providers:                    provs,
		Breaker:                      breaker,
		Coordinator:                  coord,
		Metrics:                      metricsStore,
		Policies:                     policies,
		Retry:                        retry,
		RandSource:                   rand.Float64,
		DisableCrossProviderFallback: disableFallback,
	})

	selStore := selection.NewStore(cfg.Orchestrator.SelectionPath, knownProviders())

	traceSink, err := trace.NewJSONLSink(cfg.Trace.Path, nil, trace.Header{Version: 1}, trace.NewRedactor(apiKeys(cfg)))
	if err != nil {
		return nil, fmt.Errorf("core: open trace sink: %w", err)
	}

	orch := orchestrator.New(orchestrator.Orchestrator{
		Router:            r,
		Providers:         provs,
		Metrics:           metricsStore,
		Selection:         selStore,
		Trace:             traceSink,
		InterSectionDelay: cfg.Orchestrator.InterSectionDelay(),
	})

	return &Core{
		Config:       cfg,
		Providers:    provs,
		Breaker:      breaker,
		Coordinator:  coord,
		Metrics:      metricsStore,
		Policies:     policies,
		Router:       r,
		Selection:    selStore,
		Trace:        traceSink,
		Orchestrator: orch,
	}, nil
}

func buildProviders(cfg *config.Config) (map[string]providers.Provider, error) {
	provs := map[string]providers.Provider{}

	gc := cfg.Providers["gemini"]
	gemini, err := providers.NewGeminiProvider(providers.GeminiConfig{APIKey: gc.APIKey, DefaultModel: gc.DefaultModel})
	if err != nil {
		return nil, fmt.Errorf("core: gemini provider: %w", err)
	}
	provs["gemini"] = gemini

	mc := cfg.Providers["mistral"]
	provs["mistral"] = providers.NewMistralProvider(mc.APIKey, mc.DefaultModel)

	oc := cfg.Providers["openrouter"]
	provs["openrouter"] = providers.NewOpenRouterProvider(oc.APIKey, oc.DefaultModel)

	return provs, nil
}

func knownProviders() map[string]bool {
	return map[string]bool{"gemini": true, "mistral": true, "openrouter": true}
}

func apiKeys(cfg *config.Config) []string {
	var keys []string
	for _, pc := range cfg.Providers {
		if pc.APIKey != "" {
			keys = append(keys, pc.APIKey)
		}
	}
	return keys
}
