// Package config loads and validates the resilience core's configuration: a
// root YAML (or JSON5) file, optional $include files merged recursively, and
// ${VAR}/$VAR environment expansion applied before parsing (SPEC_FULL.md §6).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration structure for the resilience core.
type Config struct {
	Version      int                       `yaml:"version"`
	Providers    map[string]ProviderConfig `yaml:"providers"`
	Concurrency  ConcurrencyConfig         `yaml:"concurrency"`
	Breaker      BreakerConfig             `yaml:"circuit_breaker"`
	Retry        RetryConfig               `yaml:"retry"`
	Orchestrator OrchestratorConfig        `yaml:"orchestrator"`
	Logging      LoggingConfig             `yaml:"logging"`
	Trace        TraceConfig               `yaml:"trace"`
}

// ProviderConfig configures one LLM provider's credentials and resource
// limits. The zero value is a valid, unconfigured provider.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`

	// Concurrency is PROVIDER_CONCURRENCY[p]. Default 3.
	Concurrency int `yaml:"concurrency"`
	// RPM is PROVIDER_RPM[p]. Default 60.
	RPM int `yaml:"rpm"`
}

// ConcurrencyConfig holds the tenant-wide inflight gate.
type ConcurrencyConfig struct {
	// MaxInflightPerTenant is MAX_INFLIGHT_PER_TENANT. Default 2: an unset
	// or zero value becomes 2 and a negative value fails validation, so a
	// config returned by Load always has the tenant gate enabled.
	MaxInflightPerTenant int `yaml:"max_inflight_per_tenant"`
}

// BreakerConfig holds the per-provider circuit breaker defaults.
type BreakerConfig struct {
	Failures          int `yaml:"failures"`            // CB_FAILURES, default 5
	WindowSeconds     int `yaml:"window_seconds"`       // CB_WINDOW_SEC, default 60
	OpenSeconds       int `yaml:"open_seconds"`         // CB_OPEN_SEC, default 120
	HalfOpenMaxTrials int `yaml:"half_open_max_trials"` // CB_HALF_OPEN_MAX_TRIALS, default 2
}

// RetryConfig holds the retry/backoff defaults.
type RetryConfig struct {
	JitterFraction     float64 `yaml:"jitter_fraction"`      // RETRY_JITTER, default 0.3
	CapSeconds         int     `yaml:"cap_seconds"`          // RETRY_CAP_SECONDS, default 30
	RateLimitedRetries int     `yaml:"rate_limited_retries"` // RATE_LIMIT_RETRIES, default 2
	TransientRetries   int     `yaml:"transient_retries"`    // TRANSIENT_RETRIES, default 1
}

// OrchestratorConfig holds the generation-orchestrator defaults.
type OrchestratorConfig struct {
	// InterSectionDelaySeconds is INTER_SECTION_DELAY_S. Default 2.0.
	InterSectionDelaySeconds float64 `yaml:"inter_section_delay_seconds"`

	// FallbackChainGenerate / FallbackChainCleanup are comma-separated
	// provider ids, optionally ending in the literal DEGRADED sentinel.
	// Passed straight through to policy.ParseChain.
	FallbackChainGenerate string `yaml:"fallback_chain_generate"`
	FallbackChainCleanup  string `yaml:"fallback_chain_cleanup"`

	MaxInputTokensGenerate  int `yaml:"max_input_tokens_generate"`
	MaxInputTokensCleanup   int `yaml:"max_input_tokens_cleanup"`
	MaxOutputTokensGenerate int `yaml:"max_output_tokens_generate"`
	MaxOutputTokensCleanup  int `yaml:"max_output_tokens_cleanup"`

	// FallbackOnQuota is AI_FALLBACK_ON_QUOTA. Default true; when false,
	// auto mode never advances past the preferred provider.
	FallbackOnQuota *bool `yaml:"fallback_on_quota"`

	// SelectionPath is where the operator's provider/model choice is
	// persisted (internal/selection.Store).
	SelectionPath string `yaml:"selection_path"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TraceConfig configures the JSONL trace sink.
type TraceConfig struct {
	Path string `yaml:"path"`
}

// Load reads path (and any $include files it references), expands
// environment variables, decodes strictly, applies env overrides and
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	for name, pc := range cfg.Providers {
		applyProviderDefaults(&pc)
		cfg.Providers[name] = pc
	}
	applyConcurrencyDefaults(&cfg.Concurrency)
	applyBreakerDefaults(&cfg.Breaker)
	applyRetryDefaults(&cfg.Retry)
	applyOrchestratorDefaults(&cfg.Orchestrator)
	applyLoggingDefaults(&cfg.Logging)
	applyTraceDefaults(&cfg.Trace)
}

func applyProviderDefaults(cfg *ProviderConfig) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if cfg.RPM == 0 {
		cfg.RPM = 60
	}
}

func applyConcurrencyDefaults(cfg *ConcurrencyConfig) {
	if cfg.MaxInflightPerTenant == 0 {
		cfg.MaxInflightPerTenant = 2
	}
}

func applyBreakerDefaults(cfg *BreakerConfig) {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.WindowSeconds == 0 {
		cfg.WindowSeconds = 60
	}
	if cfg.OpenSeconds == 0 {
		cfg.OpenSeconds = 120
	}
	if cfg.HalfOpenMaxTrials == 0 {
		cfg.HalfOpenMaxTrials = 2
	}
}

func applyRetryDefaults(cfg *RetryConfig) {
	if cfg.JitterFraction == 0 {
		cfg.JitterFraction = 0.3
	}
	if cfg.CapSeconds == 0 {
		cfg.CapSeconds = 30
	}
	if cfg.RateLimitedRetries == 0 {
		cfg.RateLimitedRetries = 2
	}
	if cfg.TransientRetries == 0 {
		cfg.TransientRetries = 1
	}
}

func applyOrchestratorDefaults(cfg *OrchestratorConfig) {
	if cfg.InterSectionDelaySeconds == 0 {
		cfg.InterSectionDelaySeconds = 2.0
	}
	if cfg.MaxInputTokensGenerate == 0 {
		cfg.MaxInputTokensGenerate = 6000
	}
	if cfg.MaxInputTokensCleanup == 0 {
		cfg.MaxInputTokensCleanup = 3000
	}
	if cfg.MaxOutputTokensGenerate == 0 {
		cfg.MaxOutputTokensGenerate = 1400
	}
	if cfg.MaxOutputTokensCleanup == 0 {
		cfg.MaxOutputTokensCleanup = 700
	}
	if cfg.FallbackOnQuota == nil {
		enabled := true
		cfg.FallbackOnQuota = &enabled
	}
	if cfg.SelectionPath == "" {
		cfg.SelectionPath = "selection.json"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyTraceDefaults(cfg *TraceConfig) {
	if cfg.Path == "" {
		cfg.Path = "trace.jsonl"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	for _, name := range []string{"gemini", "mistral", "openrouter"} {
		pc := cfg.Providers[name]
		envPrefix := strings.ToUpper(name)
		if value := strings.TrimSpace(os.Getenv(envPrefix + "_API_KEY")); value != "" {
			pc.APIKey = value
		}
		if value := strings.TrimSpace(os.Getenv("PROVIDER_CONCURRENCY_" + envPrefix)); value != "" {
			if parsed, err := strconv.Atoi(value); err == nil {
				pc.Concurrency = parsed
			}
		}
		if value := strings.TrimSpace(os.Getenv("PROVIDER_RPM_" + envPrefix)); value != "" {
			if parsed, err := strconv.Atoi(value); err == nil {
				pc.RPM = parsed
			}
		}
		cfg.Providers[name] = pc
	}

	if value := strings.TrimSpace(os.Getenv("MAX_INFLIGHT_PER_TENANT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Concurrency.MaxInflightPerTenant = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("CB_FAILURES")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Breaker.Failures = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("CB_WINDOW_SEC")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Breaker.WindowSeconds = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("CB_OPEN_SEC")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Breaker.OpenSeconds = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("CB_HALF_OPEN_MAX_TRIALS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Breaker.HalfOpenMaxTrials = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("RETRY_JITTER")); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.Retry.JitterFraction = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("RETRY_CAP_SECONDS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Retry.CapSeconds = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("RATE_LIMIT_RETRIES")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Retry.RateLimitedRetries = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("TRANSIENT_RETRIES")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Retry.TransientRetries = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("INTER_SECTION_DELAY_S")); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.Orchestrator.InterSectionDelaySeconds = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("FALLBACK_CHAIN_GENERATE")); value != "" {
		cfg.Orchestrator.FallbackChainGenerate = value
	}
	if value := strings.TrimSpace(os.Getenv("FALLBACK_CHAIN_CLEANUP")); value != "" {
		cfg.Orchestrator.FallbackChainCleanup = value
	}
	if value := strings.TrimSpace(os.Getenv("LLM_MAX_INPUT_TOKENS_GENERATE")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Orchestrator.MaxInputTokensGenerate = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("LLM_MAX_INPUT_TOKENS_CLEANUP")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Orchestrator.MaxInputTokensCleanup = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("LLM_MAX_OUTPUT_TOKENS_GENERATE")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Orchestrator.MaxOutputTokensGenerate = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("LLM_MAX_OUTPUT_TOKENS_CLEANUP")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Orchestrator.MaxOutputTokensCleanup = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AI_FALLBACK_ON_QUOTA")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Orchestrator.FallbackOnQuota = &parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
	if value := strings.TrimSpace(os.Getenv("TRACE_PATH")); value != "" {
		cfg.Trace.Path = value
	}
}

// ConfigValidationError aggregates every validation failure found in one
// Load call.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if err := ValidateVersion(cfg.Version); err != nil {
		issues = append(issues, err.Error())
	}

	for name := range cfg.Providers {
		if !validProviderName(name) {
			issues = append(issues, fmt.Sprintf("providers key %q must be one of gemini, mistral, openrouter", name))
		}
	}
	if cfg.Concurrency.MaxInflightPerTenant < 0 {
		issues = append(issues, "concurrency.max_inflight_per_tenant must be >= 0")
	}

	if cfg.Breaker.Failures <= 0 {
		issues = append(issues, "circuit_breaker.failures must be > 0")
	}
	if cfg.Breaker.WindowSeconds <= 0 {
		issues = append(issues, "circuit_breaker.window_seconds must be > 0")
	}
	if cfg.Breaker.OpenSeconds <= 0 {
		issues = append(issues, "circuit_breaker.open_seconds must be > 0")
	}
	if cfg.Breaker.HalfOpenMaxTrials <= 0 {
		issues = append(issues, "circuit_breaker.half_open_max_trials must be > 0")
	}

	if cfg.Retry.JitterFraction < 0 || cfg.Retry.JitterFraction > 1 {
		issues = append(issues, "retry.jitter_fraction must be between 0 and 1")
	}
	if cfg.Retry.CapSeconds <= 0 {
		issues = append(issues, "retry.cap_seconds must be > 0")
	}
	if cfg.Retry.RateLimitedRetries < 0 {
		issues = append(issues, "retry.rate_limited_retries must be >= 0")
	}
	if cfg.Retry.TransientRetries < 0 {
		issues = append(issues, "retry.transient_retries must be >= 0")
	}

	if cfg.Orchestrator.InterSectionDelaySeconds < 0 {
		issues = append(issues, "orchestrator.inter_section_delay_seconds must be >= 0")
	}
	if cfg.Logging.Level != "" && !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, "logging.level must be one of debug, info, warn, error")
	}
	if cfg.Logging.Format != "" && cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validProviderName(name string) bool {
	switch name {
	case "gemini", "mistral", "openrouter":
		return true
	default:
		return false
	}
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// RetryDurationCap returns the configured retry cap as a time.Duration.
func (c RetryConfig) RetryDurationCap() time.Duration {
	return time.Duration(c.CapSeconds) * time.Second
}

// InterSectionDelay returns the configured inter-section delay as a
// time.Duration.
func (c OrchestratorConfig) InterSectionDelay() time.Duration {
	return time.Duration(c.InterSectionDelaySeconds * float64(time.Second))
}
