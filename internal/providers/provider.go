// Package providers implements the synchronous LLM provider clients used by
// the router (SPEC_FULL.md §4.6). Unlike the streaming LLMProvider interface
// used elsewhere in the corpus, generation here is request/response: a
// section is generated in one call and returned as a complete string.
package providers

import (
	"context"
	"errors"
	"time"

	"github.com/gicagen/resilience-core/internal/errcls"
)

// Provider is one LLM backend the router can dispatch a generation call to.
type Provider interface {
	// Name returns the stable, lowercase provider identifier used in
	// routing decisions, logs, and metrics (e.g. "gemini").
	Name() string

	// Generate produces a single completion for prompt using model,
	// aborting if timeout elapses or ctx is cancelled first.
	Generate(ctx context.Context, prompt string, timeout time.Duration, model string) (string, error)

	// Probe checks the provider with a minimal real generation request
	// ("ping") sent through Generate, so it uses provider quota like any
	// other generation call. err is
	// non-nil only when the probe could not be attempted at all (e.g. the
	// provider is unconfigured); a probe that runs and fails reports that
	// failure through ProbeResult.Status instead.
	Probe(ctx context.Context) (ProbeResult, error)

	// IsConfigured reports whether the provider has the credentials it
	// needs to serve requests at all.
	IsConfigured() bool
}

// ErrNotConfigured is returned by Generate/Probe when a provider has no
// credentials configured.
var ErrNotConfigured = errors.New("provider: not configured")

// ProbeStatus is the closed set of outcomes a Probe call can report.
type ProbeStatus string

const (
	ProbeOK          ProbeStatus = "ok"
	ProbeRateLimited ProbeStatus = "rate_limited"
	ProbeExhausted   ProbeStatus = "exhausted"
	ProbeAuthError   ProbeStatus = "auth_error"
	ProbeError       ProbeStatus = "error"
	ProbeUnverified  ProbeStatus = "unverified"
)

// ProbeResult is the structured outcome of one Probe call.
type ProbeResult struct {
	Status            ProbeStatus
	Detail            string
	RetryAfterSeconds float64
	LatencyMs         float64
	Meta              map[string]any
}

// ClassifyProbe turns the error (if any) from a probe's underlying Generate
// call into a ProbeResult, reusing the router's closed error taxonomy
// (internal/errcls) so a probe and a real generation call agree on what
// counts as rate-limited, exhausted, or an auth failure.
func ClassifyProbe(err error, latencyMs float64) ProbeResult {
	if err == nil {
		return ProbeResult{Status: ProbeOK, LatencyMs: latencyMs}
	}

	status := 0
	var callErr *CallError
	if errors.As(err, &callErr) {
		status = callErr.StatusCode
	}
	retryAfter, _ := errcls.RetryAfterSeconds(err)

	switch errcls.Classify(err, status) {
	case errcls.AuthError:
		return ProbeResult{Status: ProbeAuthError, Detail: err.Error(), LatencyMs: latencyMs}
	case errcls.Exhausted:
		return ProbeResult{Status: ProbeExhausted, Detail: err.Error(), LatencyMs: latencyMs}
	case errcls.RateLimited:
		return ProbeResult{Status: ProbeRateLimited, Detail: err.Error(), RetryAfterSeconds: retryAfter, LatencyMs: latencyMs}
	default:
		return ProbeResult{Status: ProbeError, Detail: err.Error(), LatencyMs: latencyMs}
	}
}

// CallError wraps a provider failure with enough context for errcls.Classify
// to categorize it without re-parsing provider-specific error shapes.
type CallError struct {
	Provider   string
	Model      string
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	return "provider " + e.Provider + " (" + e.Model + "): " + e.Err.Error()
}

func (e *CallError) Unwrap() error { return e.Err }

// NewCallError builds a CallError, defaulting StatusCode to 0 (unknown).
func NewCallError(provider, model string, status int, err error) *CallError {
	return &CallError{Provider: provider, Model: model, StatusCode: status, Err: err}
}
