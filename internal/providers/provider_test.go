package providers

import (
	"context"
	"errors"
	"testing"
)

func TestCallErrorUnwrapAndMessage(t *testing.T) {
	inner := errors.New("boom")
	ce := NewCallError("gemini", "gemini-2.0-flash", 429, inner)

	if !errors.Is(ce, inner) {
		t.Fatal("expected CallError to unwrap to the inner error")
	}
	if ce.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestStatusFromMessage(t *testing.T) {
	cases := map[string]int{
		"401 unauthenticated":   401,
		"permission denied: 403": 403,
		"429 too many requests": 429,
		"resource exhausted":    429,
		"500 internal error":    500,
		"503 service unavailable": 503,
		"something else entirely": 0,
	}
	for msg, want := range cases {
		if got := statusFromMessage(msg); got != want {
			t.Errorf("statusFromMessage(%q) = %d, want %d", msg, got, want)
		}
	}
}

func TestUnconfiguredProvidersReportNotConfigured(t *testing.T) {
	mistral := NewMistralProvider("", "")
	if mistral.IsConfigured() {
		t.Fatal("expected mistral provider with no key to be unconfigured")
	}
	if _, err := mistral.Generate(context.Background(), "x", 0, ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	openrouter := NewOpenRouterProvider("", "")
	if openrouter.IsConfigured() {
		t.Fatal("expected openrouter provider with no key to be unconfigured")
	}

	gemini, err := NewGeminiProvider(GeminiConfig{})
	if err != nil {
		t.Fatalf("unexpected error constructing unconfigured gemini provider: %v", err)
	}
	if gemini.IsConfigured() {
		t.Fatal("expected gemini provider with no key to be unconfigured")
	}
	result, err := gemini.Probe(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured from probe, got %v", err)
	}
	if result.Status != ProbeUnverified {
		t.Fatalf("expected unconfigured probe to report %q, got %q", ProbeUnverified, result.Status)
	}

	anthropicP := NewAnthropicProvider(AnthropicConfig{})
	if anthropicP.IsConfigured() {
		t.Fatal("expected anthropic provider with no key to be unconfigured")
	}
	if _, err := anthropicP.Generate(context.Background(), "x", 0, ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestClassifyProbe(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ProbeStatus
	}{
		{"success", nil, ProbeOK},
		{"auth", NewCallError("gemini", "m", 401, errors.New("permission denied")), ProbeAuthError},
		{"exhausted", NewCallError("gemini", "m", 402, errors.New("insufficient_quota")), ProbeExhausted},
		{"rate limited", NewCallError("gemini", "m", 429, errors.New("rate limit exceeded, retry after 5 seconds")), ProbeRateLimited},
		{"generic", NewCallError("gemini", "m", 0, errors.New("totally unexpected")), ProbeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyProbe(tc.err, 12.5)
			if got.Status != tc.want {
				t.Fatalf("ClassifyProbe(%v) = %s, want %s", tc.err, got.Status, tc.want)
			}
		})
	}

	rl := ClassifyProbe(NewCallError("gemini", "m", 429, errors.New("rate limit exceeded, retry after 5 seconds")), 0)
	if rl.RetryAfterSeconds != 5 {
		t.Fatalf("expected retry-after hint to be parsed, got %v", rl.RetryAfterSeconds)
	}
}

func TestProviderNames(t *testing.T) {
	if NewMistralProvider("k", "").Name() != "mistral" {
		t.Fatal("expected mistral provider name")
	}
	if NewOpenRouterProvider("k", "").Name() != "openrouter" {
		t.Fatal("expected openrouter provider name")
	}
	g, _ := NewGeminiProvider(GeminiConfig{APIKey: ""})
	if g.Name() != "gemini" {
		t.Fatal("expected gemini provider name")
	}
	if NewAnthropicProvider(AnthropicConfig{}).Name() != "anthropic" {
		t.Fatal("expected anthropic provider name")
	}
}
