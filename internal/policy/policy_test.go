package policy

import (
	"reflect"
	"testing"
)

func TestNewRegistryDefaults(t *testing.T) {
	r := NewRegistry("", "")

	gen, ok := r.For(PhaseGenerateSection)
	if !ok {
		t.Fatal("expected generate_section policy to exist")
	}
	if !gen.Critical || gen.AllowDegraded {
		t.Fatalf("expected generate_section critical=true allowDegraded=false, got %+v", gen)
	}
	if contains(gen.FallbackChain, Degraded) {
		t.Fatal("generate_section must never include the degraded sentinel")
	}

	cleanup, ok := r.For(PhaseCleanupCorrection)
	if !ok {
		t.Fatal("expected cleanup_correction policy to exist")
	}
	if cleanup.Critical || !cleanup.AllowDegraded {
		t.Fatalf("expected cleanup_correction critical=false allowDegraded=true, got %+v", cleanup)
	}
	if !contains(cleanup.FallbackChain, Degraded) {
		t.Fatal("expected cleanup_correction fallback chain to end in degraded")
	}
}

func TestParseChainDedupesAndLowercases(t *testing.T) {
	got := ParseChain("Gemini, mistral,GEMINI, openrouter", nil, false)
	want := []string{"gemini", "mistral", "openrouter"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseChainRecognizesDegradedCaseInsensitively(t *testing.T) {
	got := ParseChain("mistral,degraded", nil, false)
	want := []string{"mistral", "degraded"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	got2 := ParseChain("mistral,DEGRADED", nil, false)
	if !reflect.DeepEqual(got2, want) {
		t.Fatalf("got %v, want %v", got2, want)
	}
}

func TestParseChainFallsBackWhenEmpty(t *testing.T) {
	got := ParseChain("  ,  ,", []string{"gemini", "mistral"}, false)
	want := []string{"gemini", "mistral"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseChainAppendsDegradedWhenMissingAndAllowed(t *testing.T) {
	got := ParseChain("mistral,gemini", nil, true)
	want := []string{"mistral", "gemini", "degraded"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseChainDoesNotDuplicateDegraded(t *testing.T) {
	got := ParseChain("mistral,degraded", nil, true)
	want := []string{"mistral", "degraded"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
