// Package policy defines the per-phase generation policies the router
// consults to decide token budgets, criticality, and fallback chains
// (SPEC_FULL.md §4.8).
package policy

import "strings"

// Degraded is the sentinel candidate appended to a fallback chain when the
// phase allows degraded local-only output.
const Degraded = "degraded"

// Phase names recognized by the registry.
const (
	PhaseGenerateSection  = "generate_section"
	PhaseCleanupCorrection = "cleanup_correction"
)

// Policy describes one phase's criticality and budgets.
type Policy struct {
	Phase          string
	Critical       bool
	AllowDegraded  bool
	MaxInputTokens int
	MaxOutputTokens int
	FallbackChain  []string
}

// Registry maps phase name to Policy.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry builds a registry from the two required phases, applying
// default fallback chains when chain config strings are empty.
func NewRegistry(generateChain, cleanupChain string) *Registry {
	r := &Registry{policies: map[string]Policy{}}

	r.policies[PhaseGenerateSection] = Policy{
		Phase:           PhaseGenerateSection,
		Critical:        true,
		AllowDegraded:   false,
		MaxInputTokens:  6000,
		MaxOutputTokens: 1400,
		FallbackChain:   ParseChain(generateChain, []string{"gemini", "mistral", "openrouter"}, false),
	}

	r.policies[PhaseCleanupCorrection] = Policy{
		Phase:           PhaseCleanupCorrection,
		Critical:        false,
		AllowDegraded:   true,
		MaxInputTokens:  3000,
		MaxOutputTokens: 700,
		FallbackChain:   ParseChain(cleanupChain, []string{"gemini", "mistral", "openrouter"}, true),
	}

	return r
}

// For returns the policy for phase, and whether it was found.
func (r *Registry) For(phase string) (Policy, bool) {
	p, ok := r.policies[phase]
	return p, ok
}

// ParseChain parses a comma-separated provider chain, lowercasing and
// de-duplicating entries and recognizing a case-insensitive DEGRADED
// sentinel. An empty/unset raw value falls back to fallbackDefault; appendDegraded
// ensures the chain ends with the degraded sentinel when the phase allows it
// and the configured chain omitted it.
func ParseChain(raw string, fallbackDefault []string, appendDegraded bool) []string {
	fields := strings.Split(raw, ",")
	var parsed []string
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if f == strings.ToLower(Degraded) {
			f = Degraded
		}
		parsed = append(parsed, f)
	}

	if len(parsed) == 0 {
		parsed = append([]string{}, fallbackDefault...)
	}

	parsed = dedupe(parsed)

	if appendDegraded && !contains(parsed, Degraded) {
		parsed = append(parsed, Degraded)
	}
	return parsed
}

func dedupe(items []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

func contains(items []string, target string) bool {
	for _, it := range items {
		if it == target {
			return true
		}
	}
	return false
}
