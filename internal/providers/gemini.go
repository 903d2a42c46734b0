package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider against Google's Gemini API, adapted
// from the streaming GoogleProvider client down to a single synchronous
// GenerateContent call.
type GeminiProvider struct {
	client       *genai.Client
	apiKey       string
	defaultModel string
}

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
}

// NewGeminiProvider constructs a gemini provider. A blank APIKey produces an
// unconfigured provider rather than an error, so it can still be registered
// with the router and report itself unavailable.
func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	p := &GeminiProvider{apiKey: cfg.APIKey, defaultModel: cfg.DefaultModel}
	if p.defaultModel == "" {
		p.defaultModel = "gemini-2.0-flash"
	}
	if cfg.APIKey == "" {
		return p, nil
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	p.client = client
	return p, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) IsConfigured() bool { return p.client != nil }

func (p *GeminiProvider) Generate(ctx context.Context, prompt string, timeout time.Duration, model string) (string, error) {
	if !p.IsConfigured() {
		return "", ErrNotConfigured
	}
	if model == "" {
		model = p.defaultModel
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: prompt}},
	}}

	resp, err := p.client.Models.GenerateContent(cctx, model, contents, nil)
	if err != nil {
		return "", p.wrapError(err, model)
	}

	var out strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" {
				out.WriteString(part.Text)
			}
		}
	}
	if out.Len() == 0 {
		return "", p.wrapError(fmt.Errorf("empty response"), model)
	}
	return out.String(), nil
}

func (p *GeminiProvider) Probe(ctx context.Context) (ProbeResult, error) {
	if !p.IsConfigured() {
		return ProbeResult{Status: ProbeUnverified, Detail: "not configured"}, ErrNotConfigured
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	start := time.Now()
	_, err := p.Generate(cctx, "ping", 10*time.Second, p.defaultModel)
	return ClassifyProbe(err, float64(time.Since(start).Milliseconds())), nil
}

func (p *GeminiProvider) wrapError(err error, model string) error {
	status := statusFromMessage(err.Error())
	return NewCallError("gemini", model, status, err)
}

func statusFromMessage(msg string) int {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "401"), strings.Contains(lower, "unauthenticated"):
		return http.StatusUnauthorized
	case strings.Contains(lower, "403"), strings.Contains(lower, "permission denied"):
		return http.StatusForbidden
	case strings.Contains(lower, "429"), strings.Contains(lower, "resource exhausted"), strings.Contains(lower, "quota"):
		return http.StatusTooManyRequests
	case strings.Contains(lower, "500"):
		return http.StatusInternalServerError
	case strings.Contains(lower, "503"):
		return http.StatusServiceUnavailable
	default:
		return 0
	}
}
