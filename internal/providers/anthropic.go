package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider against Anthropic's Messages API,
// adapted from the streaming AnthropicProvider client down to a single
// synchronous Messages.New call. It is not one of the three named providers
// (gemini/mistral/openrouter) dispatched by the router's default chains; it
// exists as an example/doc provider exercising a distinct SDK shape behind
// the same Provider interface, so the candidate-chain logic in the router
// isn't only ever tested against OpenAI-compatible clients.
type AnthropicProvider struct {
	client       *anthropic.Client
	defaultModel string
	configured   bool
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicProvider constructs an anthropic provider. A blank APIKey
// produces an unconfigured provider rather than an error.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	p := &AnthropicProvider{defaultModel: cfg.DefaultModel}
	if p.defaultModel == "" {
		p.defaultModel = "claude-3-5-haiku-latest"
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return p
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(options...)
	p.client = &client
	p.configured = true
	return p
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) IsConfigured() bool { return p.configured }

func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, timeout time.Duration, model string) (string, error) {
	if !p.IsConfigured() {
		return "", ErrNotConfigured
	}
	if model == "" {
		model = p.defaultModel
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	message, err := p.client.Messages.New(cctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", p.wrapError(err, model)
	}
	if len(message.Content) == 0 || message.Content[0].Text == "" {
		return "", p.wrapError(fmt.Errorf("empty response"), model)
	}
	return message.Content[0].Text, nil
}

func (p *AnthropicProvider) Probe(ctx context.Context) (ProbeResult, error) {
	if !p.IsConfigured() {
		return ProbeResult{Status: ProbeUnverified, Detail: "not configured"}, ErrNotConfigured
	}
	start := time.Now()
	_, err := p.Generate(ctx, "ping", 10*time.Second, p.defaultModel)
	return ClassifyProbe(err, float64(time.Since(start).Milliseconds())), nil
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	status := 0
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return NewCallError(p.Name(), model, status, err)
}
