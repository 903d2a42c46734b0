package providers

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// openAICompatProvider implements Provider against any OpenAI-compatible
// chat-completions endpoint, adapted from the streaming OpenAIProvider
// client down to a single synchronous CreateChatCompletion call. Both
// mistral and openrouter are instances of this with different BaseURLs and
// model catalogs.
type openAICompatProvider struct {
	name         string
	client       *openai.Client
	defaultModel string
}

func newOpenAICompatProvider(name, apiKey, baseURL, defaultModel string) *openAICompatProvider {
	p := &openAICompatProvider{name: name, defaultModel: defaultModel}
	if apiKey == "" {
		return p
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	p.client = openai.NewClientWithConfig(cfg)
	return p
}

func (p *openAICompatProvider) Name() string { return p.name }

func (p *openAICompatProvider) IsConfigured() bool { return p.client != nil }

func (p *openAICompatProvider) Generate(ctx context.Context, prompt string, timeout time.Duration, model string) (string, error) {
	if !p.IsConfigured() {
		return "", ErrNotConfigured
	}
	if model == "" {
		model = p.defaultModel
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(cctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", p.wrapError(err, model)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", p.wrapError(fmt.Errorf("empty response"), model)
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *openAICompatProvider) Probe(ctx context.Context) (ProbeResult, error) {
	if !p.IsConfigured() {
		return ProbeResult{Status: ProbeUnverified, Detail: "not configured"}, ErrNotConfigured
	}
	start := time.Now()
	_, err := p.Generate(ctx, "ping", 10*time.Second, p.defaultModel)
	return ClassifyProbe(err, float64(time.Since(start).Milliseconds())), nil
}

func (p *openAICompatProvider) wrapError(err error, model string) error {
	status := 0
	var apiErr *openai.APIError
	if ok := asAPIError(err, &apiErr); ok {
		status = apiErr.HTTPStatusCode
	} else {
		status = statusFromMessage(err.Error())
	}
	return NewCallError(p.name, model, status, err)
}

func asAPIError(err error, target **openai.APIError) bool {
	type apiErrorUnwrapper interface{ Unwrap() error }
	for err != nil {
		if ae, ok := err.(*openai.APIError); ok {
			*target = ae
			return true
		}
		u, ok := err.(apiErrorUnwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// NewMistralProvider builds the mistral provider (primary-B), grounded on
// Mistral's OpenAI-compatible chat-completions API.
func NewMistralProvider(apiKey, defaultModel string) Provider {
	if defaultModel == "" {
		defaultModel = "mistral-large-latest"
	}
	return newOpenAICompatProvider("mistral", apiKey, "https://api.mistral.ai/v1", defaultModel)
}

// NewOpenRouterProvider builds the openrouter provider (aux), grounded on
// OpenRouter's OpenAI-compatible chat-completions API.
func NewOpenRouterProvider(apiKey, defaultModel string) Provider {
	if defaultModel == "" {
		defaultModel = "openrouter/auto"
	}
	return newOpenAICompatProvider("openrouter", apiKey, "https://openrouter.ai/api/v1", defaultModel)
}
