package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ahrav/go-beacon/internal/domain"
)

const (
	// AnthropicDefaultModel is used when no model is configured.
	AnthropicDefaultModel = "claude-sonnet-4-20250514"
)

func init() {
	RegisterProviderFactory(domain.ProviderAnthropic, newAnthropicProvider)
}

// anthropicProvider implements CoreLLM for Anthropic's Messages API.
type anthropicProvider struct {
	baseProvider
	client anthropic.Client
}

func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	// The SDK retries 429 and 5xx on its own unless told not to.
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithBaseURL(validatedURL))
	}
	if hc := httpClient(config.Timeout); hc != nil {
		opts = append(opts, option.WithHTTPClient(hc))
	}

	return &anthropicProvider{
		baseProvider: newBaseProvider(domain.ProviderAnthropic, config.Model, AnthropicDefaultModel),
		client:       anthropic.NewClient(opts...),
	}, nil
}

// DoRequest sends one message and concatenates the text blocks of the reply.
func (p *anthropicProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	model := p.resolveModel(req)
	params := p.buildParams(req, model)

	var (
		msg *anthropic.Message
		err error
	)
	latency := timeCall(func() { msg, err = p.client.Messages.New(ctx, params) })

	out := Response{Model: model, Latency: latency}
	if err != nil {
		return out, p.handleError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	if text.Len() == 0 {
		return out, NewProviderError(string(p.provider), ErrorTypeUnknown, 0, "", ErrEmptyResponse)
	}

	out.Text = text.String()
	return out, nil
}

func (p *anthropicProvider) buildParams(req Request, model string) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

func (p *anthropicProvider) handleError(err error) error {
	if isContextError(err) {
		return p.classifier.ClassifyContextError(err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return p.classifier.ClassifyHTTPError(apiErr.StatusCode, "request failed", err).
			WithBody(apiErr.RawJSON())
	}

	return p.unknownError(err)
}
