package llm

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ahrav/go-beacon/internal/domain"
)

const (
	// OpenAIDefaultModel is used when no model is configured.
	OpenAIDefaultModel = "gpt-4o"
)

// openAIZeroTemperature stands in for 0, which go-openai drops from the
// request body because the field is tagged omitempty.
const openAIZeroTemperature = math.SmallestNonzeroFloat32

func init() {
	RegisterProviderFactory(domain.ProviderOpenAI, newOpenAIProvider)
}

// openAIProvider implements CoreLLM for the OpenAI chat completions API.
type openAIProvider struct {
	baseProvider
	client *openai.Client
}

func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		clientConfig.BaseURL = validatedURL
	}

	if hc := httpClient(config.Timeout); hc != nil {
		clientConfig.HTTPClient = hc
	}

	return &openAIProvider{
		baseProvider: newBaseProvider(domain.ProviderOpenAI, config.Model, OpenAIDefaultModel),
		client:       openai.NewClientWithConfig(clientConfig),
	}, nil
}

// DoRequest sends a single chat completion. The answer text of the first
// choice is returned verbatim.
func (p *openAIProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	model := p.resolveModel(req)
	chatReq := p.buildChatCompletionRequest(req, model)

	var (
		resp openai.ChatCompletionResponse
		err  error
	)
	latency := timeCall(func() { resp, err = p.client.CreateChatCompletion(ctx, chatReq) })

	out := Response{Model: model, Latency: latency}
	if err != nil {
		return out, p.handleError(err)
	}
	if len(resp.Choices) == 0 {
		return out, NewProviderError(string(p.provider), ErrorTypeUnknown, 0, "", ErrNoResponseChoice)
	}

	out.Text = resp.Choices[0].Message.Content
	return out, nil
}

func (p *openAIProvider) buildChatCompletionRequest(req Request, model string) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: openAIZeroTemperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	return chatReq
}

// handleError classifies and wraps errors from the OpenAI API.
func (p *openAIProvider) handleError(err error) error {
	if isContextError(err) {
		return p.classifier.ClassifyContextError(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "unknown error"
		}
		return p.classifier.ClassifyHTTPError(apiErr.HTTPStatusCode, message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return p.classifier.ClassifyHTTPError(reqErr.HTTPStatusCode, "request failed", err).
			WithBody(string(reqErr.Body))
	}

	return p.unknownError(err)
}
