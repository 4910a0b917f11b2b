package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/ahrav/go-beacon/internal/domain"
)

const (
	// GoogleDefaultModel is used when no model is configured.
	GoogleDefaultModel = "gemini-2.5-flash"
)

func init() {
	RegisterProviderFactory(domain.ProviderGoogle, newGoogleProvider)
}

// googleProvider implements CoreLLM for the Gemini API.
type googleProvider struct {
	baseProvider
	client *genai.Client
}

func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	clientConfig, err := buildAuthConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to configure authentication: %w", err)
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &googleProvider{
		baseProvider: newBaseProvider(domain.ProviderGoogle, config.Model, GoogleDefaultModel),
		client:       client,
	}, nil
}

// DoRequest sends one generateContent call and returns the joined text parts.
func (p *googleProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	model := p.resolveModel(req)
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	cfg := p.buildGenerationConfig(req)

	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	latency := timeCall(func() { resp, err = p.client.Models.GenerateContent(ctx, model, contents, cfg) })

	out := Response{Model: model, Latency: latency}
	if err != nil {
		return out, p.handleError(err)
	}

	text := resp.Text()
	if text == "" {
		return out, NewProviderError(string(p.provider), ErrorTypeUnknown, 0, "", ErrEmptyResponse)
	}
	out.Text = text
	return out, nil
}

func (p *googleProvider) buildGenerationConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}
	return cfg
}

func (p *googleProvider) handleError(err error) error {
	if isContextError(err) {
		return p.classifier.ClassifyContextError(err)
	}

	if apiErr, ok := asGenaiError(err); ok {
		if isSafetyBlock(apiErr.Message, apiErr.Status) {
			return NewProviderError(string(p.provider), ErrorTypeContentPolicy, apiErr.Code,
				"request blocked by safety filters", err)
		}
		return p.classifier.ClassifyHTTPError(apiErr.Code, apiErr.Message, err)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		message := gErr.Message
		if message == "" && len(gErr.Errors) > 0 {
			message = gErr.Errors[0].Message
		}
		if isSafetyBlock(message, firstReason(gErr)) {
			return NewProviderError(string(p.provider), ErrorTypeContentPolicy, gErr.Code,
				"request blocked by safety filters", err)
		}
		return p.classifier.ClassifyHTTPError(gErr.Code, message, err).WithBody(gErr.Body)
	}

	return p.unknownError(err)
}

// asGenaiError finds a genai.APIError in err whether it was returned by
// value or by pointer.
func asGenaiError(err error) (genai.APIError, bool) {
	var val genai.APIError
	if errors.As(err, &val) {
		return val, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

// buildAuthConfig accepts API keys only. Service-account credential files
// are rejected with a pointer to the supported setup.
func buildAuthConfig(config ClientConfig) (*genai.ClientConfig, error) {
	if looksLikeFilePath(config.APIKey) {
		if _, err := os.Stat(config.APIKey); err != nil {
			return nil, fmt.Errorf("credentials file not found: %s", config.APIKey)
		}
		return nil, fmt.Errorf("service account authentication is not supported; use a Gemini API key")
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, err
		}
		cc.HTTPOptions.BaseURL = validatedURL
	}
	if hc := httpClient(config.Timeout); hc != nil {
		cc.HTTPClient = hc
	}
	return cc, nil
}

func looksLikeFilePath(s string) bool {
	if filepath.IsAbs(s) || strings.ContainsAny(s, `/\`) {
		return true
	}
	lower := strings.ToLower(s)
	return strings.HasSuffix(lower, ".json") ||
		strings.HasSuffix(lower, ".p12") ||
		strings.HasSuffix(lower, ".pem") ||
		strings.Contains(lower, "credentials")
}

func isSafetyBlock(message, reason string) bool {
	if reason == "SAFETY" || reason == "BLOCKED" {
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "safety") ||
		strings.Contains(lower, "policy") ||
		strings.Contains(lower, "blocked")
}

func firstReason(e *googleapi.Error) string {
	if len(e.Errors) > 0 {
		return e.Errors[0].Reason
	}
	return ""
}
