package perception

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"google.golang.org/genai"

	"patternpress/internal/logging"
)

// GeminiClient implements LLMClient on the Google GenAI SDK.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:  apiKey,
		Model:   "gemini-2.5-flash",
		Timeout: 5 * time.Minute,
	}
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultGeminiConfig("").Model
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, model: config.Model, timeout: config.Timeout}, nil
}

// Model returns the configured model ID.
func (c *GeminiClient) Model() string { return c.model }

// Complete sends one generateContent request. It does not retry.
func (c *GeminiClient) Complete(ctx context.Context, r Request) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[Gemini] Complete: model=%s system_len=%d prompt_len=%d", c.model, len(r.System), len(r.Prompt))

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(r.Temperature)),
	}
	if r.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(r.MaxTokens)
	}
	if strings.TrimSpace(r.System) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(r.System, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(r.Prompt, genai.RoleUser)}, cfg)
	if err != nil {
		logging.APIWarn("[Gemini] Complete: failed after %v: %v", time.Since(startTime), err)
		return "", classifyGeminiError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &APIError{Provider: ProviderGemini, Message: "no completion returned"}
	}
	logging.API("[Gemini] Complete: completed in %v response_len=%d", time.Since(startTime), len(text))
	return text, nil
}

// classifyGeminiError maps SDK errors to the retry taxonomy.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED":
			return &RateLimitError{Provider: ProviderGemini, Body: apiErr.Message}
		case apiErr.Code >= 500 || apiErr.Status == "UNAVAILABLE":
			return &TransientError{Provider: ProviderGemini, StatusCode: apiErr.Code, Err: err}
		default:
			return &APIError{Provider: ProviderGemini, StatusCode: apiErr.Code, Message: apiErr.Message}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Provider: ProviderGemini, Err: err}
	}
	return &APIError{Provider: ProviderGemini, Message: err.Error()}
}
