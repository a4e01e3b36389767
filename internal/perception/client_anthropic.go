package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"patternpress/internal/logging"
)

// AnthropicClient implements LLMClient for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey      string
	baseURL     string
	model       string
	timeout     time.Duration
	minInterval time.Duration
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:      apiKey,
		BaseURL:     defaultAnthropicURL,
		Model:       "claude-sonnet-4-20250514",
		Timeout:     5 * time.Minute,
		MinInterval: 100 * time.Millisecond,
	}
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return NewAnthropicClientWithConfig(DefaultAnthropicConfig(apiKey))
}

// NewAnthropicClientWithConfig creates a new Anthropic client with custom config.
func NewAnthropicClientWithConfig(config AnthropicConfig) *AnthropicClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultAnthropicURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	return &AnthropicClient{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		model:       config.Model,
		timeout:     config.Timeout,
		minInterval: config.MinInterval,
		// The request context carries the deadline; the transport has none of its own.
		httpClient: &http.Client{},
	}
}

// Model returns the configured model ID.
func (c *AnthropicClient) Model() string { return c.model }

// Complete sends one Messages API request. It does not retry.
func (c *AnthropicClient) Complete(ctx context.Context, r Request) (string, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[Anthropic] Complete: model=%s system_len=%d prompt_len=%d", c.model, len(r.System), len(r.Prompt))

	if c.apiKey == "" {
		logging.APIError("[Anthropic] Complete: API key not configured")
		return "", &APIError{Provider: ProviderAnthropic, Message: "API key not configured"}
	}

	c.throttle()

	maxTokens := r.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	reqBody := AnthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      r.System,
		Messages:    []AnthropicMessage{{Role: "user", Content: r.Prompt}},
		Temperature: r.Temperature,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.APIWarn("[Anthropic] Complete: request failed after %v: %v", time.Since(startTime), err)
		return "", &TransientError{Provider: ProviderAnthropic, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if err := classifyStatus(ProviderAnthropic, resp.StatusCode, resp.Header, body); err != nil {
		logging.APIWarn("[Anthropic] Complete: status %d after %v", resp.StatusCode, time.Since(startTime))
		return "", err
	}

	var anthropicResp AnthropicResponse
	if err := json.Unmarshal(body, &anthropicResp); err != nil {
		logging.APIError("[Anthropic] Complete: failed to parse response: %v", err)
		return "", &APIError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Message: "failed to parse response: " + err.Error()}
	}
	if anthropicResp.Error != nil {
		return "", &APIError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Message: anthropicResp.Error.Message}
	}

	var result strings.Builder
	for _, content := range anthropicResp.Content {
		if content.Type == "text" {
			result.WriteString(content.Text)
		}
	}
	response := strings.TrimSpace(result.String())
	if response == "" {
		return "", &APIError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Message: "no completion returned"}
	}

	logging.API("[Anthropic] Complete: completed in %v response_len=%d output_tokens=%d stop=%s",
		time.Since(startTime), len(response), anthropicResp.Usage.OutputTokens, anthropicResp.StopReason)
	return response, nil
}

func (c *AnthropicClient) throttle() {
	if c.minInterval <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < c.minInterval {
		time.Sleep(c.minInterval - elapsed)
	}
	c.lastRequest = time.Now()
}

// classifyStatus maps an HTTP status to the retry taxonomy. 2xx is nil.
func classifyStatus(p Provider, status int, header http.Header, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Provider: p, RetryAfter: parseRetryAfter(header), Body: truncate(string(body), 300)}
	case status >= 500: // includes 529 overloaded
		return &TransientError{Provider: p, StatusCode: status, Err: fmt.Errorf("server error: %s", truncate(string(body), 300))}
	default:
		return &APIError{Provider: p, StatusCode: status, Message: truncate(string(body), 500)}
	}
}

func parseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
