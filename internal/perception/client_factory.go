package perception

import (
	"context"
	"fmt"

	"patternpress/internal/config"
)

// NewClientFromConfig builds the provider client named by cfg.LLM.Provider.
func NewClientFromConfig(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	llm := cfg.LLM
	timeout := cfg.GetCallTimeout()

	switch Provider(llm.Provider) {
	case ProviderAnthropic, "":
		if llm.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key not configured (set llm.api_key or ANTHROPIC_API_KEY)")
		}
		ac := DefaultAnthropicConfig(llm.APIKey)
		if llm.BaseURL != "" {
			ac.BaseURL = llm.BaseURL
		}
		if llm.Model != "" {
			ac.Model = llm.Model
		}
		ac.Timeout = timeout
		return NewAnthropicClientWithConfig(ac), nil

	case ProviderGemini:
		gc := DefaultGeminiConfig(llm.APIKey)
		if llm.Model != "" {
			gc.Model = llm.Model
		}
		gc.Timeout = timeout
		return NewGeminiClient(ctx, gc)

	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", llm.Provider)
	}
}

// RetryPolicyFromConfig reads retry and timeout settings.
func RetryPolicyFromConfig(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.GetRetryBaseDelay(),
		CallTimeout: cfg.GetCallTimeout(),
	}
}

// NewDeriverFromConfig wires a client into a Deriver with the configured
// retry policy and sampling settings.
func NewDeriverFromConfig(client LLMClient, cfg *config.Config) *Deriver {
	return &Deriver{
		Client:      client,
		Policy:      RetryPolicyFromConfig(cfg),
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}
}
