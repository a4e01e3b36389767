package config

// LLMConfig configures the derivation client.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // anthropic, gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// CallTimeout bounds a single HTTP round-trip. It is separate from the
	// retry policy: a call that times out counts as one transient failure.
	CallTimeout string `yaml:"call_timeout"`
}

// RetryConfig configures bounded retry of derivation calls.
//
// Rate-limit responses wait BaseDelay*attempt (linear); other transient
// failures wait BaseDelay. After MaxAttempts the stage fails.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
}
