package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all patternpress configuration.
// It is loaded once and passed by value into each component's constructor.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM provider and per-call limits
	LLM LLMConfig `yaml:"llm"`

	// Retry policy for derivation calls
	Retry RetryConfig `yaml:"retry"`

	// Filesystem roots
	Paths PathsConfig `yaml:"paths"`

	// Stage selection and kernel checks
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Fuzzy reference matching thresholds
	Validation ValidationConfig `yaml:"validation"`

	// Per-slug run locking
	Lock LockConfig `yaml:"lock"`

	// Rendered site publishing
	Publish PublishConfig `yaml:"publish"`

	Logging LoggingConfig `yaml:"logging"`
}

// PathsConfig configures where kernels are read and artifacts are written.
type PathsConfig struct {
	KernelDir string `yaml:"kernel_dir"`
	OutputDir string `yaml:"output_dir"`
	DistDir   string `yaml:"dist_dir"`
	Ledger    string `yaml:"ledger"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "patternpress",
		Version: "1.0.0",

		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			BaseURL:     "https://api.anthropic.com/v1",
			MaxTokens:   8192,
			Temperature: 0.7,
			CallTimeout: "5m",
		},

		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   "5s",
		},

		Paths: PathsConfig{
			KernelDir: ".",
			OutputDir: "outputs",
			DistDir:   "dist",
			Ledger:    filepath.Join("outputs", ".press", "ledger.db"),
		},

		Pipeline: PipelineConfig{
			Name:             "content",
			Strict:           false,
			BatchConcurrency: 1,
		},

		Validation: ValidationConfig{
			SnippetRadius:   20,
			MinOverlapWords: 2,
			WeakThreshold:   7,
		},

		Lock: LockConfig{
			Backend: "file",
			TTL:     "30m",
		},

		Publish: PublishConfig{
			UseSSL: true,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields defaults (with environment overrides applied).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Provider keys; the later key wins the provider selection
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
		if c.LLM.Model == "" || c.LLM.Model == DefaultConfig().LLM.Model {
			c.LLM.Model = "gemini-2.5-flash"
		}
	}

	if dir := os.Getenv("PRESS_OUTPUT_DIR"); dir != "" {
		c.Paths.OutputDir = dir
	}
	if addr := os.Getenv("PRESS_REDIS_ADDR"); addr != "" {
		c.Lock.RedisAddr = addr
		c.Lock.Backend = "redis"
	}
	if endpoint := os.Getenv("PRESS_S3_ENDPOINT"); endpoint != "" {
		c.Publish.Endpoint = endpoint
	}
	if key := os.Getenv("PRESS_S3_ACCESS_KEY"); key != "" {
		c.Publish.AccessKey = key
	}
	if secret := os.Getenv("PRESS_S3_SECRET_KEY"); secret != "" {
		c.Publish.SecretKey = secret
	}
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"anthropic", "gemini"}

// ValidLockBackends lists all supported lock backends.
var ValidLockBackends = []string{"file", "redis", "none"}

// ValidPipelines lists the stage lists the orchestrator knows about.
var ValidPipelines = []string{"content", "marketing", "layers"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if !contains(ValidLockBackends, c.Lock.Backend) {
		return fmt.Errorf("invalid lock backend: %s (valid: %v)", c.Lock.Backend, ValidLockBackends)
	}
	if c.Lock.Backend == "redis" && c.Lock.RedisAddr == "" {
		return fmt.Errorf("lock backend redis requires lock.redis_addr (or PRESS_REDIS_ADDR)")
	}
	if !contains(ValidPipelines, c.Pipeline.Name) {
		return fmt.Errorf("invalid pipeline: %s (valid: %v)", c.Pipeline.Name, ValidPipelines)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Pipeline.BatchConcurrency < 1 {
		return fmt.Errorf("pipeline.batch_concurrency must be >= 1, got %d", c.Pipeline.BatchConcurrency)
	}
	if c.Validation.MinOverlapWords < 1 {
		return fmt.Errorf("validation.min_overlap_words must be >= 1, got %d", c.Validation.MinOverlapWords)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetCallTimeout returns the per-call LLM timeout as a duration.
func (c *Config) GetCallTimeout() time.Duration {
	return parseDuration(c.LLM.CallTimeout, 5*time.Minute)
}

// GetRetryBaseDelay returns the retry base delay as a duration.
func (c *Config) GetRetryBaseDelay() time.Duration {
	return parseDuration(c.Retry.BaseDelay, 5*time.Second)
}

// GetLockTTL returns the redis lock TTL as a duration.
func (c *Config) GetLockTTL() time.Duration {
	return parseDuration(c.Lock.TTL, 30*time.Minute)
}
