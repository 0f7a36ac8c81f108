// Package config provides configuration management for promptopt.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/jxucoder/promptopt/llm"
	"github.com/jxucoder/promptopt/llm/providers"
)

// Config holds all configuration for the promptopt server and CLI.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string `yaml:"server_addr"`

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string `yaml:"data_dir"`

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string `yaml:"database_path"`

	// Provider selects the text-generation backend: auto, anthropic, openai or gemini.
	Provider llm.Provider `yaml:"provider"`
	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`

	// CallTimeout bounds every backend call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// RateLimit is the number of mutating API requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// GitHubToken enables loading documents from and proposing them to GitHub.
	GitHubToken string `yaml:"github_token"`
	// WebhookSecret verifies GitHub webhook deliveries.
	WebhookSecret string `yaml:"webhook_secret"`

	// Slack integration (optional -- Socket Mode).
	// SlackBotToken is the Bot User OAuth Token (xoxb-...).
	SlackBotToken string `yaml:"slack_bot_token"`
	// SlackAppToken is the App-Level Token (xapp-...) required for Socket Mode.
	SlackAppToken string `yaml:"slack_app_token"`
}

// Defaults.
const (
	DefaultAddr        = ":7090"
	DefaultCallTimeout = 60 * time.Second
	DefaultRateLimit   = 5
	DefaultRateBurst   = 10
	DefaultLogLevel    = "info"
)

// Load creates a Config from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes a YAML configuration file, then applies environment
// overrides and defaults. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish layers the environment over cfg and fills defaults.
func (c *Config) finish() error {
	c.DataDir = envOr("PROMPTOPT_DATA_DIR", orDefault(c.DataDir, defaultDataDir()))
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	c.ServerAddr = envOr("PROMPTOPT_ADDR", orDefault(c.ServerAddr, DefaultAddr))
	c.DatabasePath = envOr("PROMPTOPT_DB", orDefault(c.DatabasePath, filepath.Join(c.DataDir, "promptopt.db")))
	c.Provider = llm.Provider(envOr("PROMPTOPT_PROVIDER", orDefault(string(c.Provider), string(llm.ProviderAuto))))
	c.Model = envOr("PROMPTOPT_MODEL", c.Model)
	c.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.OpenAIAPIKey = envOr("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.GeminiAPIKey = envOr("GEMINI_API_KEY", c.GeminiAPIKey)

	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	c.CallTimeout = envOrDuration("PROMPTOPT_CALL_TIMEOUT", c.CallTimeout)
	if c.RateLimit == 0 && c.RateBurst == 0 {
		c.RateLimit, c.RateBurst = DefaultRateLimit, DefaultRateBurst
	}
	c.RateLimit = envOrFloat("PROMPTOPT_RATE_LIMIT", c.RateLimit)
	c.RateBurst = envOrInt("PROMPTOPT_RATE_BURST", c.RateBurst)
	c.LogLevel = envOr("PROMPTOPT_LOG_LEVEL", orDefault(c.LogLevel, DefaultLogLevel))

	c.GitHubToken = envOr("GITHUB_TOKEN", c.GitHubToken)
	c.WebhookSecret = envOr("GITHUB_WEBHOOK_SECRET", c.WebhookSecret)
	c.SlackBotToken = envOr("SLACK_BOT_TOKEN", c.SlackBotToken)
	c.SlackAppToken = envOr("SLACK_APP_TOKEN", c.SlackAppToken)
	return nil
}

// Validate checks that the configuration is usable. Missing API keys are not
// an error: every stage then runs on the local heuristics.
func (c *Config) Validate() error {
	if !c.Provider.Valid() {
		return fmt.Errorf("unknown provider %q (want auto, anthropic, openai or gemini)", c.Provider)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive, got %s", c.CallTimeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %v", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate burst must be at least 1 when rate limiting is enabled")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if (c.SlackBotToken == "") != (c.SlackAppToken == "") {
		return fmt.Errorf("SLACK_BOT_TOKEN and SLACK_APP_TOKEN must be set together")
	}
	return nil
}

// Keys returns the configured API keys.
func (c *Config) Keys() providers.Keys {
	return providers.Keys{
		Anthropic: c.AnthropicAPIKey,
		OpenAI:    c.OpenAIAPIKey,
		Gemini:    c.GeminiAPIKey,
	}
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// SlackEnabled returns true if Slack Socket Mode is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// GitHubEnabled returns true if a GitHub token is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubToken != ""
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".promptopt"
	}
	return filepath.Join(home, ".promptopt")
}
