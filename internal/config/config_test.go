package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/jxucoder/promptopt/llm"
)

var envKeys = []string{
	"PROMPTOPT_DATA_DIR", "PROMPTOPT_ADDR", "PROMPTOPT_DB", "PROMPTOPT_PROVIDER",
	"PROMPTOPT_MODEL", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY",
	"PROMPTOPT_CALL_TIMEOUT", "PROMPTOPT_RATE_LIMIT", "PROMPTOPT_RATE_BURST",
	"PROMPTOPT_LOG_LEVEL", "GITHUB_TOKEN", "GITHUB_WEBHOOK_SECRET",
	"SLACK_BOT_TOKEN", "SLACK_APP_TOKEN",
}

// clearEnv isolates a test from the caller's environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	t.Setenv("PROMPTOPT_DATA_DIR", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, cfg.ServerAddr)
	assert.Equal(t, llm.ProviderAuto, cfg.Provider)
	assert.Equal(t, DefaultCallTimeout, cfg.CallTimeout)
	assert.Equal(t, float64(DefaultRateLimit), cfg.RateLimit)
	assert.Equal(t, DefaultRateBurst, cfg.RateBurst)
	assert.Equal(t, filepath.Join(cfg.DataDir, "promptopt.db"), cfg.DatabasePath)
	assert.False(t, cfg.SlackEnabled())
	assert.False(t, cfg.GitHubEnabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROMPTOPT_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("PROMPTOPT_CALL_TIMEOUT", "15s")
	t.Setenv("PROMPTOPT_RATE_LIMIT", "2.5")
	t.Setenv("PROMPTOPT_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, llm.ProviderGemini, cfg.Provider)
	assert.Equal(t, "g-key", cfg.Keys().Gemini)
	assert.Equal(t, 15*time.Second, cfg.CallTimeout)
	assert.Equal(t, 2.5, cfg.RateLimit)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "promptopt.yaml")
	yaml := `server_addr: ":9000"
provider: openai
model: gpt-test
call_timeout: 5s
rate_limit: 1
rate_burst: 2
openai_api_key: from-file
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("PROMPTOPT_MODEL", "gpt-env")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, llm.ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "gpt-env", cfg.Model)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, 2, cfg.RateBurst)
	assert.Equal(t, "from-file", cfg.OpenAIAPIKey)
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.ServerAddr)
}

func TestLoadFileInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: [unclosed"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Provider:    llm.ProviderAuto,
			CallTimeout: time.Second,
			RateLimit:   1,
			RateBurst:   1,
			LogLevel:    "info",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown provider", func(c *Config) { c.Provider = "mistral" }, false},
		{"zero timeout", func(c *Config) { c.CallTimeout = 0 }, false},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }, false},
		{"zero burst", func(c *Config) { c.RateBurst = 0 }, false},
		{"rate limiting disabled", func(c *Config) { c.RateLimit, c.RateBurst = 0, 0 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"half slack config", func(c *Config) { c.SlackBotToken = "xoxb-1" }, false},
		{"full slack config", func(c *Config) { c.SlackBotToken, c.SlackAppToken = "xoxb-1", "xapp-1" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
