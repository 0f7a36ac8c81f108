package promptopt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jxucoder/promptopt/eventbus"
	ghProvider "github.com/jxucoder/promptopt/gitprovider/github"
	"github.com/jxucoder/promptopt/llm"
	"github.com/jxucoder/promptopt/llm/providers"
	sqliteStore "github.com/jxucoder/promptopt/store/sqlite"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	// Config defaults.
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7090"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "promptopt.db")
	}
	if b.config.Provider == "" {
		b.config.Provider = llm.ProviderAuto
	}
	if b.config.CallTimeout == 0 {
		b.config.CallTimeout = 60 * time.Second
	}

	// Ensure data dir exists.
	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Store.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	// Git provider. Only assigned when configured so the engine sees a nil
	// interface otherwise.
	if b.git == nil && b.config.GitHubToken != "" {
		b.git = ghProvider.NewClient(b.config.GitHubToken)
	}

	// Backend client.
	if b.llm == nil {
		client, err := llmClientFromConfig(b.config)
		switch {
		case err == nil:
			b.llm = client
		case errors.Is(err, providers.ErrNoCredential):
			b.logger.Info("no backend credential configured, all stages use local heuristics")
		default:
			return fmt.Errorf("initializing backend: %w", err)
		}
	}

	return nil
}

// llmClientFromConfig creates a backend client from the configured provider
// and keys.
func llmClientFromConfig(cfg Config) (llm.Client, error) {
	client, _, err := providers.FromKeys(context.Background(), cfg.Keys, cfg.Provider, cfg.Model)
	return client, err
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".promptopt"
	}
	return filepath.Join(home, ".promptopt")
}
