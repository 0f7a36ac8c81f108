package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jxucoder/promptopt"
	channelSlack "github.com/jxucoder/promptopt/channel/slack"
	"github.com/jxucoder/promptopt/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the promptopt server",
	Long: `Start the promptopt API server. Runs execute in the background and stream
progress over server-sent events. Slack Socket Mode starts when both
SLACK_BOT_TOKEN and SLACK_APP_TOKEN are set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := promptopt.NewBuilder().
		WithConfig(appConfig(cfg)).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	if cfg.SlackEnabled() {
		eng := app.Engine()
		app.AddChannel(channelSlack.NewBot(cfg.SlackBotToken, cfg.SlackAppToken, eng, eng.Bus(), logger.Named("slack")))
		logger.Info("slack channel enabled")
	}
	if !cfg.GitHubEnabled() {
		logger.Info("GITHUB_TOKEN not set, repository sources and pull requests are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down...")
	}()

	return app.Start(ctx)
}

// loadConfig reads the YAML config file with environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger.Debug("config loaded", zap.String("path", configPath), zap.String("provider", string(cfg.Provider)))
	return cfg, nil
}

func appConfig(cfg *config.Config) promptopt.Config {
	return promptopt.Config{
		ServerAddr:    cfg.ServerAddr,
		DataDir:       cfg.DataDir,
		DatabasePath:  cfg.DatabasePath,
		Provider:      cfg.Provider,
		Model:         cfg.Model,
		Keys:          cfg.Keys(),
		CallTimeout:   cfg.CallTimeout,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
		GitHubToken:   cfg.GitHubToken,
		WebhookSecret: cfg.WebhookSecret,
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "promptopt.yaml"
	}
	return filepath.Join(home, ".promptopt", "config.yaml")
}
