// promptopt analyzes prompt documents and rewrites them.
//
// Run the server, then send documents from the command line, Slack or a
// pull request comment. The mcp command serves the same pipelines to MCP
// clients over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jxucoder/promptopt/mcpserver"
)

var (
	version    = "dev"
	serverURL  string
	configPath string
	logLevel   string
	logger     = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "promptopt",
	Short: "promptopt - prompt document optimizer",
	Long: `promptopt analyzes a prompt document with eight reviewers and rewrites it.

  promptopt serve                                    Start the server
  promptopt run "You answer questions."              Optimize a document
  promptopt run --repo owner/repo --path prompt.md   Optimize a file in a repository
  promptopt revise -f prompt.md --feedback "..."     Revise from feedback
  promptopt analyze -f prompt.md                     Report issues only
  promptopt suggest --domain coding                  Suggest starting prompts
  promptopt list                                     List runs
  promptopt status <id>                              Show a run
  promptopt mcp                                      Serve MCP tools over stdio`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lvl, err := zapcore.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		// Keep stdout clean for command output and the MCP transport.
		cfg.OutputPaths = []string{"stderr"}
		l, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	mcpserver.Version = version
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PROMPTOPT_SERVER", "http://localhost:7090"), "promptopt server URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", envOr("PROMPTOPT_CONFIG", defaultConfigPath()), "YAML config file (serve and mcp)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("PROMPTOPT_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
