package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jxucoder/promptopt"
	"github.com/jxucoder/promptopt/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the promptopt tools over MCP stdio",
	Long: `Run an in-process engine and expose optimize_prompt, revise_with_feedback,
analyze_prompt and get_prompt_suggestions to an MCP client over stdin and
stdout. Logs go to stderr.

Example client entry:
  {"command": "promptopt", "args": ["mcp"], "env": {"ANTHROPIC_API_KEY": "..."}}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := promptopt.NewBuilder().WithConfig(appConfig(cfg)).WithLogger(logger).Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	app.Engine().Start(ctx)

	srv := mcpserver.New(app.Engine(), logger.Named("mcp"))
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
