package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jxucoder/promptopt"
	"github.com/jxucoder/promptopt/engine"
	"github.com/jxucoder/promptopt/gitprovider"
	"github.com/jxucoder/promptopt/llm"
	"github.com/jxucoder/promptopt/model"
)

var (
	runFile         string
	runExamplesFile string
	runRepo         string
	runPath         string
	runRef          string
	runLocal        bool
	runPR           bool
	runProvider     string
	runModel        string
	reviseFeedback  string
)

var runCmd = &cobra.Command{
	Use:   "run [document]",
	Short: "Optimize a prompt document",
	Long: `Analyze a prompt document with all eight reviewers and rewrite it.

The document comes from the argument, a file (-f, "-" for stdin) or a
repository file (--repo and --path). With --pr the result is proposed as a
pull request against the source repository.

Example:
  promptopt run "You answer support questions."
  promptopt run -f prompt.md --examples shots.json
  promptopt run --repo myorg/agents --path prompts/support.md --pr`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var reviseCmd = &cobra.Command{
	Use:   "revise [document]",
	Short: "Revise an optimized document from feedback",
	Long: `Interpret free-form feedback and apply it to a document.

Example:
  promptopt revise -f prompt.md --feedback "be more concise and add an example"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRevise,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, reviseCmd} {
		c.Flags().StringVarP(&runFile, "file", "f", "", "read the document from a file (\"-\" for stdin)")
		c.Flags().StringVar(&runRepo, "repo", "", "GitHub repository of the document (owner/repo)")
		c.Flags().StringVar(&runPath, "path", "", "document path in the repository")
		c.Flags().StringVar(&runRef, "ref", "", "branch, tag or commit of the document")
		c.Flags().BoolVar(&runLocal, "local", false, "run in-process instead of on the server")
		c.Flags().BoolVar(&runPR, "pr", false, "propose the result as a pull request (server mode)")
		c.Flags().StringVar(&runProvider, "provider", "", "backend provider for this run (anthropic, openai, gemini)")
		c.Flags().StringVar(&runModel, "model", "", "backend model for this run")
		c.MarkFlagsRequiredTogether("repo", "path")
		rootCmd.AddCommand(c)
	}
	runCmd.Flags().StringVar(&runExamplesFile, "examples", "", "JSON file with the example exchange ([{\"role\":...,\"content\":...}])")
	reviseCmd.Flags().StringVar(&reviseFeedback, "feedback", "", "feedback to apply")
	reviseCmd.MarkFlagRequired("feedback")
}

func runRun(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args, runFile)
	if err != nil {
		return err
	}
	req := engine.RunRequest{Document: doc, Source: source(), Backend: backend()}
	if runExamplesFile != "" {
		data, err := os.ReadFile(runExamplesFile)
		if err != nil {
			return fmt.Errorf("reading examples: %w", err)
		}
		if err := json.Unmarshal(data, &req.Examples); err != nil {
			return fmt.Errorf("parsing examples: %w", err)
		}
	}

	if runLocal {
		return runLocally(func(ctx context.Context, eng *engine.Engine) (*model.Run, error) {
			return eng.Run(ctx, req)
		})
	}
	return runRemote("/api/runs", req)
}

func runRevise(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args, runFile)
	if err != nil {
		return err
	}
	req := engine.ReviseRequest{Document: doc, Feedback: reviseFeedback, Source: source(), Backend: backend()}

	if runLocal {
		return runLocally(func(ctx context.Context, eng *engine.Engine) (*model.Run, error) {
			return eng.Revise(ctx, req)
		})
	}
	return runRemote("/api/revisions", req)
}

func source() string {
	if runRepo == "" {
		return ""
	}
	return gitprovider.Source{Repo: runRepo, Path: runPath, Ref: runRef}.String()
}

func backend() engine.Backend {
	return engine.Backend{Provider: llm.Provider(runProvider), Model: runModel}
}

// runRemote starts a run on the server, streams its progress and prints the
// result.
func runRemote(path string, body any) error {
	var created struct {
		ID string `json:"id"`
	}
	if err := postJSON(path, body, http.StatusAccepted, &created); err != nil {
		return err
	}

	fmt.Printf("Run %s started\n", created.ID)
	fmt.Printf("Streaming progress...\n\n")
	if err := streamEvents(created.ID); err != nil {
		return err
	}

	var run model.Run
	if err := getJSON("/api/runs/"+created.ID, &run); err != nil {
		return err
	}
	printRun(&run)

	if runPR && run.Status == model.StatusDone {
		var pr struct {
			URL string `json:"url"`
		}
		if err := postJSON("/api/runs/"+run.ID+"/pr", engine.PROptions{}, http.StatusCreated, &pr); err != nil {
			return fmt.Errorf("creating pull request: %w", err)
		}
		fmt.Printf("%s %s\n", doneColor.Sprint("✓ PR created:"), pr.URL)
	}
	return nil
}

// runLocally builds an in-process app from the config file and runs fn
// synchronously.
func runLocally(fn func(ctx context.Context, eng *engine.Engine) (*model.Run, error)) error {
	if runPR {
		return fmt.Errorf("--pr requires server mode")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := promptopt.NewBuilder().WithConfig(appConfig(cfg)).WithLogger(logger).Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	run, err := fn(ctx, app.Engine())
	if err != nil {
		return err
	}
	for _, e := range run.Progress {
		printEvent(e)
	}
	printRun(run)
	return nil
}
