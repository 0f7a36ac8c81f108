package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jxucoder/promptopt/engine"
	"github.com/jxucoder/promptopt/model"
)

var (
	analyzeFile   string
	analyzeStages []string

	suggestDomain   string
	suggestTask     string
	suggestRequire  []string
	suggestDocument string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [document]",
	Short: "Report the issues of a prompt document without rewriting it",
	Long: `Run the reviewers over a document and print their reports.

Example:
  promptopt analyze -f prompt.md
  promptopt analyze -f prompt.md --stages clarity,agentic`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest starting prompts for a domain",
	Long: `Propose ranked prompt templates. Without --domain the domain is detected
from --prompt.

Example:
  promptopt suggest --domain coding --task debug
  promptopt suggest --prompt "You help customers with billing questions."`,
	Args: cobra.NoArgs,
	RunE: runSuggest,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFile, "file", "f", "", "read the document from a file (\"-\" for stdin)")
	analyzeCmd.Flags().StringSliceVar(&analyzeStages, "stages", nil, "reviewers to run (default all)")
	suggestCmd.Flags().StringVar(&suggestDomain, "domain", "", "domain of the prompt (coding, writing, analysis, ...)")
	suggestCmd.Flags().StringVar(&suggestTask, "task", "", "task type within the domain")
	suggestCmd.Flags().StringArrayVar(&suggestRequire, "require", nil, "requirement the prompt must meet (repeatable)")
	suggestCmd.Flags().StringVar(&suggestDocument, "prompt", "", "existing prompt used to detect the domain")
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(suggestCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args, analyzeFile)
	if err != nil {
		return err
	}

	var resp struct {
		Reports     []model.IssueReport `json:"reports"`
		TotalIssues int                 `json:"total_issues"`
	}
	req := engine.AnalyzeRequest{Document: doc, Stages: analyzeStages}
	if err := postJSON("/api/analyze", req, http.StatusOK, &resp); err != nil {
		return err
	}

	for _, r := range resp.Reports {
		if !r.HasIssues {
			fmt.Printf("%s %s\n", doneColor.Sprint("✓"), r.Category)
			continue
		}
		fmt.Printf("%s %s (%s)\n", severityColor(r.Severity).Sprint("●"), r.Category, r.Severity)
		for _, issue := range r.Issues {
			fmt.Println("    - " + issue)
		}
	}
	fmt.Printf("\n%d issue(s) found\n", resp.TotalIssues)
	return nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	if suggestDomain == "" && strings.TrimSpace(suggestDocument) == "" {
		return fmt.Errorf("either --domain or --prompt is required")
	}

	var s model.Suggestions
	req := engine.SuggestRequest{
		Document:     suggestDocument,
		Domain:       suggestDomain,
		TaskType:     suggestTask,
		Requirements: suggestRequire,
	}
	if err := postJSON("/api/suggestions", req, http.StatusOK, &s); err != nil {
		return err
	}

	headerColor.Printf("Domain: %s", s.Domain)
	if s.Confidence < 1 {
		fmt.Printf(" (confidence %.0f%%)", s.Confidence*100)
	}
	fmt.Println()
	for i, c := range s.Candidates {
		fmt.Printf("\n%d. %s\n", i+1, headerColor.Sprint(c.Title))
		fmt.Println(c.Text)
		if c.Rationale != "" {
			fmt.Printf("   %s\n", statusColor.Sprint(c.Rationale))
		}
	}
	return nil
}
