package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jxucoder/promptopt/model"
)

var (
	listLimit  int
	logsFollow bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE:  runList,
}

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show a run and its result",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var logsCmd = &cobra.Command{
	Use:   "logs [run-id]",
	Short: "View run progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum number of runs")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow progress until the run ends")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	var runs []model.Run
	if err := getJSON("/api/runs?limit="+strconv.Itoa(listLimit), &runs); err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tIMPROVEMENT\tDOCUMENT\tPR")
	for _, r := range runs {
		pr := r.PRUrl
		if pr == "" {
			pr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\n", r.ID, r.Kind, statusIcon(r.Status), r.Improvement, truncate(r.Document, 50), pr)
	}
	return w.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	var run model.Run
	if err := getJSON("/api/runs/"+args[0], &run); err != nil {
		return err
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Kind:     %s\n", run.Kind)
	fmt.Printf("Status:   %s\n", statusIcon(run.Status))
	if run.Model != "" {
		fmt.Printf("Model:    %s\n", run.Model)
	}
	if run.Source != "" {
		fmt.Printf("Source:   %s\n", run.Source)
	}
	fmt.Printf("Created:  %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:  %s\n", run.UpdatedAt.Format("2006-01-02 15:04:05"))
	if run.Feedback != "" {
		fmt.Printf("Feedback: %s\n", truncate(run.Feedback, 70))
	}
	if run.Error != "" {
		fmt.Printf("Error:    %s\n", run.Error)
	}
	if len(run.Reports) > 0 {
		fmt.Printf("Issues:   %d\n", run.TotalIssues())
		for _, r := range run.Reports {
			if r.HasIssues {
				fmt.Printf("  %s %s (%d)\n", severityColor(r.Severity).Sprint("●"), r.Category, len(r.Issues))
			}
		}
	}
	if run.Status.Terminal() {
		printRun(&run)
	}
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	if logsFollow {
		return streamEvents(args[0])
	}
	// Progress recorded so far.
	var run model.Run
	if err := getJSON("/api/runs/"+args[0], &run); err != nil {
		return err
	}
	for _, e := range run.Progress {
		printEvent(e)
	}
	return nil
}

func severityColor(s model.Severity) *color.Color {
	switch s {
	case model.SeverityHigh:
		return errorColor
	case model.SeverityMedium:
		return warnColor
	default:
		return statusColor
	}
}
