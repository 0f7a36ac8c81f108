package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/jxucoder/promptopt/model"
)

var (
	statusColor = color.New(color.FgCyan)
	warnColor   = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
	doneColor   = color.New(color.FgGreen, color.Bold)
	headerColor = color.New(color.Bold)
)

// postJSON sends body to the server and decodes a response with the wanted
// status code into out.
func postJSON(path string, body any, want int, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(serverURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: promptopt serve", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, want, out)
}

func getJSON(path string, out any) error {
	resp, err := http.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: promptopt serve", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, http.StatusOK, out)
}

func decodeResponse(resp *http.Response, want int, out any) error {
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// streamEvents prints a run's progress until the stream ends.
func streamEvents(runID string) error {
	req, _ := http.NewRequest("GET", serverURL+"/api/runs/"+runID+"/events", nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeResponse(resp, http.StatusOK, nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event model.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		printEvent(&event)
		if event.Type == model.EventDone {
			return nil
		}
	}
	return scanner.Err()
}

func printEvent(e *model.Event) {
	switch e.Type {
	case model.EventStatus:
		fmt.Printf("%s %s\n", statusColor.Sprint("[status]"), e.Data)
	case model.EventFallback:
		fmt.Printf("%s %s\n", warnColor.Sprint("[fallback]"), e.Data)
	case model.EventError:
		fmt.Fprintf(os.Stderr, "%s %s\n", errorColor.Sprint("[error]"), e.Data)
	case model.EventDone:
		fmt.Printf("\n%s %s\n", doneColor.Sprint("✓ Done:"), e.Data)
	}
}

// printRun writes the result of a finished run.
func printRun(run *model.Run) {
	if run.Status == model.StatusFailed {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorColor.Sprint("✗ Failed:"), run.Error)
		return
	}

	fmt.Println()
	headerColor.Println("Document")
	fmt.Println(run.FinalDocument)

	if len(run.FinalExamples) > 0 {
		fmt.Println()
		headerColor.Println("Examples")
		for _, ex := range run.FinalExamples {
			fmt.Printf("[%s] %s\n", ex.Role, ex.Content)
		}
	}

	var changes []string
	for _, rw := range run.Rewrites {
		changes = append(changes, rw.Changes...)
	}
	if run.Revision != nil {
		changes = append(changes, run.Revision.Changes...)
	}
	if len(changes) > 0 {
		fmt.Println()
		headerColor.Println("Changes")
		for _, c := range changes {
			fmt.Println("  - " + c)
		}
	}
	fmt.Printf("\nEstimated improvement: %d%%\n", run.Improvement)
	if run.PRUrl != "" {
		fmt.Printf("Pull request: %s\n", run.PRUrl)
	}
}

func statusIcon(status model.Status) string {
	switch status {
	case model.StatusIdle:
		return "⏳ idle"
	case model.StatusDone:
		return "✅ done"
	case model.StatusFailed:
		return "❌ failed"
	default:
		return "🔄 " + string(status)
	}
}

// readDocument returns the positional argument, or the contents of file
// when set. "-" reads standard input.
func readDocument(args []string, file string) (string, error) {
	switch {
	case file == "-":
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", file, err)
		}
		return string(data), nil
	case len(args) > 0:
		return args[0], nil
	}
	return "", nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
