// Package mcpserver exposes the promptopt pipelines as Model Context Protocol
// tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jxucoder/promptopt/engine"
	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/pipeline"
)

// Tool names.
const (
	ToolOptimize    = "optimize_prompt"
	ToolRevise      = "revise_with_feedback"
	ToolAnalyze     = "analyze_prompt"
	ToolSuggestions = "get_prompt_suggestions"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Engine is the part of the engine the tools call.
type Engine interface {
	Run(ctx context.Context, req engine.RunRequest) (*model.Run, error)
	Revise(ctx context.Context, req engine.ReviseRequest) (*model.Run, error)
	Analyze(ctx context.Context, req engine.AnalyzeRequest) ([]model.IssueReport, error)
	Suggest(ctx context.Context, req engine.SuggestRequest) (*model.Suggestions, error)
}

// Server wraps an MCP server whose tools run promptopt pipelines.
type Server struct {
	engine Engine
	mcp    *server.MCPServer
	logger *zap.Logger
}

// New creates the MCP server with all tools registered.
func New(eng Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{engine: eng, logger: logger}
	s.mcp = server.NewMCPServer(
		"promptopt",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Analyze, optimize and revise LLM prompts. "+
			"Use optimize_prompt first, then revise_with_feedback to adjust the result."),
	)
	s.mcp.AddTool(optimizeTool(), s.handleOptimize)
	s.mcp.AddTool(reviseTool(), s.handleRevise)
	s.mcp.AddTool(analyzeTool(), s.handleAnalyze)
	s.mcp.AddTool(suggestionsTool(), s.handleSuggestions)
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Serve speaks MCP over the given streams until ctx is canceled or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger.Named("mcp")))
	return stdio.Listen(ctx, in, out)
}

// --- Tool definitions ---

func optimizeTool() mcp.Tool {
	return mcp.NewTool(ToolOptimize,
		mcp.WithDescription("Analyze a prompt with eight concurrent analyzers and rewrite it and its few-shot examples."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The prompt text to optimize")),
		mcp.WithArray("few_shot_messages",
			mcp.Description("Optional few-shot example messages, in order"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"role":    map[string]any{"type": "string", "enum": []string{"user", "assistant"}},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"role", "content"},
			}),
		),
		mcp.WithBoolean("include_analysis", mcp.Description("Include the analyzer findings (default true)")),
	)
}

func reviseTool() mcp.Tool {
	return mcp.NewTool(ToolRevise,
		mcp.WithDescription("Revise an optimized prompt according to free-text user feedback."),
		mcp.WithString("optimized_prompt", mcp.Required(), mcp.Description("The prompt to revise")),
		mcp.WithString("user_feedback", mcp.Required(), mcp.Description("What the user wants changed")),
		mcp.WithBoolean("include_analysis", mcp.Description("Include the feedback analysis (default true)")),
	)
}

func analyzeTool() mcp.Tool {
	names := make([]string, 0, len(pipeline.Analyzers))
	for _, id := range pipeline.Analyzers {
		names = append(names, string(id))
	}
	return mcp.NewTool(ToolAnalyze,
		mcp.WithDescription("Report the issues in a prompt without rewriting it."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The prompt text to analyze")),
		mcp.WithArray("analysis_types",
			mcp.Description("Analyzers to run (default all)"),
			mcp.Items(map[string]any{"type": "string", "enum": names}),
		),
	)
}

func suggestionsTool() mcp.Tool {
	return mcp.NewTool(ToolSuggestions,
		mcp.WithDescription("Suggest ranked prompt templates for a domain and task."),
		mcp.WithString("domain",
			mcp.Description("Prompt domain; detected from prompt when omitted"),
			mcp.Enum("coding", "writing", "analysis", "creative", "customer_service", "education", "general"),
		),
		mcp.WithString("task_type", mcp.Description("Task type, e.g. debug, review, generate, summarize, translate")),
		mcp.WithArray("requirements",
			mcp.Description("Extra requirements the templates should satisfy"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("prompt", mcp.Description("A draft prompt used to detect the domain")),
	)
}

// --- Handlers ---

type optimizeArgs struct {
	Prompt          string          `json:"prompt"`
	FewShotMessages []model.Example `json:"few_shot_messages"`
	IncludeAnalysis *bool           `json:"include_analysis"`
}

func (s *Server) handleOptimize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args optimizeArgs
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	for i, ex := range args.FewShotMessages {
		if ex.Role != model.RoleUser && ex.Role != model.RoleAssistant {
			return mcp.NewToolResultError(fmt.Sprintf("few_shot_messages[%d]: role must be 'user' or 'assistant'", i)), nil
		}
	}

	run, err := s.engine.Run(ctx, engine.RunRequest{Document: args.Prompt, Examples: args.FewShotMessages})
	if err != nil {
		return s.toolError(ToolOptimize, err), nil
	}
	return mcp.NewToolResultText(formatRun(run, include(args.IncludeAnalysis))), nil
}

type reviseArgs struct {
	OptimizedPrompt string `json:"optimized_prompt"`
	UserFeedback    string `json:"user_feedback"`
	IncludeAnalysis *bool  `json:"include_analysis"`
}

func (s *Server) handleRevise(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args reviseArgs
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	run, err := s.engine.Revise(ctx, engine.ReviseRequest{Document: args.OptimizedPrompt, Feedback: args.UserFeedback})
	if err != nil {
		return s.toolError(ToolRevise, err), nil
	}
	return mcp.NewToolResultText(formatRevision(run, include(args.IncludeAnalysis))), nil
}

type analyzeArgs struct {
	Prompt        string   `json:"prompt"`
	AnalysisTypes []string `json:"analysis_types"`
}

// analyzerAliases maps older analyzer names onto the roster.
var analyzerAliases = map[string]string{
	"agentic_capabilities": string(pipeline.StageAgentic),
}

func (s *Server) handleAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args analyzeArgs
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stages := make([]string, 0, len(args.AnalysisTypes))
	for _, t := range args.AnalysisTypes {
		if alias, ok := analyzerAliases[strings.ToLower(t)]; ok {
			t = alias
		}
		stages = append(stages, t)
	}

	reports, err := s.engine.Analyze(ctx, engine.AnalyzeRequest{Document: args.Prompt, Stages: stages})
	if err != nil {
		return s.toolError(ToolAnalyze, err), nil
	}
	return mcp.NewToolResultText(formatReports(reports)), nil
}

type suggestionsArgs struct {
	Domain       string   `json:"domain"`
	TaskType     string   `json:"task_type"`
	Requirements []string `json:"requirements"`
	Prompt       string   `json:"prompt"`
}

func (s *Server) handleSuggestions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args suggestionsArgs
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.engine.Suggest(ctx, engine.SuggestRequest{
		Document:     args.Prompt,
		Domain:       args.Domain,
		TaskType:     args.TaskType,
		Requirements: args.Requirements,
	})
	if err != nil {
		return s.toolError(ToolSuggestions, err), nil
	}
	return mcp.NewToolResultText(formatSuggestions(out)), nil
}

// bindArgs decodes the tool arguments into v.
func bindArgs(req mcp.CallToolRequest, v any) error {
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return fmt.Errorf("encoding arguments: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, engine.ErrInputEmpty):
		return mcp.NewToolResultError("The prompt is empty. Provide the prompt text to work on.")
	case errors.Is(err, engine.ErrUnknownStage):
		return mcp.NewToolResultError(err.Error())
	}
	s.logger.Error("tool failed", zap.String("tool", tool), zap.Error(err))
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", tool, err))
}

func include(b *bool) bool { return b == nil || *b }

// --- Formatting ---

func formatRun(run *model.Run, withAnalysis bool) string {
	var b strings.Builder
	b.WriteString("# Prompt optimization result\n\n")
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- **Issues found**: %d\n", run.TotalIssues())
	fmt.Fprintf(&b, "- **Estimated improvement**: %d%%\n", run.Improvement)
	fmt.Fprintf(&b, "- **Run**: `%s`\n\n", run.ID)

	b.WriteString("## Optimized prompt\n```\n")
	b.WriteString(run.FinalDocument)
	b.WriteString("\n```\n\n")

	if !withAnalysis {
		return b.String()
	}
	if issues := flatten(run.Reports); len(issues) > 0 {
		b.WriteString("## Issues\n")
		for i, s := range issues {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
		b.WriteString("\n")
	}
	var changes []string
	for _, rw := range run.Rewrites {
		changes = append(changes, rw.Changes...)
	}
	if len(changes) > 0 {
		b.WriteString("## Changes\n")
		for i, c := range changes {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
		b.WriteString("\n")
	}
	if len(run.FinalExamples) > 0 {
		b.WriteString("## Optimized few-shot examples\n")
		for i, ex := range run.FinalExamples {
			fmt.Fprintf(&b, "%d. **%s**: %s\n", i+1, ex.Role, ex.Content)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatRevision(run *model.Run, withAnalysis bool) string {
	rev := run.Revision
	if rev == nil {
		rev = &model.Revision{Document: run.FinalDocument}
	}
	var b strings.Builder
	b.WriteString("# Feedback revision result\n\n")
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- **Changes applied**: %d\n", len(rev.Changes))
	fmt.Fprintf(&b, "- **Feedback addressed**: %d\n", len(rev.FeedbackAddressed))
	fmt.Fprintf(&b, "- **Estimated improvement**: %d%%\n\n", run.Improvement)

	b.WriteString("## Revised prompt\n```\n")
	b.WriteString(run.FinalDocument)
	b.WriteString("\n```\n\n")

	if !withAnalysis {
		return b.String()
	}
	if rec := run.FeedbackRecord; rec != nil {
		b.WriteString("## Feedback analysis\n")
		fmt.Fprintf(&b, "- **Understood as**: %s\n", rec.Understood)
		fmt.Fprintf(&b, "- **Category**: %s\n", rec.Category)
		fmt.Fprintf(&b, "- **Strategy**: %s\n\n", rec.Strategy)
	}
	if len(rev.Changes) > 0 {
		b.WriteString("## Changes\n")
		for i, c := range rev.Changes {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
		b.WriteString("\n")
	}
	if len(rev.FeedbackAddressed) > 0 {
		b.WriteString("## Feedback addressed\n")
		for i, f := range rev.FeedbackAddressed {
			fmt.Fprintf(&b, "%d. %s\n", i+1, f)
		}
		b.WriteString("\n")
	}
	if rev.Explanation != "" {
		b.WriteString("## Explanation\n")
		b.WriteString(rev.Explanation)
		b.WriteString("\n")
	}
	return b.String()
}

func formatReports(reports []model.IssueReport) string {
	var b strings.Builder
	b.WriteString("# Prompt analysis\n\n")
	cats := make([]string, 0, len(reports))
	total := 0
	for _, r := range reports {
		cats = append(cats, r.Category)
		total += len(r.Issues)
	}
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- **Analyzers**: %s\n", strings.Join(cats, ", "))
	fmt.Fprintf(&b, "- **Issues found**: %d\n\n", total)

	if total == 0 {
		b.WriteString("No issues found.\n")
		return b.String()
	}
	for _, r := range reports {
		if !r.HasIssues {
			continue
		}
		fmt.Fprintf(&b, "## %s (%s)\n", r.Category, r.Severity)
		for _, issue := range r.Issues {
			b.WriteString("- " + issue + "\n")
		}
		for _, s := range r.RewriteSuggestions {
			b.WriteString("- suggestion: " + s + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatSuggestions(s *model.Suggestions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Prompt suggestions: %s\n\n", s.Domain)
	if s.TaskType != "" {
		fmt.Fprintf(&b, "- **Task type**: %s\n", s.TaskType)
	}
	fmt.Fprintf(&b, "- **Domain confidence**: %.2f\n\n", s.Confidence)
	for i, c := range s.Candidates {
		fmt.Fprintf(&b, "## %d. %s\n```\n%s\n```\n", i+1, c.Title, c.Text)
		if c.Rationale != "" {
			b.WriteString(c.Rationale + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func flatten(reports []model.IssueReport) []string {
	var out []string
	for _, r := range reports {
		for _, issue := range r.Issues {
			out = append(out, fmt.Sprintf("[%s] %s", r.Category, issue))
		}
	}
	return out
}
