// Package model defines the core domain types shared across all promptopt packages.
// It has zero dependencies on other promptopt packages.
package model

import "time"

// Status represents the current state of a pipeline run.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusAnalyzing   Status = "analyzing"
	StatusAggregating Status = "aggregating"
	StatusRewriting   Status = "rewriting"
	// StatusAnalyzingFeedback and StatusRevising belong to the feedback revision run.
	StatusAnalyzingFeedback Status = "analyzing_feedback"
	StatusRevising          Status = "revising"
	StatusDone              Status = "done"
	// StatusFailed means the orchestrator could not assemble a result. It is a defect, not a runtime condition.
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Kind distinguishes the two pipelines.
type Kind string

const (
	// KindOptimize analyzes a document and rewrites it.
	KindOptimize Kind = "optimize"
	// KindRevise revises an already optimized document from user feedback.
	KindRevise Kind = "revise"
)

// Role is the speaker of an example exchange entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Example is one entry of the ordered example exchange that accompanies a document.
type Example struct {
	Role    Role   `json:"role" schema:"enum=user|assistant"`
	Content string `json:"content"`
}

// CloneExamples returns an independent copy so stages never share a backing array.
func CloneExamples(in []Example) []Example {
	if in == nil {
		return nil
	}
	out := make([]Example, len(in))
	copy(out, in)
	return out
}

// Severity grades an issue report.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// MaxIssues bounds the issue list of a single report.
const MaxIssues = 5

// IssueReport is the structured finding of one analyzer.
type IssueReport struct {
	HasIssues bool     `json:"has_issues"`
	Issues    []string `json:"issues" schema:"maxItems=5"`
	Severity  Severity `json:"severity" schema:"enum=low|medium|high"`
	Category  string   `json:"category"`

	// ExampleIndexes lists the zero-based example entries implicated by the report.
	ExampleIndexes     []int    `json:"example_indexes,omitempty"`
	RewriteSuggestions []string `json:"rewrite_suggestions,omitempty"`
	// RiskAreas is only reported by the safety analyzer.
	RiskAreas []string `json:"risk_areas,omitempty"`
}

// NewIssueReport builds a normalized report.
func NewIssueReport(category string, issues []string, severity Severity) IssueReport {
	return IssueReport{Issues: issues, Severity: severity}.Normalize(category)
}

// NoIssues returns the zero-issue report for a category.
func NoIssues(category string) IssueReport {
	return NewIssueReport(category, nil, SeverityLow)
}

// Normalize enforces has_issues <=> issues non-empty, the issue bound,
// a valid severity and the category name.
func (r IssueReport) Normalize(category string) IssueReport {
	issues := make([]string, 0, len(r.Issues))
	for _, is := range r.Issues {
		if is != "" {
			issues = append(issues, is)
		}
	}
	if len(issues) > MaxIssues {
		issues = issues[:MaxIssues]
	}
	r.Issues = issues
	r.HasIssues = len(issues) > 0
	switch r.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh:
	default:
		r.Severity = SeverityLow
	}
	if !r.HasIssues {
		r.Severity = SeverityLow
		r.ExampleIndexes = nil
		r.RewriteSuggestions = nil
		r.RiskAreas = nil
	}
	if category != "" {
		r.Category = category
	}
	return r
}

// RewriteResult is the output of one rewrite stage.
type RewriteResult struct {
	Stage       string    `json:"stage"`
	Document    string    `json:"document"`
	Examples    []Example `json:"examples,omitempty"`
	Changes     []string  `json:"changes"`
	Improvement int       `json:"improvement"`
	Fallback    bool      `json:"fallback"`
}

// MaxImprovement caps the aggregate improvement estimate of a run.
const MaxImprovement = 80

// ClampImprovement bounds an estimate to [0, max].
func ClampImprovement(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

// Change is one entry of the structured feedback vocabulary.
type Change string

const (
	ChangeRemoveAmbiguity        Change = "remove_ambiguity"
	ChangeMoreDetail             Change = "more_detail"
	ChangePrioritizeInstructions Change = "prioritize_instructions"
	ChangeToolGuidance           Change = "tool_guidance"
	ChangePlanningGuidance       Change = "planning_guidance"
	ChangeOutputFormat           Change = "output_format"
)

// Changes lists the vocabulary in application order.
var Changes = []Change{
	ChangeRemoveAmbiguity,
	ChangeMoreDetail,
	ChangePrioritizeInstructions,
	ChangeToolGuidance,
	ChangePlanningGuidance,
	ChangeOutputFormat,
}

// FeedbackRecord is the classified form of free-text user feedback.
type FeedbackRecord struct {
	Feedback        string   `json:"feedback"`
	Understood      string   `json:"understood"`
	Category        string   `json:"category"`
	RequiredChanges []Change `json:"required_changes"`
	Strategy        string   `json:"strategy"`
	Impact          float64  `json:"impact"`
}

// Revision is the result of the feedback revision pipeline.
type Revision struct {
	Document          string   `json:"document"`
	Changes           []string `json:"changes"`
	FeedbackAddressed []string `json:"feedback_addressed"`
	Explanation       string   `json:"explanation"`
	// General is set when the free-form general revision path handled the feedback.
	General  bool `json:"general"`
	Fallback bool `json:"fallback"`
}

// Suggestion is one candidate prompt template.
type Suggestion struct {
	Title     string `json:"title"`
	Text      string `json:"text"`
	Rationale string `json:"rationale"`
}

// Suggestions is the ranked answer to a prompt suggestion request.
type Suggestions struct {
	Domain     string       `json:"domain"`
	TaskType   string       `json:"task_type,omitempty"`
	Confidence float64      `json:"confidence"`
	Candidates []Suggestion `json:"candidates"`
}

// Run is one pipeline invocation: inputs, reports, rewrites and progress log.
type Run struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`
	Model  string `json:"model,omitempty"`
	Source string `json:"source,omitempty"` // owner/repo:path@ref when loaded from a repository

	Document string    `json:"document"`
	Examples []Example `json:"examples,omitempty"`
	Feedback string    `json:"feedback,omitempty"`

	Reports        []IssueReport   `json:"reports,omitempty"`
	Rewrites       []RewriteResult `json:"rewrites,omitempty"`
	FeedbackRecord *FeedbackRecord `json:"feedback_record,omitempty"`
	Revision       *Revision       `json:"revision,omitempty"`

	FinalDocument string    `json:"final_document"`
	FinalExamples []Example `json:"final_examples,omitempty"`
	Improvement   int       `json:"improvement"`

	Progress []*Event `json:"progress,omitempty"`

	PRUrl     string    `json:"pr_url,omitempty"`
	PRNumber  int       `json:"pr_number,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Report returns the report of the given analyzer category.
func (r *Run) Report(category string) (IssueReport, bool) {
	for _, rep := range r.Reports {
		if rep.Category == category {
			return rep, true
		}
	}
	return IssueReport{}, false
}

// TotalIssues counts issues across all reports.
func (r *Run) TotalIssues() int {
	n := 0
	for _, rep := range r.Reports {
		n += len(rep.Issues)
	}
	return n
}

// Event types. EventFallback marks a stage whose backend call failed.
const (
	EventStatus   = "status"
	EventFallback = "fallback"
	EventError    = "error"
	EventDone     = "done"
)

// Event is one entry of a run's append-only progress log.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"` // "status", "fallback", "error", "done"
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
