package fallback

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/schema"
)

// Guidance sentences added by the rewrite and revision heuristics.
const (
	RoleLine        = "You are a helpful AI assistant."
	PersistenceLine = "Please keep going until the task is completely resolved, before ending your turn."
	ToolLine        = "If you are not sure about information needed for the task, use available tools to gather relevant information - do NOT guess or make up an answer."
	PlanningLine    = "Plan extensively before taking action, and reflect on the outcomes of your actions."
	DetailLine      = "Please provide detailed, comprehensive responses with clear explanations."
	PriorityLine    = "Please prioritize important instructions and ensure they are clear."
	FormatSuffix    = "Provide your response in a clear, structured format."
	ConflictRule    = "When two instructions conflict, follow the mandatory one (must, always, required) and ignore the optional wording."

	outputFormatHeading = "## Output Format"
)

// formatCue marks a document that already states an output format.
var formatCue = newLexicon("format", "formats", "formatted", "formatting")

// Per-change improvement weights.
const (
	rewriteWeight = 10
	finishWeight  = 15
)

// RewriteDocument resolves flagged contradictions and adds an output format
// section when the format report has issues. Examples are never touched.
func RewriteDocument(doc string, contradiction, format model.IssueReport) schema.RewriteOutput {
	out := doc
	var changes []string

	if contradiction.HasIssues {
		resolved := false
		for _, s := range sentences(out) {
			if !unconditional.in(s) || !permissive.in(s) {
				continue
			}
			kept := keepMandatory(s)
			if kept == "" || kept == s {
				continue
			}
			out = strings.Replace(out, s, kept, 1)
			changes = append(changes, fmt.Sprintf("resolved conflicting directive %q as %q", s, kept))
			resolved = true
		}
		lower := strings.ToLower(out)
		if strings.Contains(lower, "minified") && containsAny(lower, "pretty", "indented") {
			var added bool
			out, added = appendLine(out, "When formatting requirements conflict, return minified output.", "formatting requirements conflict")
			if added {
				changes = append(changes, "settled the minified versus pretty-printed conflict in favor of minified output")
				resolved = true
			}
		}
		if !resolved {
			var added bool
			out, added = appendLine(out, ConflictRule, ConflictRule)
			if added {
				changes = append(changes, "added a rule for resolving conflicting instructions")
			}
		}
	}

	if format.HasIssues && !strings.Contains(out, outputFormatHeading) {
		out = strings.TrimRight(out, " \t\n") + "\n\n" + outputFormatHeading + "\n" + formatSection(out)
		changes = append(changes, "added an Output Format section")
	}

	return schema.RewriteOutput{
		Document:             out,
		Changes:              nonNil(changes),
		EstimatedImprovement: model.ClampImprovement(len(changes)*rewriteWeight, 100),
	}
}

// keepMandatory drops the permissive clauses of a sentence and keeps the
// mandatory ones.
func keepMandatory(sentence string) string {
	var kept []string
	for _, c := range clauses(sentence) {
		if permissive.in(c) && !unconditional.in(c) {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, ", ") + "."
}

func formatSection(doc string) string {
	lower := strings.ToLower(doc)
	switch {
	case jsonWord.in(doc):
		return "Respond with a single JSON object. List every field with its type, mark which fields are required, and return null for a missing value instead of omitting the key. Do not add prose outside the object."
	case strings.Contains(lower, "csv"):
		return "Respond with CSV: one header row, then one comma-separated row per record. Do not add prose before or after the rows."
	case strings.Contains(lower, "xml"):
		return "Respond with a single well-formed XML document with one root element. Name every element and say which are optional."
	case strings.Contains(lower, "yaml"):
		return "Respond with a single YAML document. List every key with its type and mark which keys are required."
	case strings.Contains(lower, "table"):
		return "Respond with a Markdown table that has a header row and one row per item."
	default:
		return "Respond in the structured form described above, with every field named and typed, and no extra prose."
	}
}

// RewriteExamples regenerates the assistant entries implicated by the
// consistency report. Every other entry is copied verbatim; order and count
// are preserved.
func RewriteExamples(doc string, examples []model.Example, report model.IssueReport) schema.RewriteOutput {
	out := model.CloneExamples(examples)
	if out == nil {
		out = []model.Example{}
	}
	if !report.HasIssues {
		return schema.RewriteOutput{Document: doc, Examples: out, Changes: []string{}}
	}

	implicated := Implicated(examples, report)
	wantsJSON := jsonWord.in(doc)
	oneSentence := containsAny(strings.ToLower(doc), "single sentence", "one sentence")

	var changes []string
	for i := range out {
		if !implicated[i] || out[i].Role != model.RoleAssistant {
			continue
		}
		content := out[i].Content
		if oneSentence {
			content = firstSentence(content)
		}
		if wantsJSON && !json.Valid([]byte(strings.TrimSpace(content))) {
			wrapped, err := json.Marshal(map[string]string{"response": content})
			if err == nil {
				content = string(wrapped)
			}
		}
		if content != out[i].Content {
			out[i].Content = content
			changes = append(changes, fmt.Sprintf("example %d: rewrote the assistant reply to match the document", i+1))
		}
	}

	return schema.RewriteOutput{
		Document:             doc,
		Examples:             out,
		Changes:              nonNil(changes),
		EstimatedImprovement: model.ClampImprovement(len(changes)*rewriteWeight, 100),
	}
}

// Implicated returns the example positions a consistency report points at.
// A flagged report without positions implicates every assistant entry.
func Implicated(examples []model.Example, report model.IssueReport) map[int]bool {
	set := map[int]bool{}
	if !report.HasIssues {
		return set
	}
	for _, i := range report.ExampleIndexes {
		if i >= 0 && i < len(examples) {
			set[i] = true
		}
	}
	if len(set) == 0 {
		for i, ex := range examples {
			if ex.Role == model.RoleAssistant {
				set[i] = true
			}
		}
	}
	return set
}

// Finish applies the guideline refinements implied by the flagged reports and
// then the output-format suffix. Each addition is skipped when already present,
// so Finish(Finish(d)) == Finish(d). With no flagged report only the suffix can
// be added.
func Finish(doc string, reports []model.IssueReport) (string, []string) {
	flagged := map[string]bool{}
	for _, r := range reports {
		if r.HasIssues {
			flagged[r.Category] = true
		}
	}

	out := doc
	var changes []string
	add := func(line, marker, change string) {
		var added bool
		if out, added = appendLine(out, line, marker); added {
			changes = append(changes, change)
		}
	}

	if flagged[CategoryClarity] {
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(out)), "you are") {
			out = RoleLine + " " + strings.TrimLeft(out, " \t\n")
			changes = append(changes, "added a role definition")
		}
		if replaced, ok := clarifyWording(out); ok {
			out = replaced
			changes = append(changes, "replaced ambiguous wording")
		}
		if runeLen(strings.TrimSpace(doc)) < 20 {
			add(DetailLine, DetailLine, "asked for detailed responses")
		}
	}
	if flagged[CategorySpecificity] && wordCount(doc) < 50 {
		add(DetailLine, DetailLine, "asked for detailed responses")
	}
	if flagged[CategoryInstructionFollowing] && importantCue.in(out) && !priorityCue.in(out) {
		add(PriorityLine, PriorityLine, "made instruction priorities explicit")
	}
	if flagged[CategoryAgentic] {
		if !persistence.in(out) {
			add(PersistenceLine, PersistenceLine, "added persistence guidance")
		}
		if toolMention.in(out) && !strings.Contains(strings.ToLower(out), "do not guess") {
			add(ToolLine, "do not guess", "added tool-use guidance")
		}
		if !planning.in(out) {
			add(PlanningLine, PlanningLine, "added planning and reflection guidance")
		}
	}

	if suffixed, ok := ApplyFormatSuffix(out); ok {
		out = suffixed
		changes = append(changes, "added an output format instruction")
	}
	return out, nonNil(changes)
}

// FinishImprovement is the estimate contributed by a finishing pass.
func FinishImprovement(changes []string) int {
	return model.ClampImprovement(len(changes)*finishWeight, 100)
}

// ApplyFormatSuffix appends the output-format instruction when the document
// has no format cue. Applying it twice yields a single suffix.
func ApplyFormatSuffix(doc string) (string, bool) {
	if strings.TrimSpace(doc) == "" || formatCue.in(doc) {
		return doc, false
	}
	return appendLine(doc, FormatSuffix, FormatSuffix)
}

func clarifyWording(doc string) (string, bool) {
	out, a := replaceWord(doc, "maybe", "specifically")
	out, b := replaceWord(out, "perhaps", "exactly")
	return out, a || b
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
