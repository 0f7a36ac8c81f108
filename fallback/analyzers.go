// Package fallback is the heuristic engine that stands in for the text
// generation backend. Every function is pure and deterministic: the same input
// always yields the same result, and malformed input yields the zero-issue or
// no-op value of the stage's shape instead of an error.
package fallback

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/schema"
)

// Analyzer categories, shared with the stage registry.
const (
	CategoryContradiction        = "contradiction"
	CategoryFormat               = "format"
	CategoryClarity              = "clarity"
	CategorySpecificity          = "specificity"
	CategoryInstructionFollowing = "instruction_following"
	CategoryAgentic              = "agentic"
	CategoryConsistency          = "consistency"
	CategorySafety               = "safety"
)

var (
	unconditional = newLexicon("must", "always", "never", "required", "shall", "mandatory")
	permissive    = newLexicon("optional", "optionally", "if needed", "if necessary", "if you want", "when convenient", "feel free")
	ambiguous     = newLexicon("maybe", "perhaps", "might", "could be", "possibly")
	vague         = newLexicon("do something", "help me", "make it better", "improve")
	structureCue  = newLexicon("format", "structure", "structured", "example", "examples", "template")
	structured    = newLexicon("json", "csv", "xml", "yaml", "table", "schema", "structured output", "fields")
	persistence   = newLexicon("keep going", "continue", "persist", "until complete", "until the task is completely resolved", "multi-step")
	toolGuidance  = newLexicon("tools", "function", "functions", "use available", "do not guess")
	planning      = newLexicon("plan", "plans", "planning", "step by step", "think through", "reflect")
	toolMention   = newLexicon("tool*")
	planMention   = newLexicon("plan*")
	roleOrGoal    = newLexicon("you are", "your role", "task", "goal", "objective")
	priorityCue   = newLexicon("priorit*")
	importantCue  = newLexicon("important")
	jsonWord      = newLexicon("json")

	alwaysNever = regexp.MustCompile(`(?i)\b(always|never)\s+(\w+(?:\s+\w+)?)`)
)

// conflictPairs are directive families that cannot both be followed.
var conflictPairs = [][2]lexicon{
	{newLexicon("always"), newLexicon("never")},
	{newLexicon("must"), newLexicon("optional")},
	{newLexicon("required"), newLexicon("if needed")},
	{newLexicon("detailed", "comprehensive", "thorough", "in-depth"), newLexicon("brief", "concise", "short")},
}

func severityByCount(n, high int, mid, low model.Severity) model.Severity {
	switch {
	case n > high:
		return model.SeverityHigh
	case n > 0:
		return mid
	default:
		return low
	}
}

// Contradiction flags sentences that mix a mandatory and a permissive
// directive, always/never pairs on the same action, and incompatible output
// requirements.
func Contradiction(doc string) model.IssueReport {
	if strings.TrimSpace(doc) == "" {
		return model.NoIssues(CategoryContradiction)
	}
	var issues []string
	for _, s := range sentences(doc) {
		if unconditional.in(s) && permissive.in(s) {
			issues = append(issues, fmt.Sprintf("sentence mixes a mandatory and an optional directive: %q", s))
		}
	}

	always := map[string]bool{}
	var never []string
	for _, m := range alwaysNever.FindAllStringSubmatch(doc, -1) {
		action := strings.ToLower(m[2])
		if strings.EqualFold(m[1], "always") {
			always[action] = true
		} else {
			never = append(never, action)
		}
	}
	for _, action := range never {
		if always[action] {
			issues = append(issues, fmt.Sprintf("%q is required both always and never", action))
		}
	}

	lower := strings.ToLower(doc)
	if strings.Contains(lower, "minified") && containsAny(lower, "pretty", "indented") {
		issues = append(issues, "output is required both minified and pretty-printed")
	}

	return model.NewIssueReport(CategoryContradiction, issues, severityByCount(len(issues), 0, model.SeverityHigh, model.SeverityLow))
}

// Format flags missing or unclear output structure when the document asks for
// structured output. Conversation-only documents are never flagged.
func Format(doc string) model.IssueReport {
	if strings.TrimSpace(doc) == "" || !structured.in(doc) {
		return model.NoIssues(CategoryFormat)
	}
	lower := strings.ToLower(doc)
	var issues []string

	hasExample := strings.Contains(doc, "```") || strings.Contains(doc, "{")
	wantsJSON := jsonWord.in(doc)
	switch {
	case wantsJSON && !strings.Contains(lower, "schema") && !hasExample:
		issues = append(issues, "JSON output is required but no schema or example object is given")
	case !containsAny(lower, "schema", "output format", "fields:", "keys:", "columns:") && !hasExample:
		issues = append(issues, "structured output is required but no explicit output format is defined")
	}
	if strings.Contains(lower, "minified") && strings.Contains(lower, "pretty") {
		issues = append(issues, "minified and pretty-printed output requirements conflict")
	}
	if strings.Contains(lower, "required fields") && !containsAny(lower, "validation", "missing") {
		issues = append(issues, "required fields are named without saying how missing values are reported")
	}

	return model.NewIssueReport(CategoryFormat, issues, severityByCount(len(issues), 2, model.SeverityMedium, model.SeverityLow))
}

// Clarity flags documents that are too short, state no role or goal, ask
// instead of instruct, or hedge.
func Clarity(doc string) model.IssueReport {
	if strings.TrimSpace(doc) == "" {
		return model.NoIssues(CategoryClarity)
	}
	var issues []string
	if runeLen(strings.TrimSpace(doc)) < 20 {
		issues = append(issues, "document is too short to describe a task (under 20 characters)")
	}
	if !roleOrGoal.in(doc) {
		issues = append(issues, `no role or goal is stated (for example "You are ..." or an explicit objective)`)
	}
	if strings.Count(doc, "?") > 5 {
		issues = append(issues, "too many open questions; state instructions instead of asking")
	}
	if words := ambiguous.found(doc); len(words) > 0 {
		issues = append(issues, "ambiguous wording: "+strings.Join(words, ", "))
	}
	return model.NewIssueReport(CategoryClarity, issues, severityByCount(len(issues), 2, model.SeverityMedium, model.SeverityLow))
}

// Specificity flags vague requests, missing structure cues, thin documents
// and tool mentions without planning guidance.
func Specificity(doc string) model.IssueReport {
	if strings.TrimSpace(doc) == "" {
		return model.NoIssues(CategorySpecificity)
	}
	var issues []string
	if phrases := vague.found(doc); len(phrases) > 0 {
		issues = append(issues, "vague request: "+strings.Join(phrases, ", "))
	}
	if !structureCue.in(doc) {
		issues = append(issues, "no output format, structure, or example is specified")
	}
	if n := wordCount(doc); n < 50 {
		issues = append(issues, fmt.Sprintf("instructions are brief (%d words); add context and constraints", n))
	}
	if toolMention.in(doc) && !planMention.in(doc) {
		issues = append(issues, "tools are mentioned without guidance on planning their use")
	}
	sev := model.SeverityLow
	if len(issues) > 1 {
		sev = model.SeverityMedium
	}
	return model.NewIssueReport(CategorySpecificity, issues, sev)
}

// InstructionFollowing flags unterminated instructions, directive pairs that
// cannot both be followed (naming both clauses), and unprioritized emphasis.
func InstructionFollowing(doc string) model.IssueReport {
	trimmed := strings.TrimSpace(doc)
	if trimmed == "" {
		return model.NoIssues(CategoryInstructionFollowing)
	}
	var issues []string
	if !strings.ContainsAny(trimmed[len(trimmed)-1:], ".!?`)\"}]") {
		issues = append(issues, "the last instruction is not terminated; the document may be cut off")
	}

	cls := allClauses(doc)
	for _, pair := range conflictPairs {
		a, b := firstClause(cls, pair[0]), firstClause(cls, pair[1])
		if a != "" && b != "" && a != b {
			issues = append(issues, fmt.Sprintf("conflicting instructions: %q vs %q", a, b))
		}
	}

	if importantCue.in(doc) && !priorityCue.in(doc) {
		issues = append(issues, `"important" is used without stating priorities`)
	}

	sev := model.SeverityMedium
	if len(issues) > 2 {
		sev = model.SeverityHigh
	}
	return model.NewIssueReport(CategoryInstructionFollowing, issues, sev)
}

func firstClause(cls []string, l lexicon) string {
	for _, c := range cls {
		if l.in(c) {
			return c
		}
	}
	return ""
}

// Agentic flags missing persistence, tool-use and planning guidance.
func Agentic(doc string) model.IssueReport {
	if strings.TrimSpace(doc) == "" {
		return model.NoIssues(CategoryAgentic)
	}
	var issues []string
	if !persistence.in(doc) {
		issues = append(issues, "no persistence guidance; the model may stop before the task is resolved")
	}
	if toolMention.in(doc) && !toolGuidance.in(doc) {
		issues = append(issues, "tools are mentioned without telling the model to use them instead of guessing")
	}
	if !planning.in(doc) {
		issues = append(issues, "no planning or reflection guidance")
	}
	return model.NewIssueReport(CategoryAgentic, issues, model.SeverityMedium)
}

// Consistency checks assistant examples against explicit constraints of the
// document. With no examples there is nothing to compare.
func Consistency(doc string, examples []model.Example) model.IssueReport {
	if len(examples) == 0 || strings.TrimSpace(doc) == "" {
		return model.NoIssues(CategoryConsistency)
	}
	wantsJSON := jsonWord.in(doc)
	oneSentence := containsAny(strings.ToLower(doc), "single sentence", "one sentence")

	var issues, suggestions []string
	var indexes []int
	for i, ex := range examples {
		if ex.Role != model.RoleAssistant {
			continue
		}
		implicated := false
		if wantsJSON && !json.Valid([]byte(strings.TrimSpace(ex.Content))) {
			issues = append(issues, fmt.Sprintf("example %d: assistant reply is not valid JSON although JSON output is required", i+1))
			suggestions = append(suggestions, fmt.Sprintf("wrap the reply of example %d in a JSON object", i+1))
			implicated = true
		}
		if n := len(sentences(ex.Content)); oneSentence && n > 1 {
			issues = append(issues, fmt.Sprintf("example %d: assistant reply has %d sentences but a single sentence is required", i+1, n))
			suggestions = append(suggestions, fmt.Sprintf("reduce the reply of example %d to its first sentence", i+1))
			implicated = true
		}
		if implicated {
			indexes = append(indexes, i)
		}
	}

	r := model.NewIssueReport(CategoryConsistency, issues, severityByCount(len(issues), 2, model.SeverityMedium, model.SeverityLow))
	if r.HasIssues {
		r.ExampleIndexes = indexes
		r.RewriteSuggestions = suggestions
	}
	return r
}

var (
	injectionCue = newLexicon("ignore previous instructions", "ignore all previous", "ignore the system prompt",
		"disregard the system", "bypass", "jailbreak", "disable safety", "without any restrictions")
	harmfulCue   = newLexicon("malware", "ransomware", "weapon", "weapons", "explosive", "explosives", "phishing", "self-harm")
	sensitiveCue = newLexicon("password", "passwords", "social security", "ssn", "credit card", "bank account")
	handlingCue  = newLexicon("redact", "mask", "do not store", "never store", "anonymize")

	groupTerm       = `(?:women|men|girls|boys|immigrants|foreigners|elderly|old people|young people|muslims|christians|jews|asians|africans|americans|europeans)`
	groupGeneralize = regexp.MustCompile(`(?i)\b(?:all|every)\s+` + groupTerm + `\b|\b` + groupTerm + `\s+are\s+(?:always|never|naturally|inherently|bad|worse|better|lazy|emotional|smarter|dumber)\b`)
)

// Safety flags override attempts, harmful requests, generalizations about
// groups of people and unguarded requests for sensitive data.
func Safety(doc string) schema.SafetyReport {
	if strings.TrimSpace(doc) == "" {
		return schema.SafetyReport{IssueReport: model.NoIssues(CategorySafety)}
	}
	var issues, areas []string
	sev := model.SeverityLow

	if found := injectionCue.found(doc); len(found) > 0 {
		issues = append(issues, "instructs the model to override its safeguards: "+strings.Join(found, ", "))
		areas = append(areas, "prompt_injection")
		sev = model.SeverityHigh
	}
	if found := harmfulCue.found(doc); len(found) > 0 {
		issues = append(issues, "touches harmful content: "+strings.Join(found, ", "))
		areas = append(areas, "harmful_content")
		sev = model.SeverityHigh
	}
	if m := groupGeneralize.FindString(doc); m != "" {
		issues = append(issues, fmt.Sprintf("generalizes about a group of people: %q", m))
		areas = append(areas, "bias")
		if sev != model.SeverityHigh {
			sev = model.SeverityMedium
		}
	}
	if found := sensitiveCue.found(doc); len(found) > 0 && !handlingCue.in(doc) {
		issues = append(issues, "requests sensitive data without handling rules: "+strings.Join(found, ", "))
		areas = append(areas, "sensitive_data")
		if sev == model.SeverityLow {
			sev = model.SeverityMedium
		}
	}

	r := schema.SafetyReport{IssueReport: model.NewIssueReport(CategorySafety, issues, sev)}
	if r.HasIssues {
		r.RiskAreas = areas
	}
	return r
}
