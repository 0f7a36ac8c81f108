package fallback

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/schema"
)

type changeRule struct {
	change    model.Change
	cues      lexicon
	category  string
	impact    float64
	describe  string
	addressed string
}

// changeRules maps feedback cues to the structured change vocabulary, in
// application order.
var changeRules = []changeRule{
	{model.ChangeRemoveAmbiguity, newLexicon("ambiguous", "ambiguity", "vague", "unclear", "maybe", "perhaps"),
		"clarity", 0.8, "replaced ambiguous wording", "removed ambiguous expressions"},
	{model.ChangeMoreDetail, newLexicon("too short", "more detail", "more details", "detailed", "elaborate", "in depth", "in-depth"),
		"detail", 0.6, "asked for detailed responses", "addressed responses that were too short"},
	{model.ChangePrioritizeInstructions, newLexicon("important", "priorit*", "emphasi*"),
		"priority", 0.7, "made instruction priorities explicit", "emphasized the important instructions"},
	{model.ChangeToolGuidance, newLexicon("tool*"),
		"agentic", 0.9, "added tool-use guidance", "added guidance on using tools"},
	{model.ChangePlanningGuidance, newLexicon("plan", "planning", "step by step", "reflect", "reflection"),
		"agentic", 0.8, "added planning and reflection guidance", "added guidance on planning"},
	{model.ChangeOutputFormat, newLexicon("format", "formatting", "structure", "structured", "json"),
		"format", 0.6, "added an output format instruction", "specified the output format"},
}

func ruleFor(c model.Change) (changeRule, bool) {
	for _, r := range changeRules {
		if r.change == c {
			return r, true
		}
	}
	return changeRule{}, false
}

// AnalyzeFeedback classifies feedback into the change vocabulary. Blank
// feedback yields an empty-effect analysis.
func AnalyzeFeedback(feedback string) schema.FeedbackAnalysis {
	if strings.TrimSpace(feedback) == "" {
		return schema.FeedbackAnalysis{
			UnderstoodFeedback: "feedback was empty",
			Category:           "none",
			RequiredChanges:    []model.Change{},
			RevisionStrategy:   "leave the document unchanged",
		}
	}

	var changes []model.Change
	var described []string
	category := ""
	impact := 0.0
	for _, r := range changeRules {
		if !r.cues.in(feedback) {
			continue
		}
		changes = append(changes, r.change)
		described = append(described, r.describe)
		if category == "" {
			category = r.category
		}
		if r.impact > impact {
			impact = r.impact
		}
	}

	if len(changes) == 0 {
		return schema.FeedbackAnalysis{
			UnderstoodFeedback: "the feedback does not map to a known revision; the document stays as it is",
			Category:           "general",
			RequiredChanges:    []model.Change{},
			RevisionStrategy:   "keep the document and revise only what the feedback names",
			EstimatedImpact:    0.5,
		}
	}
	return schema.FeedbackAnalysis{
		UnderstoodFeedback: "understood: " + strings.Join(described, "; "),
		Category:           category,
		RequiredChanges:    changes,
		RevisionStrategy:   "apply in order: " + joinChanges(changes),
		EstimatedImpact:    impact,
	}
}

func joinChanges(cs []model.Change) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

// ApplyChange applies one structured change. When the change is unknown or
// the document already satisfies it, the document is returned unchanged with
// an empty output.
func ApplyChange(doc string, change model.Change) schema.RevisionOutput {
	out := schema.RevisionOutput{RevisedDocument: doc, ChangesMade: []string{}, FeedbackAddressed: []string{}}
	rule, ok := ruleFor(change)
	if !ok {
		out.Explanation = fmt.Sprintf("unknown change %q; document unchanged", change)
		return out
	}

	revised, applied := doc, false
	switch change {
	case model.ChangeRemoveAmbiguity:
		revised, applied = clarifyWording(doc)
	case model.ChangeMoreDetail:
		revised, applied = appendLine(doc, DetailLine, DetailLine)
	case model.ChangePrioritizeInstructions:
		revised, applied = appendLine(doc, PriorityLine, PriorityLine)
	case model.ChangeToolGuidance:
		revised, applied = appendLine(doc, ToolLine, "do not guess")
	case model.ChangePlanningGuidance:
		revised, applied = appendLine(doc, PlanningLine, PlanningLine)
	case model.ChangeOutputFormat:
		revised, applied = ApplyFormatSuffix(doc)
	}

	if !applied {
		out.Explanation = fmt.Sprintf("%s: already satisfied", change)
		return out
	}
	out.RevisedDocument = revised
	out.ChangesMade = []string{rule.describe}
	out.FeedbackAddressed = []string{rule.addressed}
	out.Explanation = rule.describe
	return out
}

// Free-form request signal kinds.
const (
	SignalLanguage = "language"
	SignalTone     = "tone"
	SignalLength   = "length"
)

var (
	// A language request needs a translate verb or a named target language;
	// "language" alone also describes wording ("the language is ambiguous").
	languageSignal = newLexicon("translate", "translation", "translated", "english", "korean",
		"japanese", "chinese", "spanish", "french", "german")
	toneSignal   = newLexicon("casual", "informal", "formal", "friendly", "polite", "professional", "tone")
	lengthSignal = newLexicon("shorter", "shorten", "longer", "lengthen", "concise", "brief", "condense", "condensed")

	languages = []string{"English", "Korean", "Japanese", "Chinese", "Spanish", "French", "German"}
)

// FreeFormSignals returns the kinds of free-form request found in feedback,
// in the order language, tone, length.
func FreeFormSignals(feedback string) []string {
	var out []string
	if languageSignal.in(feedback) {
		out = append(out, SignalLanguage)
	}
	if toneSignal.in(feedback) {
		out = append(out, SignalTone)
	}
	if lengthSignal.in(feedback) {
		out = append(out, SignalLength)
	}
	return out
}

var (
	casualForms = [][2]string{
		{"do not", "don't"}, {"does not", "doesn't"}, {"cannot", "can't"},
		{"it is", "it's"}, {"you are", "you're"}, {"you will", "you'll"},
	}
	fillers = newLexicon("kindly", "basically", "really", "very", "just", "actually")
	inOrder = regexp.MustCompile(`(?i)\bin order to\b`)
	spaces  = regexp.MustCompile(`[ \t]{2,}`)
	blanks  = regexp.MustCompile(`\n{3,}`)
)

// GeneralRevise handles free-form requests locally: it adds a response
// language directive, adjusts tone through contractions and a tone directive,
// and shortens or lengthens the document. Translation of the document itself
// needs the backend and is reported rather than attempted.
func GeneralRevise(doc, feedback string) schema.RevisionOutput {
	out := doc
	var changes, addressed, notes []string

	for _, sig := range FreeFormSignals(feedback) {
		switch sig {
		case SignalLanguage:
			target := targetLanguage(feedback)
			if target == "" {
				notes = append(notes, "no target language was named")
				continue
			}
			line := fmt.Sprintf("Respond in %s.", target)
			var added bool
			if out, added = appendLine(out, line, line); added {
				changes = append(changes, "added a response language directive: "+target)
				addressed = append(addressed, "language: "+target)
			}
			notes = append(notes, "translating the document text itself requires the text-generation backend")

		case SignalTone:
			lower := strings.ToLower(feedback)
			if containsAny(lower, "formal", "polite", "professional") && !strings.Contains(lower, "informal") {
				out = expandContractions(out)
				var added bool
				if out, added = appendLine(out, "Use a formal, professional tone.", "formal, professional tone"); added {
					changes = append(changes, "set a formal tone")
					addressed = append(addressed, "tone: formal")
				}
				continue
			}
			out = contract(out)
			var added bool
			if out, added = appendLine(out, "Use a casual, friendly tone.", "casual, friendly tone"); added {
				changes = append(changes, "set a casual tone")
				addressed = append(addressed, "tone: casual")
			}

		case SignalLength:
			if containsAny(strings.ToLower(feedback), "longer", "lengthen") {
				var added bool
				if out, added = appendLine(out, DetailLine, DetailLine); added {
					changes = append(changes, "asked for longer, detailed responses")
					addressed = append(addressed, "length: longer")
				}
				continue
			}
			shortened := shorten(out)
			if !hasLetters(shortened) {
				notes = append(notes, "the document is already as short as local rules allow")
				continue
			}
			if shortened != out {
				out = shortened
				changes = append(changes, "removed filler words and repeated sentences")
				addressed = append(addressed, "length: shorter")
			}
		}
	}

	explanation := "applied free-form revision"
	if len(changes) == 0 {
		explanation = "no free-form change could be applied locally"
	}
	if len(notes) > 0 {
		explanation += "; " + strings.Join(notes, "; ")
	}
	return schema.RevisionOutput{
		RevisedDocument:   out,
		ChangesMade:       nonNil(changes),
		FeedbackAddressed: nonNil(addressed),
		Explanation:       explanation,
	}
}

func targetLanguage(feedback string) string {
	lower := strings.ToLower(feedback)
	for _, l := range languages {
		if newLexicon(strings.ToLower(l)).in(lower) {
			return l
		}
	}
	return ""
}

func contract(doc string) string {
	for _, f := range casualForms {
		doc, _ = replaceWord(doc, f[0], f[1])
	}
	return doc
}

func expandContractions(doc string) string {
	for _, f := range casualForms {
		doc, _ = replaceWord(doc, f[1], f[0])
	}
	return doc
}

func shorten(doc string) string {
	out := fillers.re.ReplaceAllString(doc, "")
	out = inOrder.ReplaceAllString(out, "to")

	seen := map[string]bool{}
	for _, s := range sentences(out) {
		key := strings.ToLower(s)
		if seen[key] {
			out = strings.Replace(out, s, "", 1)
			continue
		}
		seen[key] = true
	}

	out = spaces.ReplaceAllString(out, " ")
	out = blanks.ReplaceAllString(out, "\n\n")
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
