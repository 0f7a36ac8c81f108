package fallback

import (
	"sort"
	"strings"

	"github.com/jxucoder/promptopt/schema"
)

type domainTemplate struct {
	base       string
	guidelines []string
	tasks      [][2]string // task type, example instruction
}

var domainTemplates = map[string]domainTemplate{
	"coding": {
		base: "You are an expert software developer and code reviewer.",
		guidelines: []string{
			"Always provide detailed explanations for code changes",
			"Include error handling and edge cases",
			"Follow best practices and coding standards",
			"Suggest performance improvements when applicable",
		},
		tasks: [][2]string{
			{"debug", "Analyze this code and identify any bugs, performance issues, or security vulnerabilities. Provide specific fixes with explanations."},
			{"review", "Review this code for best practices, readability, and maintainability. Suggest improvements with detailed explanations."},
			{"generate", "Generate clean, well-documented code that follows best practices. Include error handling and comments explaining the logic."},
		},
	},
	"writing": {
		base: "You are a professional writing assistant and editor.",
		guidelines: []string{
			"Maintain the original tone and style unless specified",
			"Provide specific suggestions for improvement",
			"Explain grammar and style recommendations",
			"Consider the target audience",
		},
		tasks: [][2]string{
			{"edit", "Review this text for grammar, clarity, and style. Provide specific suggestions for improvement while maintaining the original tone."},
			{"generate", "Write [type of content] that is engaging, well-structured, and appropriate for [target audience]. Focus on clarity and impact."},
			{"summarize", "Create a concise summary that captures the key points and main arguments while maintaining the essential meaning."},
		},
	},
	"analysis": {
		base: "You are an expert analyst with deep analytical thinking skills.",
		guidelines: []string{
			"Provide structured, logical analysis",
			"Support conclusions with evidence",
			"Consider multiple perspectives",
			"Identify patterns and trends",
		},
		tasks: [][2]string{
			{"analyze", "Analyze this data or situation thoroughly. Identify key patterns, trends, and insights. Provide actionable recommendations based on your findings."},
			{"compare", "Compare and contrast these options. Analyze the strengths, weaknesses, and implications of each approach."},
			{"evaluate", "Evaluate this proposal critically. Consider feasibility, risks, benefits, and potential outcomes."},
		},
	},
	"creative": {
		base: "You are a creative writer with a distinctive, vivid voice.",
		guidelines: []string{
			"Respect the requested form, length, and audience",
			"Prefer concrete imagery over abstractions",
			"Keep the piece internally consistent",
		},
		tasks: [][2]string{
			{"story", "Write a short story about [subject] for [audience]. Keep it under [length] words with a clear beginning, middle, and end."},
			{"poem", "Write a poem about [subject] in [form]. Use concrete imagery and a consistent meter."},
		},
	},
	"customer_service": {
		base: "You are a courteous customer support agent for [company].",
		guidelines: []string{
			"Acknowledge the customer's issue before answering",
			"Only promise what company policy allows",
			"Escalate to a human agent when you cannot resolve the issue",
		},
		tasks: [][2]string{
			{"respond", "Reply to the customer message below. Acknowledge the problem, explain the next steps, and state the expected resolution time."},
			{"refund", "Handle this refund request according to the policy below. Say clearly whether the refund is approved and why."},
		},
	},
	"education": {
		base: "You are a patient tutor who adapts explanations to the learner's level.",
		guidelines: []string{
			"Check understanding with a short question",
			"Explain with examples before definitions",
			"Do not give away answers to graded work",
		},
		tasks: [][2]string{
			{"explain", "Explain [concept] to a [level] student using one concrete example and one analogy."},
			{"quiz", "Write five multiple-choice questions on [topic] with one correct answer each and a short explanation."},
		},
	},
}

var generalTemplate = domainTemplate{
	base: "You are a helpful AI assistant.",
	guidelines: []string{
		"Provide clear and accurate information",
		"Be helpful and responsive to user needs",
		"Ask clarifying questions when needed",
	},
}

var domainCues = []struct {
	domain string
	cues   lexicon
}{
	{"coding", newLexicon("code", "function", "bug", "debug", "api", "program", "refactor", "compile", "unit test")},
	{"writing", newLexicon("write", "essay", "blog", "article", "edit", "grammar", "copy", "proofread")},
	{"analysis", newLexicon("analyze", "analysis", "data", "compare", "evaluate", "trend", "trends", "metrics")},
	{"creative", newLexicon("poem", "story", "creative", "fiction", "song", "lyrics")},
	{"customer_service", newLexicon("customer", "support", "ticket", "refund", "complaint")},
	{"education", newLexicon("student", "students", "teach", "lesson", "tutor", "quiz", "learner")},
}

// Relevance classifies a document's domain by cue counts. Ties go to the
// earlier domain; no cue at all is "general" with zero confidence.
func Relevance(doc string) schema.Relevance {
	best, bestHits, total := "general", 0, 0
	for _, d := range domainCues {
		hits := len(d.cues.re.FindAllStringIndex(doc, -1))
		total += hits
		if hits > bestHits {
			best, bestHits = d.domain, hits
		}
	}
	if total == 0 {
		return schema.Relevance{Domain: "general"}
	}
	return schema.Relevance{Domain: best, Confidence: float64(bestHits) / float64(total)}
}

// Candidates proposes templates for a domain: a base template and one per
// known task type. Unknown domains use the general template.
func Candidates(domain, taskType string, requirements []string) schema.CandidateSet {
	tmpl, ok := domainTemplates[domain]
	if !ok {
		tmpl = generalTemplate
		domain = "general"
	}

	var b strings.Builder
	b.WriteString(tmpl.base)
	b.WriteString("\n\n# Guidelines:\n")
	for _, g := range tmpl.guidelines {
		b.WriteString("- " + g + "\n")
	}
	var reqs []string
	for _, r := range requirements {
		if r = strings.TrimSpace(r); r != "" {
			reqs = append(reqs, r)
		}
	}
	if len(reqs) > 0 {
		b.WriteString("\n# Additional Requirements:\n")
		for _, r := range reqs {
			b.WriteString("- " + r + "\n")
		}
	}
	b.WriteString("\n" + PersistenceLine)

	set := schema.CandidateSet{Candidates: []schema.Candidate{{
		Title:     "base",
		Text:      b.String(),
		Rationale: "role, guidelines and persistence for the " + domain + " domain",
	}}}
	for _, task := range tmpl.tasks {
		set.Candidates = append(set.Candidates, schema.Candidate{
			Title:     task[0],
			Text:      tmpl.base + " " + task[1],
			Rationale: "task template for " + task[0],
		})
	}
	if taskType != "" && !hasTitle(set, taskType) {
		set.Candidates = append(set.Candidates, schema.Candidate{
			Title:     taskType,
			Text:      tmpl.base + " Your task: " + taskType + ". " + PlanningLine,
			Rationale: "generic template for the requested task type",
		})
	}
	return set
}

func hasTitle(set schema.CandidateSet, title string) bool {
	for _, c := range set.Candidates {
		if strings.EqualFold(c.Title, title) {
			return true
		}
	}
	return false
}

// Rank orders candidates: an exact task-type match first, then the base
// template, then by how many requirement words each candidate mentions.
// The sort is stable so equal scores keep their original order.
func Rank(set schema.CandidateSet, taskType string, requirements []string) schema.Ranking {
	scores := make([]int, len(set.Candidates))
	for i, c := range set.Candidates {
		switch {
		case taskType != "" && strings.EqualFold(c.Title, taskType):
			scores[i] += 100
		case c.Title == "base":
			scores[i] += 50
		}
		lower := strings.ToLower(c.Text)
		for _, r := range requirements {
			for _, w := range strings.Fields(strings.ToLower(r)) {
				if len(w) > 3 && strings.Contains(lower, w) {
					scores[i]++
				}
			}
		}
	}
	order := make([]int, len(set.Candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	return schema.Ranking{Order: order, Rationale: "task-type match, then base template, then requirement overlap"}
}
