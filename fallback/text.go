package fallback

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// lexicon matches any of its terms as whole words, case-insensitively.
// A term ending in "*" matches any word with that prefix.
type lexicon struct {
	re *regexp.Regexp
}

func newLexicon(terms ...string) lexicon {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		if strings.HasSuffix(t, "*") {
			parts = append(parts, regexp.QuoteMeta(strings.TrimSuffix(t, "*"))+`\w*`)
			continue
		}
		q := regexp.QuoteMeta(t)
		q = strings.ReplaceAll(q, ` `, `\s+`)
		parts = append(parts, q)
	}
	return lexicon{re: regexp.MustCompile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)}
}

func (l lexicon) in(s string) bool { return l.re.MatchString(s) }

// found returns the distinct matched terms, lower-cased, in order of appearance.
func (l lexicon) found(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range l.re.FindAllString(s, -1) {
		m = strings.ToLower(strings.Join(strings.Fields(m), " "))
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func hasLetters(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

var sentenceSplit = regexp.MustCompile(`[^.!?;\n]+[.!?;]*`)

// sentences splits text at terminal punctuation and line breaks, keeping the
// punctuation with each sentence.
func sentences(s string) []string {
	var out []string
	for _, m := range sentenceSplit.FindAllString(s, -1) {
		if t := strings.TrimSpace(m); t != "" && strings.IndexFunc(t, unicode.IsLetter) >= 0 {
			out = append(out, t)
		}
	}
	return out
}

var clauseSplit = regexp.MustCompile(`(?i),?\s+(?:but|however|although|yet)\s+|;\s*`)

// clauses splits a sentence at contrastive conjunctions.
func clauses(sentence string) []string {
	var out []string
	for _, c := range clauseSplit.Split(sentence, -1) {
		c = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(c), ".!?,;"))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func allClauses(doc string) []string {
	var out []string
	for _, s := range sentences(doc) {
		out = append(out, clauses(s)...)
	}
	return out
}

// appendLine adds a paragraph to the document unless marker is already present.
func appendLine(doc, line, marker string) (string, bool) {
	if strings.Contains(strings.ToLower(doc), strings.ToLower(marker)) {
		return doc, false
	}
	doc = strings.TrimRight(doc, " \t\n")
	if doc == "" {
		return line, true
	}
	return doc + "\n\n" + line, true
}

// replaceWord substitutes whole-word occurrences, keeping an initial capital.
func replaceWord(doc, word, with string) (string, bool) {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	changed := false
	out := re.ReplaceAllStringFunc(doc, func(m string) string {
		changed = true
		r, _ := utf8.DecodeRuneInString(m)
		if unicode.IsUpper(r) {
			w, size := utf8.DecodeRuneInString(with)
			return string(unicode.ToUpper(w)) + with[size:]
		}
		return with
	})
	return out, changed
}

func firstSentence(s string) string {
	ss := sentences(s)
	if len(ss) == 0 {
		return strings.TrimSpace(s)
	}
	return ss[0]
}
