package engine

import (
	"context"
	"strings"

	"github.com/jxucoder/promptopt/model"
)

// SuggestRequest asks for ranked prompt templates. An empty Domain is
// detected from Document.
type SuggestRequest struct {
	Document     string   `json:"document,omitempty"`
	Domain       string   `json:"domain,omitempty"`
	TaskType     string   `json:"task_type,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	Backend
}

// Suggest proposes prompt templates for a domain and orders them best first.
func (e *Engine) Suggest(ctx context.Context, req SuggestRequest) (*model.Suggestions, error) {
	pl, _, _ := e.pipelineFor(ctx, req.Backend)

	out := &model.Suggestions{
		Domain:     strings.ToLower(strings.TrimSpace(req.Domain)),
		TaskType:   strings.TrimSpace(req.TaskType),
		Confidence: 1,
	}
	if out.Domain == "" {
		rel, _ := pl.Relevance(ctx, req.Document)
		out.Domain, out.Confidence = rel.Domain, rel.Confidence
	}

	set, _ := pl.Candidates(ctx, out.Domain, out.TaskType, req.Requirements)
	rank, _ := pl.Rank(ctx, set, out.TaskType, req.Requirements)

	out.Candidates = make([]model.Suggestion, 0, len(set.Candidates))
	for _, i := range rank.Order {
		c := set.Candidates[i]
		out.Candidates = append(out.Candidates, model.Suggestion{Title: c.Title, Text: c.Text, Rationale: c.Rationale})
	}
	return out, nil
}
