package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/schema"
)

// Outcome records how a stage produced its result.
type Outcome struct {
	Stage StageID
	// Fallback is set when the local heuristic produced the result.
	Fallback bool
	// Skipped is set when the stage short-circuited without a backend call.
	Skipped bool
	// Err is the backend failure that caused the fallback. It is nil when no
	// backend is configured.
	Err error
}

// Failed reports whether a backend call was attempted and failed.
func (o Outcome) Failed() bool { return o.Err != nil }

func (p *Pipeline) call(ctx context.Context, id StageID, in *Input) (any, Outcome) {
	def := p.mustStage(id)
	oc := Outcome{Stage: id}

	if def.Skip != nil && def.Skip(in) {
		oc.Skipped = true
		return def.Fallback(in), oc
	}

	out := def.New()
	err := p.invoker.Invoke(ctx, def, def.Payload(in), out)
	if err == nil && def.Reconcile != nil {
		if rerr := def.Reconcile(in, out); rerr != nil {
			err = p.invoker.fail(id, ErrSchema, rerr)
		}
	}
	if err != nil {
		oc.Fallback = true
		if !errors.Is(err, ErrUnavailable) {
			oc.Err = err
		}
		return def.Fallback(in), oc
	}
	return out, oc
}

// Analyze runs one analyzer. The report is always normalized and carries the
// stage id as its category.
func (p *Pipeline) Analyze(ctx context.Context, id StageID, doc string, examples []model.Example) (model.IssueReport, Outcome) {
	in := &Input{Document: doc, Examples: model.CloneExamples(examples)}
	res, oc := p.call(ctx, id, in)

	var r model.IssueReport
	switch v := res.(type) {
	case *model.IssueReport:
		r = *v
	case *schema.SafetyReport:
		r = v.IssueReport
		r.RiskAreas = v.RiskAreas
	default:
		p.logger.Error("analyzer returned unexpected type", zap.String("stage", string(id)))
	}
	return r.Normalize(string(id)), oc
}

// RewriteDocument runs the document rewrite stage. Examples are untouched.
func (p *Pipeline) RewriteDocument(ctx context.Context, doc string, contradiction, format model.IssueReport) (model.RewriteResult, Outcome) {
	in := &Input{
		Document: doc,
		Reports:  map[StageID]model.IssueReport{StageContradiction: contradiction, StageFormat: format},
	}
	res, oc := p.call(ctx, StageDocumentRewrite, in)
	return rewriteResult(StageDocumentRewrite, res.(*schema.RewriteOutput), oc), oc
}

// RewriteExamples runs the example rewrite stage. The result has the same
// count and order as examples.
func (p *Pipeline) RewriteExamples(ctx context.Context, doc string, examples []model.Example, consistency model.IssueReport) (model.RewriteResult, Outcome) {
	in := &Input{
		Document: doc,
		Examples: model.CloneExamples(examples),
		Reports:  map[StageID]model.IssueReport{StageConsistency: consistency},
	}
	res, oc := p.call(ctx, StageExampleRewrite, in)
	return rewriteResult(StageExampleRewrite, res.(*schema.RewriteOutput), oc), oc
}

func rewriteResult(id StageID, r *schema.RewriteOutput, oc Outcome) model.RewriteResult {
	changes := r.Changes
	if changes == nil {
		changes = []string{}
	}
	return model.RewriteResult{
		Stage:       string(id),
		Document:    r.Document,
		Examples:    model.CloneExamples(r.Examples),
		Changes:     changes,
		Improvement: model.ClampImprovement(r.EstimatedImprovement, 100),
		Fallback:    oc.Fallback,
	}
}

// AnalyzeFeedback classifies feedback into a FeedbackRecord. Blank feedback
// yields an empty-effect record.
func (p *Pipeline) AnalyzeFeedback(ctx context.Context, doc, feedback string) (model.FeedbackRecord, Outcome) {
	res, oc := p.call(ctx, StageFeedbackAnalysis, &Input{Document: doc, Feedback: feedback})
	a := res.(*schema.FeedbackAnalysis)

	changes := make([]model.Change, 0, len(a.RequiredChanges))
	seen := map[model.Change]bool{}
	for _, c := range a.RequiredChanges {
		if !seen[c] {
			seen[c] = true
			changes = append(changes, c)
		}
	}
	impact := a.EstimatedImpact
	if impact < 0 {
		impact = 0
	} else if impact > 1 {
		impact = 1
	}
	return model.FeedbackRecord{
		Feedback:        feedback,
		Understood:      a.UnderstoodFeedback,
		Category:        a.Category,
		RequiredChanges: changes,
		Strategy:        a.RevisionStrategy,
		Impact:          impact,
	}, oc
}

// ApplyChange applies one required change to doc.
func (p *Pipeline) ApplyChange(ctx context.Context, doc, feedback string, change model.Change) (schema.RevisionOutput, Outcome) {
	res, oc := p.call(ctx, StageFeedbackRevision, &Input{Document: doc, Feedback: feedback, Change: change})
	return normalizeRevision(res.(*schema.RevisionOutput)), oc
}

// GeneralRevise hands the whole feedback text to the free-form revision stage.
func (p *Pipeline) GeneralRevise(ctx context.Context, doc, feedback string) (schema.RevisionOutput, Outcome) {
	res, oc := p.call(ctx, StageGeneralRevision, &Input{Document: doc, Feedback: feedback})
	return normalizeRevision(res.(*schema.RevisionOutput)), oc
}

func normalizeRevision(r *schema.RevisionOutput) schema.RevisionOutput {
	out := *r
	if out.ChangesMade == nil {
		out.ChangesMade = []string{}
	}
	if out.FeedbackAddressed == nil {
		out.FeedbackAddressed = []string{}
	}
	return out
}

// Relevance detects the domain of a document.
func (p *Pipeline) Relevance(ctx context.Context, doc string) (schema.Relevance, Outcome) {
	res, oc := p.call(ctx, StageRelevance, &Input{Document: doc})
	return *res.(*schema.Relevance), oc
}

// Candidates proposes prompt templates for a domain.
func (p *Pipeline) Candidates(ctx context.Context, domain, taskType string, requirements []string) (schema.CandidateSet, Outcome) {
	res, oc := p.call(ctx, StageCandidates, &Input{Domain: domain, TaskType: taskType, Requirements: requirements})
	return *res.(*schema.CandidateSet), oc
}

// Rank orders a candidate set, best first.
func (p *Pipeline) Rank(ctx context.Context, set schema.CandidateSet, taskType string, requirements []string) (schema.Ranking, Outcome) {
	res, oc := p.call(ctx, StageRanking, &Input{Candidates: set, TaskType: taskType, Requirements: requirements})
	return *res.(*schema.Ranking), oc
}
