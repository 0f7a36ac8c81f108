package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/jxucoder/promptopt/fallback"
	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/pipeline"
)

// ReviseRequest is the input of a feedback revision run.
type ReviseRequest struct {
	Document string `json:"document"`
	Feedback string `json:"feedback"`
	Source   string `json:"source,omitempty"`
	Backend
}

// revisionWeight is the improvement credited per applied change.
const revisionWeight = 20

// Revise executes a feedback revision run synchronously.
func (e *Engine) Revise(ctx context.Context, req ReviseRequest) (*model.Run, error) {
	run, pl, note, err := e.prepareRevision(ctx, req)
	if err != nil {
		return nil, err
	}
	err = e.revise(ctx, run, pl, note)
	return run, err
}

// StartRevision records a revision run and executes it in the background.
func (e *Engine) StartRevision(ctx context.Context, req ReviseRequest) (*model.Run, error) {
	run, pl, note, err := e.prepareRevision(ctx, req)
	if err != nil {
		return nil, err
	}
	snapshot := *run
	e.goAsync(func(ctx context.Context) {
		_ = e.revise(ctx, run, pl, note)
	})
	return &snapshot, nil
}

func (e *Engine) prepareRevision(ctx context.Context, req ReviseRequest) (*model.Run, *pipeline.Pipeline, string, error) {
	doc, source, err := e.resolveDocument(ctx, req.Document, req.Source)
	if err != nil {
		return nil, nil, "", err
	}
	pl, modelID, note := e.pipelineFor(ctx, req.Backend)

	run := e.newRun(model.KindRevise, modelID, source)
	run.Document = doc
	run.Feedback = req.Feedback
	if err := e.createRun(run); err != nil {
		return nil, nil, "", err
	}
	return run, pl, note, nil
}

func (e *Engine) revise(ctx context.Context, run *model.Run, pl *pipeline.Pipeline, note string) (err error) {
	defer e.guard(run, &err)

	if note != "" {
		e.emitEvent(run, model.EventStatus, note)
	} else if !pl.Available() {
		e.emitEvent(run, model.EventStatus, "No backend configured, using local heuristics")
	}

	e.setStatus(run, model.StatusAnalyzingFeedback, "Analyzing feedback...")

	var rev *model.Revision
	if signals := fallback.FreeFormSignals(run.Feedback); len(signals) > 0 {
		e.setStatus(run, model.StatusRevising,
			fmt.Sprintf("Free-form request (%s), applying general revision...", strings.Join(signals, ", ")))
		out, oc := pl.GeneralRevise(ctx, run.Document, run.Feedback)
		e.noteOutcome(run, oc)
		rev = &model.Revision{
			Document:          out.RevisedDocument,
			Changes:           out.ChangesMade,
			FeedbackAddressed: out.FeedbackAddressed,
			Explanation:       out.Explanation,
			General:           true,
			Fallback:          oc.Fallback,
		}
	} else {
		rec, oc := pl.AnalyzeFeedback(ctx, run.Document, run.Feedback)
		e.noteOutcome(run, oc)
		run.FeedbackRecord = &rec
		e.setStatus(run, model.StatusRevising, fmt.Sprintf("Applying %d changes...", len(rec.RequiredChanges)))
		rev = e.applyChanges(ctx, run, pl, rec)
		rev.Fallback = rev.Fallback || oc.Fallback
	}

	if strings.TrimSpace(rev.Document) == "" {
		panic("revision produced an empty document")
	}
	run.Revision = rev
	run.FinalDocument = rev.Document
	run.Improvement = model.ClampImprovement(len(rev.Changes)*revisionWeight, model.MaxImprovement)

	e.completeRun(run, fmt.Sprintf("Done: %d changes applied, estimated improvement %d%%", len(rev.Changes), run.Improvement))
	return nil
}

// applyChanges applies the required changes one at a time, each on the
// previous change's output.
func (e *Engine) applyChanges(ctx context.Context, run *model.Run, pl *pipeline.Pipeline, rec model.FeedbackRecord) *model.Revision {
	rev := &model.Revision{
		Document:          run.Document,
		Changes:           []string{},
		FeedbackAddressed: []string{},
	}
	var explanations []string
	for _, c := range rec.RequiredChanges {
		e.emitEvent(run, model.EventStatus, fmt.Sprintf("Applying %s...", c))
		out, oc := pl.ApplyChange(ctx, rev.Document, run.Feedback, c)
		e.noteOutcome(run, oc)
		rev.Document = out.RevisedDocument
		rev.Changes = append(rev.Changes, out.ChangesMade...)
		rev.FeedbackAddressed = append(rev.FeedbackAddressed, out.FeedbackAddressed...)
		if out.Explanation != "" {
			explanations = append(explanations, out.Explanation)
		}
		rev.Fallback = rev.Fallback || oc.Fallback
	}
	switch {
	case len(rec.RequiredChanges) == 0:
		rev.Explanation = "no structured change matched the feedback; the document is unchanged"
	case len(explanations) == 0:
		rev.Explanation = rec.Strategy
	default:
		rev.Explanation = strings.Join(explanations, " ")
	}
	return rev
}
