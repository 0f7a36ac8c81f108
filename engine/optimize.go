package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jxucoder/promptopt/fallback"
	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/pipeline"
)

// StageFinishing names the local finishing pass in a run's rewrite list.
const StageFinishing = "finishing"

// RunRequest is the input of an optimize run.
type RunRequest struct {
	Document string          `json:"document"`
	Examples []model.Example `json:"examples,omitempty"`
	// Source loads the document from a repository ("owner/repo:path@ref")
	// when Document is empty, and is recorded on the run otherwise.
	Source string `json:"source,omitempty"`
	Backend
}

// Run executes an optimize run synchronously and returns the finished run.
// Only ErrInputEmpty, repository loading errors and ErrInternal are returned;
// backend failures fall back per stage.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*model.Run, error) {
	run, pl, note, err := e.prepareRun(ctx, req)
	if err != nil {
		return nil, err
	}
	err = e.optimize(ctx, run, pl, note)
	return run, err
}

// StartRun validates the request, records the run and optimizes it in the
// background. The returned run is a snapshot taken before execution starts.
func (e *Engine) StartRun(ctx context.Context, req RunRequest) (*model.Run, error) {
	run, pl, note, err := e.prepareRun(ctx, req)
	if err != nil {
		return nil, err
	}
	snapshot := *run
	e.goAsync(func(ctx context.Context) {
		_ = e.optimize(ctx, run, pl, note)
	})
	return &snapshot, nil
}

func (e *Engine) prepareRun(ctx context.Context, req RunRequest) (*model.Run, *pipeline.Pipeline, string, error) {
	doc, source, err := e.resolveDocument(ctx, req.Document, req.Source)
	if err != nil {
		return nil, nil, "", err
	}
	pl, modelID, note := e.pipelineFor(ctx, req.Backend)

	run := e.newRun(model.KindOptimize, modelID, source)
	run.Document = doc
	run.Examples = model.CloneExamples(req.Examples)
	if err := e.createRun(run); err != nil {
		return nil, nil, "", err
	}
	return run, pl, note, nil
}

func (e *Engine) optimize(ctx context.Context, run *model.Run, pl *pipeline.Pipeline, note string) (err error) {
	defer e.guard(run, &err)

	if note != "" {
		e.emitEvent(run, model.EventStatus, note)
	} else if !pl.Available() {
		e.emitEvent(run, model.EventStatus, "No backend configured, using local heuristics")
	}

	e.setStatus(run, model.StatusAnalyzing, fmt.Sprintf("Running %d analyzers...", len(pipeline.Analyzers)))
	reports, err := e.analyze(ctx, run, pl, pipeline.Analyzers, run.Document, run.Examples)
	if err != nil {
		e.failRun(run, err.Error())
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	run.Reports = reports

	contradiction := reportOf(run.Reports, pipeline.StageContradiction)
	format := reportOf(run.Reports, pipeline.StageFormat)
	consistency := reportOf(run.Reports, pipeline.StageConsistency)
	needsDocumentRewrite := contradiction.HasIssues || format.HasIssues
	needsExampleRewrite := consistency.HasIssues

	e.setStatus(run, model.StatusAggregating, aggregateSummary(run, needsDocumentRewrite, needsExampleRewrite))

	doc := run.Document
	examples := model.CloneExamples(run.Examples)
	improvement := 0

	e.setStatus(run, model.StatusRewriting, "Rewriting...")
	if needsDocumentRewrite {
		e.emitEvent(run, model.EventStatus, "Rewriting document...")
		res, oc := pl.RewriteDocument(ctx, doc, contradiction, format)
		e.noteOutcome(run, oc)
		run.Rewrites = append(run.Rewrites, res)
		doc = res.Document
		improvement += res.Improvement
	}
	if needsExampleRewrite {
		e.emitEvent(run, model.EventStatus, "Rewriting examples...")
		res, oc := pl.RewriteExamples(ctx, doc, examples, consistency)
		e.noteOutcome(run, oc)
		run.Rewrites = append(run.Rewrites, res)
		examples = res.Examples
		improvement += res.Improvement
	}

	finished, changes := fallback.Finish(doc, run.Reports)
	if len(changes) > 0 {
		est := fallback.FinishImprovement(changes)
		run.Rewrites = append(run.Rewrites, model.RewriteResult{
			Stage:       StageFinishing,
			Document:    finished,
			Changes:     changes,
			Improvement: est,
			Fallback:    true,
		})
		improvement += est
	}

	if len(examples) != len(run.Examples) {
		panic(fmt.Sprintf("example count changed from %d to %d", len(run.Examples), len(examples)))
	}
	run.FinalDocument = finished
	run.FinalExamples = examples
	run.Improvement = model.ClampImprovement(improvement, model.MaxImprovement)

	e.completeRun(run, fmt.Sprintf("Done: %d issues found, %d rewrites, estimated improvement %d%%",
		run.TotalIssues(), len(run.Rewrites), run.Improvement))
	return nil
}

// analyze fans the analyzers out and waits for all of them. Reports keep the
// order of ids regardless of completion order. Backend failures are contained
// per stage; only a panicking stage yields an error.
func (e *Engine) analyze(ctx context.Context, run *model.Run, pl *pipeline.Pipeline, ids []pipeline.StageID, doc string, examples []model.Example) ([]model.IssueReport, error) {
	reports := make([]model.IssueReport, len(ids))
	outcomes := make([]pipeline.Outcome, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s analyzer panicked: %v", id, r)
				}
			}()
			reports[i], outcomes[i] = pl.Analyze(ctx, id, doc, examples)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if run != nil {
		for _, oc := range outcomes {
			e.noteOutcome(run, oc)
		}
	}
	return reports, nil
}

func reportOf(reports []model.IssueReport, id pipeline.StageID) model.IssueReport {
	for _, r := range reports {
		if r.Category == string(id) {
			return r
		}
	}
	return model.NoIssues(string(id))
}

func aggregateSummary(run *model.Run, doc, examples bool) string {
	var flagged []string
	for _, r := range run.Reports {
		if r.HasIssues {
			flagged = append(flagged, r.Category)
		}
	}
	msg := fmt.Sprintf("Found %d issues", run.TotalIssues())
	if len(flagged) > 0 {
		msg += " in " + strings.Join(flagged, ", ")
	}
	switch {
	case doc && examples:
		msg += "; document and examples will be rewritten"
	case doc:
		msg += "; document will be rewritten"
	case examples:
		msg += "; examples will be rewritten"
	}
	return msg
}

// AnalyzeRequest runs a subset of the analyzers with no rewrite.
type AnalyzeRequest struct {
	Document string          `json:"document"`
	Examples []model.Example `json:"examples,omitempty"`
	// Stages limits the analyzers run; empty runs all of them.
	Stages []string `json:"stages,omitempty"`
	Backend
}

// Analyze runs the requested analyzers concurrently and returns their reports
// in roster order. Nothing is recorded.
func (e *Engine) Analyze(ctx context.Context, req AnalyzeRequest) ([]model.IssueReport, error) {
	if strings.TrimSpace(req.Document) == "" {
		return nil, ErrInputEmpty
	}
	ids, err := selectAnalyzers(req.Stages)
	if err != nil {
		return nil, err
	}
	pl, _, _ := e.pipelineFor(ctx, req.Backend)
	reports, err := e.analyze(ctx, nil, pl, ids, req.Document, req.Examples)
	if err != nil {
		e.logger.Error("analyze failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return reports, nil
}

func selectAnalyzers(names []string) ([]pipeline.StageID, error) {
	if len(names) == 0 {
		return pipeline.Analyzers, nil
	}
	want := map[pipeline.StageID]bool{}
	for _, n := range names {
		id := pipeline.StageID(strings.ToLower(strings.TrimSpace(n)))
		if !pipeline.IsAnalyzer(id) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, n)
		}
		want[id] = true
	}
	var ids []pipeline.StageID
	for _, id := range pipeline.Analyzers {
		if want[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
