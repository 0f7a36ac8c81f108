package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jxucoder/promptopt/gitprovider"
	"github.com/jxucoder/promptopt/model"
)

// resolveDocument returns the document of a request and the source recorded
// on the run. A blank document with a source is loaded from the repository.
func (e *Engine) resolveDocument(ctx context.Context, doc, source string) (string, string, error) {
	if strings.TrimSpace(doc) != "" {
		return doc, source, nil
	}
	if source == "" {
		return "", "", ErrInputEmpty
	}
	if e.git == nil {
		return "", "", ErrNoGitProvider
	}
	src, err := gitprovider.ParseSource(source)
	if err != nil {
		return "", "", err
	}
	d, err := e.git.FetchDocument(ctx, src.Repo, src.Path, src.Ref)
	if err != nil {
		return "", "", fmt.Errorf("loading %s: %w", src, err)
	}
	if strings.TrimSpace(d.Content) == "" {
		return "", "", ErrInputEmpty
	}
	src.Ref = d.Ref
	return d.Content, src.String(), nil
}

// PROptions overrides where a run's document is proposed. Zero fields fall
// back to the run's source.
type PROptions struct {
	Repo string `json:"repo,omitempty"`
	Path string `json:"path,omitempty"`
	Base string `json:"base,omitempty"`
}

// CreatePR proposes a finished run's document as a pull request and records
// the pull request on the run.
func (e *Engine) CreatePR(ctx context.Context, runID string, opts PROptions) (string, int, error) {
	if e.git == nil {
		return "", 0, ErrNoGitProvider
	}
	run, err := e.GetRun(runID)
	if err != nil {
		return "", 0, err
	}
	if run.Status != model.StatusDone {
		return "", 0, fmt.Errorf("run %s is %s, not done", run.ID, run.Status)
	}
	if run.PRUrl != "" {
		return run.PRUrl, run.PRNumber, nil
	}

	if run.Source != "" {
		if src, err := gitprovider.ParseSource(run.Source); err == nil {
			if opts.Repo == "" {
				opts.Repo = src.Repo
			}
			if opts.Path == "" {
				opts.Path = src.Path
			}
			if opts.Base == "" {
				opts.Base = src.Ref
			}
		}
	}
	if opts.Repo == "" || opts.Path == "" {
		return "", 0, fmt.Errorf("run %s has no source; repo and path are required", run.ID)
	}

	e.emitEvent(run, model.EventStatus, "Creating pull request...")
	prURL, prNumber, err := e.git.ProposeDocument(ctx, gitprovider.ProposeOptions{
		Repo:    opts.Repo,
		Path:    opts.Path,
		Base:    opts.Base,
		Branch:  e.config.BranchPrefix + run.ID,
		Content: run.FinalDocument,
		Title:   fmt.Sprintf("promptopt: %s %s", verbFor(run.Kind), opts.Path),
		Body:    prBody(run, opts.Path),
	})
	if err != nil {
		e.emitEvent(run, model.EventError, fmt.Sprintf("failed to create PR: %v", err))
		return "", 0, fmt.Errorf("creating PR: %w", err)
	}

	run.PRUrl = prURL
	run.PRNumber = prNumber
	e.saveRun(run)
	e.emitEvent(run, model.EventStatus, "Pull request opened: "+prURL)
	return prURL, prNumber, nil
}

func verbFor(kind model.Kind) string {
	if kind == model.KindRevise {
		return "revise"
	}
	return "optimize"
}

func prBody(run *model.Run, path string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated %s of `%s` (run `%s`).\n\n", verbFor(run.Kind), path, run.ID)
	fmt.Fprintf(&b, "Estimated improvement: %d%%\n", run.Improvement)

	if len(run.Reports) > 0 {
		b.WriteString("\n### Findings\n")
		for _, r := range run.Reports {
			if !r.HasIssues {
				continue
			}
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", r.Category, r.Severity, strings.Join(r.Issues, "; "))
		}
	}
	var changes []string
	for _, rw := range run.Rewrites {
		changes = append(changes, rw.Changes...)
	}
	if run.Revision != nil {
		changes = append(changes, run.Revision.Changes...)
	}
	if len(changes) > 0 {
		b.WriteString("\n### Changes\n")
		for _, c := range changes {
			b.WriteString("- " + c + "\n")
		}
	}
	b.WriteString("\nComment `/promptopt <feedback>` on this pull request to revise the document.\n\n")
	b.WriteString(gitprovider.PathMarker(path))
	return b.String()
}

// HandlePRComment revises the document of a proposal pull request with the
// feedback of a review comment, commits the result to the pull request branch
// and replies with a summary.
func (e *Engine) HandlePRComment(ctx context.Context, repo string, number int, feedback string) (*model.Run, error) {
	if e.git == nil {
		return nil, ErrNoGitProvider
	}
	pr, err := e.git.GetPullRequest(ctx, repo, number)
	if err != nil {
		return nil, fmt.Errorf("getting PR #%d: %w", number, err)
	}
	path, ok := gitprovider.PathFromBody(pr.Body)
	if !ok {
		return nil, fmt.Errorf("PR #%d was not opened by promptopt", number)
	}
	doc, err := e.git.FetchDocument(ctx, repo, path, pr.Head)
	if err != nil {
		return nil, fmt.Errorf("loading %s@%s: %w", path, pr.Head, err)
	}

	run, err := e.Revise(ctx, ReviseRequest{
		Document: doc.Content,
		Feedback: feedback,
		Source:   gitprovider.Source{Repo: repo, Path: path, Ref: pr.Head}.String(),
	})
	if err != nil {
		return run, err
	}
	run.PRUrl, run.PRNumber = pr.URL, pr.Number
	e.saveRun(run)

	if run.FinalDocument == doc.Content {
		e.reply(ctx, repo, number, fmt.Sprintf("No changes applied for this feedback (run `%s`).\n\n%s", run.ID, run.Revision.Explanation))
		return run, nil
	}
	if err := e.git.CommitDocument(ctx, gitprovider.CommitOptions{
		Repo:    repo,
		Path:    path,
		Branch:  pr.Head,
		Content: run.FinalDocument,
		Message: "promptopt: revise " + path + " from review feedback",
	}); err != nil {
		e.emitEvent(run, model.EventError, fmt.Sprintf("failed to commit revision: %v", err))
		return run, fmt.Errorf("committing revision: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Revised `%s` (run `%s`):\n", path, run.ID)
	for _, c := range run.Revision.Changes {
		b.WriteString("- " + c + "\n")
	}
	e.reply(ctx, repo, number, b.String())
	return run, nil
}

func (e *Engine) reply(ctx context.Context, repo string, number int, body string) {
	if err := e.git.ReplyToPR(ctx, repo, number, body); err != nil {
		e.logger.Warn("replying to PR", zap.String("repo", repo), zap.Int("pr", number), zap.Error(err))
	}
}

// StartPRComment handles a review comment in the background.
func (e *Engine) StartPRComment(repo string, number int, feedback string) {
	e.goAsync(func(ctx context.Context) {
		if _, err := e.HandlePRComment(ctx, repo, number, feedback); err != nil {
			e.logger.Warn("handling PR comment", zap.String("repo", repo), zap.Int("pr", number), zap.Error(err))
		}
	})
}
