// Package github implements gitprovider.Provider on the GitHub API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/jxucoder/promptopt/gitprovider"
)

// Client wraps the GitHub API for document loading and proposals.
type Client struct {
	gh *gogh.Client
}

var _ gitprovider.Provider = (*Client)(nil)

// NewClient creates a GitHub client authenticated with the given token.
func NewClient(token string) *Client {
	return &Client{
		gh: gogh.NewClient(nil).WithAuthToken(token),
	}
}

// FetchDocument reads a file. An empty ref reads the default branch.
func (c *Client) FetchDocument(ctx context.Context, repoFullName, path, ref string) (*gitprovider.Document, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	var opts *gogh.RepositoryContentGetOptions
	if ref != "" {
		opts = &gogh.RepositoryContentGetOptions{Ref: ref}
	}
	file, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", path, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &gitprovider.Document{
		Repo:    repoFullName,
		Path:    path,
		Ref:     ref,
		SHA:     file.GetSHA(),
		Content: content,
	}, nil
}

// ProposeDocument branches from base, commits the document and opens a pull request.
func (c *Client) ProposeDocument(ctx context.Context, opts gitprovider.ProposeOptions) (string, int, error) {
	owner, repo, err := splitRepo(opts.Repo)
	if err != nil {
		return "", 0, err
	}

	base := opts.Base
	if base == "" {
		if base, err = c.GetDefaultBranch(ctx, opts.Repo); err != nil {
			return "", 0, err
		}
	}

	baseRef, _, err := c.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+base)
	if err != nil {
		return "", 0, fmt.Errorf("getting base branch %s: %w", base, err)
	}
	_, _, err = c.gh.Git.CreateRef(ctx, owner, repo, &gogh.Reference{
		Ref:    gogh.Ptr("refs/heads/" + opts.Branch),
		Object: &gogh.GitObject{SHA: baseRef.GetObject().SHA},
	})
	if err != nil {
		return "", 0, fmt.Errorf("creating branch %s: %w", opts.Branch, err)
	}

	if err := c.CommitDocument(ctx, gitprovider.CommitOptions{
		Repo:    opts.Repo,
		Path:    opts.Path,
		Branch:  opts.Branch,
		Content: opts.Content,
		Message: opts.Title,
	}); err != nil {
		return "", 0, err
	}

	pr, _, err := c.gh.PullRequests.Create(ctx, owner, repo, &gogh.NewPullRequest{
		Title: gogh.Ptr(opts.Title),
		Body:  gogh.Ptr(opts.Body),
		Head:  gogh.Ptr(opts.Branch),
		Base:  gogh.Ptr(base),
	})
	if err != nil {
		return "", 0, fmt.Errorf("creating pull request: %w", err)
	}

	return pr.GetHTMLURL(), pr.GetNumber(), nil
}

// CommitDocument writes a file on a branch, creating it when absent.
func (c *Client) CommitDocument(ctx context.Context, opts gitprovider.CommitOptions) error {
	owner, repo, err := splitRepo(opts.Repo)
	if err != nil {
		return err
	}

	fileOpts := &gogh.RepositoryContentFileOptions{
		Message: gogh.Ptr(opts.Message),
		Content: []byte(opts.Content),
		Branch:  gogh.Ptr(opts.Branch),
	}
	existing, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, opts.Path,
		&gogh.RepositoryContentGetOptions{Ref: opts.Branch})
	switch {
	case err == nil && existing != nil:
		fileOpts.SHA = gogh.Ptr(existing.GetSHA())
		_, _, err = c.gh.Repositories.UpdateFile(ctx, owner, repo, opts.Path, fileOpts)
	case isNotFound(err):
		_, _, err = c.gh.Repositories.CreateFile(ctx, owner, repo, opts.Path, fileOpts)
	case err == nil:
		return fmt.Errorf("%s is a directory", opts.Path)
	}
	if err != nil {
		return fmt.Errorf("committing %s: %w", opts.Path, err)
	}
	return nil
}

// GetPullRequest returns the head branch and body of a pull request.
func (c *Client) GetPullRequest(ctx context.Context, repoFullName string, number int) (*gitprovider.PullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("getting pull request #%d: %w", number, err)
	}
	return &gitprovider.PullRequest{
		Number: pr.GetNumber(),
		Head:   pr.GetHead().GetRef(),
		Body:   pr.GetBody(),
		URL:    pr.GetHTMLURL(),
	}, nil
}

// ReplyToPR posts a comment on a pull request.
func (c *Client) ReplyToPR(ctx context.Context, repoFullName string, number int, body string) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}
	_, _, err = c.gh.Issues.CreateComment(ctx, owner, repo, number, &gogh.IssueComment{
		Body: gogh.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("commenting on pull request #%d: %w", number, err)
	}
	return nil
}

// GetDefaultBranch returns the default branch for a repository.
func (c *Client) GetDefaultBranch(ctx context.Context, repoFullName string) (string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return "", err
	}

	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("getting repository: %w", err)
	}

	return r.GetDefaultBranch(), nil
}

func isNotFound(err error) bool {
	var ghErr *gogh.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

func splitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected \"owner/repo\"", fullName)
	}
	return parts[0], parts[1], nil
}
