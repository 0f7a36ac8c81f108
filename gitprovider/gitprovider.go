// Package gitprovider defines the repository host boundary: loading a prompt
// document from a repository and proposing a rewritten one as a pull request.
package gitprovider

import (
	"context"
	"fmt"
	"strings"
)

// Document is a prompt file read from a repository.
type Document struct {
	Repo    string // "owner/repo"
	Path    string
	Ref     string
	SHA     string
	Content string
}

// ProposeOptions configures a pull request carrying a rewritten document.
type ProposeOptions struct {
	Repo    string // "owner/repo"
	Path    string
	Base    string // target branch; empty uses the repository default
	Branch  string // new branch name
	Content string
	Title   string
	Body    string
}

// CommitOptions configures a commit of a document to an existing branch.
type CommitOptions struct {
	Repo    string
	Path    string
	Branch  string
	Content string
	Message string
}

// PullRequest is the subset of a pull request the revision flow needs.
type PullRequest struct {
	Number int
	Head   string
	Body   string
	URL    string
}

// Provider is a repository host.
type Provider interface {
	FetchDocument(ctx context.Context, repo, path, ref string) (*Document, error)
	// ProposeDocument creates a branch, commits the document and opens a pull
	// request. It returns the pull request URL and number.
	ProposeDocument(ctx context.Context, opts ProposeOptions) (string, int, error)
	GetPullRequest(ctx context.Context, repo string, number int) (*PullRequest, error)
	CommitDocument(ctx context.Context, opts CommitOptions) error
	ReplyToPR(ctx context.Context, repo string, number int, body string) error
}

// Source identifies a document in a repository: "owner/repo:path@ref".
type Source struct {
	Repo string
	Path string
	Ref  string
}

func (s Source) String() string {
	out := s.Repo + ":" + s.Path
	if s.Ref != "" {
		out += "@" + s.Ref
	}
	return out
}

// ParseSource parses "owner/repo:path[@ref]".
func ParseSource(s string) (Source, error) {
	repo, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Source{}, fmt.Errorf("invalid source %q, expected \"owner/repo:path[@ref]\"", s)
	}
	path, ref, _ := strings.Cut(rest, "@")
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Source{}, fmt.Errorf("invalid repo %q in source, expected \"owner/repo\"", repo)
	}
	if path == "" {
		return Source{}, fmt.Errorf("invalid source %q: missing path", s)
	}
	return Source{Repo: repo, Path: path, Ref: ref}, nil
}

const pathMarkerPrefix = "<!-- promptopt:path="

// PathMarker returns the hidden pull request body line that records which
// document a proposal rewrote.
func PathMarker(path string) string {
	return pathMarkerPrefix + path + " -->"
}

// PathFromBody extracts the document path recorded by PathMarker.
func PathFromBody(body string) (string, bool) {
	i := strings.Index(body, pathMarkerPrefix)
	if i < 0 {
		return "", false
	}
	rest := body[i+len(pathMarkerPrefix):]
	j := strings.Index(rest, " -->")
	if j <= 0 {
		return "", false
	}
	return rest[:j], true
}
