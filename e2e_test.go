// End-to-end tests for the promptopt server stack.
//
// This test exercises the full server stack:
//   - Real HTTP server (chi router behind httptest.NewServer)
//   - Real SQLite store (WAL mode, temp dir)
//   - Real event bus (in-memory pub/sub)
//   - Fake git provider (records proposals, commits and replies)
//   - Fake LLM (fails every call, so every stage takes its local fallback)
//
// Does NOT require API keys or network access.
package promptopt_test

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/promptopt"
	"github.com/jxucoder/promptopt/gitprovider"
	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/pipeline"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeGitProvider struct {
	mu       sync.Mutex
	docs     map[string]string // "path@ref" -> content
	pr       *gitprovider.PullRequest
	proposed []gitprovider.ProposeOptions
	commits  []gitprovider.CommitOptions
	replies  []string
}

func (g *fakeGitProvider) FetchDocument(_ context.Context, repo, path, ref string) (*gitprovider.Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ref == "" {
		ref = "main"
	}
	content, ok := g.docs[path+"@"+ref]
	if !ok {
		return nil, fmt.Errorf("%s@%s not found", path, ref)
	}
	return &gitprovider.Document{Repo: repo, Path: path, Ref: ref, Content: content}, nil
}

func (g *fakeGitProvider) ProposeDocument(_ context.Context, opts gitprovider.ProposeOptions) (string, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.proposed = append(g.proposed, opts)
	return "https://github.com/" + opts.Repo + "/pull/7", 7, nil
}

func (g *fakeGitProvider) GetPullRequest(_ context.Context, _ string, number int) (*gitprovider.PullRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pr == nil || g.pr.Number != number {
		return nil, errors.New("pull request not found")
	}
	pr := *g.pr
	return &pr, nil
}

func (g *fakeGitProvider) CommitDocument(_ context.Context, opts gitprovider.CommitOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commits = append(g.commits, opts)
	return nil
}

func (g *fakeGitProvider) ReplyToPR(_ context.Context, _ string, _ int, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, body)
	return nil
}

type failingLLM struct {
	mu    sync.Mutex
	calls int
}

func (f *failingLLM) Complete(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "", errors.New("backend offline")
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

const webhookSecret = "e2e-secret"

type e2eHarness struct {
	app *promptopt.App
	srv *httptest.Server
	git *fakeGitProvider
	llm *failingLLM
}

func setupE2E(t *testing.T) *e2eHarness {
	t.Helper()
	git := &fakeGitProvider{docs: map[string]string{}}
	client := &failingLLM{}

	app, err := promptopt.NewBuilder().
		WithConfig(promptopt.Config{
			DataDir:       t.TempDir(),
			WebhookSecret: webhookSecret,
		}).
		WithLLM(client).
		WithGitProvider(git).
		Build()
	require.NoError(t, err)

	app.Engine().Start(context.Background())
	srv := httptest.NewServer(app.Handler().Router())
	t.Cleanup(func() {
		srv.Close()
		_ = app.Close()
	})
	return &e2eHarness{app: app, srv: srv, git: git, llm: client}
}

func (h *e2eHarness) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(h.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *e2eHarness) getRun(t *testing.T, id string) model.Run {
	t.Helper()
	resp, err := http.Get(h.srv.URL + "/api/runs/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run model.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	return run
}

// readEvents consumes an SSE stream until it ends.
func readEvents(t *testing.T, url string) []model.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []model.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e model.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		events = append(events, e)
	}
	return events
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestE2E_OptimizeLifecycle(t *testing.T) {
	h := setupE2E(t)

	resp := h.post(t, "/api/runs", `{
		"document": "Write a summary of the input.",
		"examples": [
			{"role": "user", "content": "Summarize: the sky is blue."},
			{"role": "assistant", "content": "The sky is blue."}
		]
	}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	events := readEvents(t, h.srv.URL+"/api/runs/"+created.ID+"/events")
	require.NotEmpty(t, events)
	assert.Equal(t, model.EventDone, events[len(events)-1].Type)

	fallbacks := 0
	for i, e := range events {
		if i > 0 {
			assert.Greater(t, e.ID, events[i-1].ID, "events must arrive in order without duplicates")
		}
		if e.Type == model.EventFallback {
			fallbacks++
		}
	}
	assert.GreaterOrEqual(t, fallbacks, len(pipeline.Analyzers), "every failed analyzer call is marked")

	run := h.getRun(t, created.ID)
	assert.Equal(t, model.StatusDone, run.Status)
	assert.Len(t, run.Reports, len(pipeline.Analyzers))
	assert.Len(t, run.FinalExamples, 2)
	assert.Equal(t, model.RoleUser, run.FinalExamples[0].Role)
	assert.LessOrEqual(t, run.Improvement, model.MaxImprovement)
	assert.Contains(t, run.FinalDocument, "You are a helpful AI assistant.")

	// Propose the result as a pull request.
	resp = h.post(t, "/api/runs/"+created.ID+"/pr", `{"repo":"acme/prompts","path":"prompts/summary.md"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	h.git.mu.Lock()
	require.Len(t, h.git.proposed, 1)
	proposal := h.git.proposed[0]
	h.git.mu.Unlock()
	assert.Equal(t, run.FinalDocument, proposal.Content)
	assert.Equal(t, "promptopt/"+created.ID, proposal.Branch)
	path, ok := gitprovider.PathFromBody(proposal.Body)
	assert.True(t, ok)
	assert.Equal(t, "prompts/summary.md", path)

	run = h.getRun(t, created.ID)
	assert.Equal(t, 7, run.PRNumber)
}

func TestE2E_RunFromRepositorySource(t *testing.T) {
	h := setupE2E(t)
	h.git.docs["prompts/agent.md@main"] = "Answer questions about the codebase."

	resp := h.post(t, "/api/runs", `{"source":"acme/prompts:prompts/agent.md@main"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	readEvents(t, h.srv.URL+"/api/runs/"+created.ID+"/events")
	run := h.getRun(t, created.ID)
	assert.Equal(t, "Answer questions about the codebase.", run.Document)
	assert.Equal(t, "acme/prompts:prompts/agent.md@main", run.Source)

	// Source supplies repo, path and base.
	resp = h.post(t, "/api/runs/"+created.ID+"/pr", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	h.git.mu.Lock()
	defer h.git.mu.Unlock()
	require.Len(t, h.git.proposed, 1)
	assert.Equal(t, "main", h.git.proposed[0].Base)
	assert.Equal(t, "prompts/agent.md", h.git.proposed[0].Path)
}

func TestE2E_WebhookRevisesPullRequest(t *testing.T) {
	h := setupE2E(t)
	h.git.pr = &gitprovider.PullRequest{
		Number: 7,
		Head:   "promptopt/abc12345",
		Body:   "Automated optimize.\n\n" + gitprovider.PathMarker("prompts/agent.md"),
		URL:    "https://github.com/acme/prompts/pull/7",
	}
	h.git.docs["prompts/agent.md@promptopt/abc12345"] = "You are a helpful AI assistant.\n\nAnswer questions."

	payload := `{
		"action": "created",
		"issue": {"number": 7, "pull_request": {"url": "https://api.github.com/repos/acme/prompts/pulls/7"}},
		"comment": {"body": "/promptopt please add more detail", "user": {"login": "reviewer"}},
		"repository": {"full_name": "acme/prompts"}
	}`
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(payload))

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/webhooks/github", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("X-GitHub-Event", "issue_comment")
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Wait for the background revision.
	h.app.Engine().Stop()

	h.git.mu.Lock()
	defer h.git.mu.Unlock()
	require.Len(t, h.git.commits, 1)
	commit := h.git.commits[0]
	assert.Equal(t, "promptopt/abc12345", commit.Branch)
	assert.Equal(t, "prompts/agent.md", commit.Path)
	assert.NotEqual(t, h.git.docs["prompts/agent.md@promptopt/abc12345"], commit.Content)
	require.Len(t, h.git.replies, 1)
	assert.Contains(t, h.git.replies[0], "Revised `prompts/agent.md`")
}

func TestE2E_WebhookRejectsBadSignature(t *testing.T) {
	h := setupE2E(t)

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/webhooks/github", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("X-GitHub-Event", "issue_comment")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestE2E_RunNotFound(t *testing.T) {
	h := setupE2E(t)

	resp, err := http.Get(h.srv.URL + "/api/runs/nonexistent")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestE2E_HealthCheck(t *testing.T) {
	h := setupE2E(t)

	resp, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
