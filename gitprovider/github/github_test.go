package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/promptopt/gitprovider"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewClient("test-token")
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	c.gh.BaseURL = base
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fileJSON(content, sha string) map[string]any {
	return map[string]any{
		"type":     "file",
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
		"sha":      sha,
	}
}

func TestFetchDocument(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/owner/repo/contents/prompts/system.md", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dev", r.URL.Query().Get("ref"))
		writeJSON(w, http.StatusOK, fileJSON("You are a bot.", "sha1"))
	})
	c := newTestClient(t, mux)

	doc, err := c.FetchDocument(context.Background(), "owner/repo", "prompts/system.md", "dev")
	require.NoError(t, err)
	assert.Equal(t, "You are a bot.", doc.Content)
	assert.Equal(t, "sha1", doc.SHA)
	assert.Equal(t, "dev", doc.Ref)
}

func TestProposeDocument(t *testing.T) {
	var mu sync.Mutex
	var putBody map[string]any
	var refBody map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/owner/repo/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ref": "refs/heads/main", "object": map[string]any{"sha": "base-sha"}})
	})
	mux.HandleFunc("POST /repos/owner/repo/git/refs", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&refBody)
		writeJSON(w, http.StatusCreated, map[string]any{"ref": refBody["ref"]})
	})
	mux.HandleFunc("GET /repos/owner/repo/contents/prompts/system.md", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, fileJSON("old", "old-sha"))
	})
	mux.HandleFunc("PUT /repos/owner/repo/contents/prompts/system.md", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&putBody)
		writeJSON(w, http.StatusOK, map[string]any{"content": map[string]any{"sha": "new-sha"}})
	})
	mux.HandleFunc("POST /repos/owner/repo/pulls", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"number": 7, "html_url": "https://github.com/owner/repo/pull/7"})
	})
	c := newTestClient(t, mux)

	prURL, num, err := c.ProposeDocument(context.Background(), gitprovider.ProposeOptions{
		Repo:    "owner/repo",
		Path:    "prompts/system.md",
		Base:    "main",
		Branch:  "promptopt/abc12345",
		Content: "You are a precise bot.",
		Title:   "Optimize prompts/system.md",
		Body:    "body",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, num)
	assert.Equal(t, "https://github.com/owner/repo/pull/7", prURL)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "refs/heads/promptopt/abc12345", refBody["ref"])
	assert.Equal(t, "old-sha", putBody["sha"])
	assert.Equal(t, "promptopt/abc12345", putBody["branch"])
	decoded, err := base64.StdEncoding.DecodeString(putBody["content"].(string))
	require.NoError(t, err)
	assert.Equal(t, "You are a precise bot.", string(decoded))
}

func TestCommitDocumentCreatesMissingFile(t *testing.T) {
	var putBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/owner/repo/contents/new.md", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	})
	mux.HandleFunc("PUT /repos/owner/repo/contents/new.md", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &putBody)
		writeJSON(w, http.StatusCreated, map[string]any{"content": map[string]any{"sha": "s"}})
	})
	c := newTestClient(t, mux)

	err := c.CommitDocument(context.Background(), gitprovider.CommitOptions{
		Repo: "owner/repo", Path: "new.md", Branch: "b", Content: "x", Message: "add",
	})
	require.NoError(t, err)
	_, hasSHA := putBody["sha"]
	assert.False(t, hasSHA, "a new file is created without a sha")
}

func TestGetPullRequestAndReply(t *testing.T) {
	var comment map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/owner/repo/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"number": 7, "body": gitprovider.PathMarker("p.md"),
			"head": map[string]any{"ref": "promptopt/abc"}, "html_url": "u",
		})
	})
	mux.HandleFunc("POST /repos/owner/repo/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&comment)
		writeJSON(w, http.StatusCreated, map[string]any{"id": 1})
	})
	c := newTestClient(t, mux)

	pr, err := c.GetPullRequest(context.Background(), "owner/repo", 7)
	require.NoError(t, err)
	assert.Equal(t, "promptopt/abc", pr.Head)
	path, ok := gitprovider.PathFromBody(pr.Body)
	assert.True(t, ok)
	assert.Equal(t, "p.md", path)

	require.NoError(t, c.ReplyToPR(context.Background(), "owner/repo", 7, "done"))
	assert.Equal(t, "done", comment["body"])
}

func TestSplitRepo(t *testing.T) {
	if _, _, err := splitRepo("owner/repo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "owner", "/repo", "owner/"} {
		if _, _, err := splitRepo(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
