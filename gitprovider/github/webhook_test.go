package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"strings"
	"testing"
)

const issueCommentPayload = `{
	"action": "created",
	"issue": {"number": 7, "pull_request": {"url": "x"}},
	"comment": {"body": "/promptopt make it more casual", "user": {"login": "dev"}},
	"repository": {"full_name": "owner/repo"}
}`

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestParseWebhookIssueComment(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/webhooks/github", strings.NewReader(issueCommentPayload))
	req.Header.Set("X-GitHub-Event", "issue_comment")
	req.Header.Set("X-Hub-Signature-256", sign(issueCommentPayload, "s3cret"))

	ev, err := ParseWebhook(req, "s3cret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev == nil || ev.Repo != "owner/repo" || ev.PRNumber != 7 || ev.Feedback != "make it more casual" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseWebhookBadSignature(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/webhooks/github", strings.NewReader(issueCommentPayload))
	req.Header.Set("X-GitHub-Event", "issue_comment")
	req.Header.Set("X-Hub-Signature-256", sign(issueCommentPayload, "other"))
	if _, err := ParseWebhook(req, "s3cret"); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestParseWebhookIgnoresOtherComments(t *testing.T) {
	body := strings.Replace(issueCommentPayload, "/promptopt make it more casual", "looks good", 1)
	req := httptest.NewRequest("POST", "/api/webhooks/github", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issue_comment")
	ev, err := ParseWebhook(req, "")
	if err != nil || ev != nil {
		t.Fatalf("expected nil event, got %+v, %v", ev, err)
	}

	req = httptest.NewRequest("POST", "/api/webhooks/github", strings.NewReader(`{}`))
	req.Header.Set("X-GitHub-Event", "push")
	if ev, err := ParseWebhook(req, ""); err != nil || ev != nil {
		t.Fatalf("expected nil event for push, got %+v, %v", ev, err)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		body, want string
		ok         bool
	}{
		{"/promptopt shorter please", "shorter please", true},
		{"  /promptopt\nadd tool guidance", "add tool guidance", true},
		{"/promptopt", "", false},
		{"/promptoptimize now", "", false},
		{"please /promptopt x", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseCommand(tt.body)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseCommand(%q) = %q, %v; want %q, %v", tt.body, got, ok, tt.want, tt.ok)
		}
	}
}
