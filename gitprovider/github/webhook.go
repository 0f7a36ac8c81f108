package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// CommandPrefix starts a pull request comment that asks for a revision.
const CommandPrefix = "/promptopt"

// WebhookEvent is a revision request left as a pull request comment.
type WebhookEvent struct {
	Repo     string
	PRNumber int
	User     string
	// Feedback is the comment text after the command prefix.
	Feedback string
}

// ParseWebhook parses a GitHub webhook request. It handles newly created
// "issue_comment" events on pull requests and submitted "pull_request_review"
// events whose body starts with CommandPrefix. Any other event yields nil.
//
// If secret is non-empty, the request signature is verified.
func ParseWebhook(r *http.Request, secret string) (*WebhookEvent, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	if secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			return nil, fmt.Errorf("missing webhook signature")
		}
		if !verifySignature(body, sig, secret) {
			return nil, fmt.Errorf("invalid webhook signature")
		}
	}

	switch r.Header.Get("X-GitHub-Event") {
	case "issue_comment":
		return parseIssueComment(body)
	case "pull_request_review":
		return parseReview(body)
	default:
		return nil, nil
	}
}

// ParseCommand extracts the feedback from a "/promptopt <feedback>" comment.
func ParseCommand(body string) (string, bool) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, CommandPrefix) {
		return "", false
	}
	rest := body[len(CommandPrefix):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\n' && rest[0] != '\t' {
		return "", false
	}
	feedback := strings.TrimSpace(rest)
	return feedback, feedback != ""
}

func parseIssueComment(body []byte) (*WebhookEvent, error) {
	var payload struct {
		Action string `json:"action"`
		Issue  struct {
			Number      int `json:"number"`
			PullRequest *struct {
				URL string `json:"url"`
			} `json:"pull_request"`
		} `json:"issue"`
		Comment struct {
			Body string `json:"body"`
			User struct {
				Login string `json:"login"`
			} `json:"user"`
		} `json:"comment"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing issue_comment payload: %w", err)
	}

	// Only comments on pull requests, and only new ones.
	if payload.Issue.PullRequest == nil || payload.Action != "created" {
		return nil, nil
	}
	feedback, ok := ParseCommand(payload.Comment.Body)
	if !ok {
		return nil, nil
	}

	return &WebhookEvent{
		Repo:     payload.Repository.FullName,
		PRNumber: payload.Issue.Number,
		User:     payload.Comment.User.Login,
		Feedback: feedback,
	}, nil
}

func parseReview(body []byte) (*WebhookEvent, error) {
	var payload struct {
		Action string `json:"action"`
		Review struct {
			Body string `json:"body"`
			User struct {
				Login string `json:"login"`
			} `json:"user"`
		} `json:"review"`
		PullRequest struct {
			Number int `json:"number"`
		} `json:"pull_request"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing pull_request_review payload: %w", err)
	}

	if payload.Action != "submitted" {
		return nil, nil
	}
	feedback, ok := ParseCommand(payload.Review.Body)
	if !ok {
		return nil, nil
	}

	return &WebhookEvent{
		Repo:     payload.Repository.FullName,
		PRNumber: payload.PullRequest.Number,
		User:     payload.Review.User.Login,
		Feedback: feedback,
	}, nil
}

// verifySignature checks the HMAC-SHA256 signature from GitHub.
func verifySignature(payload []byte, signature, secret string) bool {
	sig := strings.TrimPrefix(signature, "sha256=")
	decoded, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	return hmac.Equal(decoded, expected)
}
