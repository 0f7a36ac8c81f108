package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompleteRequestsJSONObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		var body struct {
			ResponseFormat map[string]string `json:"response_format"`
			Messages       []map[string]string
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.ResponseFormat["type"] != "json_object" {
			t.Errorf("expected json_object response format, got %v", body.ResponseFormat)
		}
		if len(body.Messages) != 2 || body.Messages[0]["role"] != "system" {
			t.Errorf("unexpected messages: %v", body.Messages)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	}))
	defer srv.Close()

	got, err := New("secret", "").WithEndpoint(srv.URL).Complete(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "{}" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	if _, err := New("k", "").WithEndpoint(srv.URL).Complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
