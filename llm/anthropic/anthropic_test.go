package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompleteSendsSystemAndReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["system"] != "sys" {
			t.Errorf("unexpected system: %v", body["system"])
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"ok\":true}"}]}`))
	}))
	defer srv.Close()

	c := New("secret", "").WithEndpoint(srv.URL)
	got, err := c.Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != `{"ok":true}` {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestCompleteReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New("k", "").WithEndpoint(srv.URL).Complete(context.Background(), "s", "u")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected 503 error, got %v", err)
	}
}
