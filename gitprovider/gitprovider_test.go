package gitprovider

import "testing"

func TestParseSource(t *testing.T) {
	tests := []struct {
		in      string
		want    Source
		wantErr bool
	}{
		{"owner/repo:prompts/system.md", Source{Repo: "owner/repo", Path: "prompts/system.md"}, false},
		{"owner/repo:a.txt@main", Source{Repo: "owner/repo", Path: "a.txt", Ref: "main"}, false},
		{"owner/repo", Source{}, true},
		{"repo:a.txt", Source{}, true},
		{"owner/repo:", Source{}, true},
		{"a/b/c:x", Source{}, true},
	}
	for _, tt := range tests {
		got, err := ParseSource(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseSource(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseSource(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if s := (Source{Repo: "o/r", Path: "p", Ref: "dev"}).String(); s != "o/r:p@dev" {
		t.Fatalf("unexpected String(): %s", s)
	}
}

func TestPathMarkerRoundTrip(t *testing.T) {
	body := "Rewritten prompt.\n\n" + PathMarker("prompts/support.md")
	got, ok := PathFromBody(body)
	if !ok || got != "prompts/support.md" {
		t.Fatalf("PathFromBody = %q, %v", got, ok)
	}
	if _, ok := PathFromBody("no marker"); ok {
		t.Fatal("expected no path")
	}
}
