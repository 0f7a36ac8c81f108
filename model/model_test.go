package model

import "testing"

func TestTruncateShortString(t *testing.T) {
	got := Truncate("hello", 10)
	if got != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}
}

func TestTruncateExactLength(t *testing.T) {
	got := Truncate("hello", 5)
	if got != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}
}

func TestTruncateLongString(t *testing.T) {
	got := Truncate("hello world", 8)
	if got != "hello..." {
		t.Fatalf("expected 'hello...', got %q", got)
	}
}

func TestTruncateVerySmallMaxLen(t *testing.T) {
	got := Truncate("hello", 2)
	if got != "he" {
		t.Fatalf("expected 'he', got %q", got)
	}
}

func TestTruncateMaxLenThree(t *testing.T) {
	got := Truncate("hello", 3)
	if got != "hel" {
		t.Fatalf("expected 'hel', got %q", got)
	}
}

func TestTruncateEmptyString(t *testing.T) {
	got := Truncate("", 10)
	if got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestTruncateUnicode(t *testing.T) {
	got := Truncate("こんにちは世界", 6)
	if got != "こんに..." {
		t.Fatalf("expected 'こんに...', got %q", got)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusIdle, StatusAnalyzing, StatusAggregating, StatusRewriting, StatusAnalyzingFeedback, StatusRevising} {
		if s.Terminal() {
			t.Fatalf("%q should not be terminal", s)
		}
	}
	if !StatusDone.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("done and failed must be terminal")
	}
}

func TestNormalizeEnforcesHasIssues(t *testing.T) {
	r := IssueReport{HasIssues: true, Severity: SeverityHigh, ExampleIndexes: []int{1}}.Normalize("clarity")
	if r.HasIssues {
		t.Fatal("expected has_issues=false for an empty issue list")
	}
	if r.Severity != SeverityLow || r.ExampleIndexes != nil {
		t.Fatalf("expected zero-issue report, got %+v", r)
	}
	if r.Category != "clarity" {
		t.Fatalf("expected category clarity, got %q", r.Category)
	}
}

func TestNormalizeBoundsIssues(t *testing.T) {
	r := NewIssueReport("format", []string{"a", "", "b", "c", "d", "e", "f"}, "bogus")
	if len(r.Issues) != MaxIssues {
		t.Fatalf("expected %d issues, got %d", MaxIssues, len(r.Issues))
	}
	if !r.HasIssues {
		t.Fatal("expected has_issues=true")
	}
	if r.Severity != SeverityLow {
		t.Fatalf("expected invalid severity to become low, got %q", r.Severity)
	}
}

func TestClampImprovement(t *testing.T) {
	cases := map[int]int{-5: 0, 0: 0, 40: 40, 80: 80, 135: 80}
	for in, want := range cases {
		if got := ClampImprovement(in, MaxImprovement); got != want {
			t.Fatalf("ClampImprovement(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCloneExamplesIndependent(t *testing.T) {
	in := []Example{{Role: RoleUser, Content: "hi"}}
	out := CloneExamples(in)
	out[0].Content = "changed"
	if in[0].Content != "hi" {
		t.Fatal("clone shares backing array with input")
	}
	if CloneExamples(nil) != nil {
		t.Fatal("expected nil clone of nil")
	}
}

func TestRunReportLookup(t *testing.T) {
	run := &Run{Reports: []IssueReport{
		NewIssueReport("clarity", []string{"x"}, SeverityMedium),
		NoIssues("format"),
	}}
	rep, ok := run.Report("clarity")
	if !ok || !rep.HasIssues {
		t.Fatalf("expected clarity report with issues, got %+v", rep)
	}
	if _, ok := run.Report("safety"); ok {
		t.Fatal("unexpected safety report")
	}
	if run.TotalIssues() != 1 {
		t.Fatalf("expected 1 issue, got %d", run.TotalIssues())
	}
}
