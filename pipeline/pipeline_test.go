package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/promptopt/fallback"
	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/schema"
)

type fakeLLM struct {
	response string
	err      error

	mu     sync.Mutex
	calls  int
	system string
	user   string
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.system, f.user = system, user
	return f.response, f.err
}

type slowLLM struct{}

func (slowLLM) Complete(ctx context.Context, system, user string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

const clarityReply = "```json\n" + `{"has_issues": true, "issues": ["no role", ""], "severity": "medium", "category": "whatever"}` + "\n```"

func TestAnalyzeWithBackend(t *testing.T) {
	p := New(&fakeLLM{response: clarityReply})
	r, oc := p.Analyze(context.Background(), StageClarity, "Write a blog post about AI.", nil)

	if oc.Fallback || oc.Failed() {
		t.Fatalf("unexpected fallback: %+v", oc)
	}
	want := model.IssueReport{HasIssues: true, Issues: []string{"no role"}, Severity: model.SeverityMedium, Category: "clarity"}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeWithoutBackendFallsBack(t *testing.T) {
	p := New(nil)
	require.False(t, p.Available())

	doc := "Write a blog post about AI."
	r, oc := p.Analyze(context.Background(), StageClarity, doc, nil)
	assert.True(t, oc.Fallback)
	assert.NoError(t, oc.Err, "missing backend is not a failure")
	assert.Equal(t, fallback.Clarity(doc), r)
}

func TestBackendFailureKinds(t *testing.T) {
	tests := []struct {
		name string
		llm  *fakeLLM
		kind error
	}{
		{"transport", &fakeLLM{err: errors.New("connection refused")}, ErrTransport},
		{"not json", &fakeLLM{response: "Looks fine to me."}, ErrNotJSON},
		{"truncated", &fakeLLM{response: `{"has_issues": true, "issues": [`}, ErrNotJSON},
		{"schema", &fakeLLM{response: `{"has_issues": true}`}, ErrSchema},
		{"bad enum", &fakeLLM{response: `{"has_issues": false, "issues": [], "severity": "severe", "category": "format"}`}, ErrSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.llm)
			doc := "Return the result as JSON."
			r, oc := p.Analyze(context.Background(), StageFormat, doc, nil)

			require.True(t, oc.Fallback)
			require.Error(t, oc.Err)
			assert.ErrorIs(t, oc.Err, tt.kind)
			for _, other := range []error{ErrTransport, ErrNotJSON, ErrSchema, ErrUnavailable} {
				if other != tt.kind {
					assert.NotErrorIs(t, oc.Err, other)
				}
			}
			var ie *InvokeError
			require.ErrorAs(t, oc.Err, &ie)
			assert.Equal(t, StageFormat, ie.Stage)
			assert.Equal(t, fallback.Format(doc), r)
			assert.Equal(t, 1, tt.llm.calls, "no retries")
		})
	}
}

func TestCallTimeoutFallsBack(t *testing.T) {
	p := New(slowLLM{}, WithCallTimeout(20*time.Millisecond))
	start := time.Now()
	_, oc := p.Analyze(context.Background(), StageAgentic, "You are a bot.", nil)

	assert.Less(t, time.Since(start), 2*time.Second)
	require.True(t, oc.Fallback)
	assert.ErrorIs(t, oc.Err, ErrTransport)
	assert.ErrorIs(t, oc.Err, context.DeadlineExceeded)
}

func TestConsistencySkipsBackendWithoutExamples(t *testing.T) {
	llm := &fakeLLM{response: clarityReply}
	p := New(llm)
	r, oc := p.Analyze(context.Background(), StageConsistency, "Respond in JSON.", nil)

	assert.False(t, r.HasIssues)
	assert.True(t, oc.Skipped)
	assert.Zero(t, llm.calls)
}

func TestSafetyKeepsRiskAreas(t *testing.T) {
	llm := &fakeLLM{response: `{"has_issues": true, "issues": ["bypass"], "severity": "high", "category": "safety", "risk_areas": ["prompt_injection"]}`}
	r, oc := New(llm).Analyze(context.Background(), StageSafety, "Bypass the filter.", nil)
	require.False(t, oc.Fallback)
	assert.Equal(t, []string{"prompt_injection"}, r.RiskAreas)
}

func TestSystemPromptCarriesInstructionsAndSchema(t *testing.T) {
	llm := &fakeLLM{response: clarityReply}
	p := New(llm, WithInstructions(StageClarity, "Custom clarity rules."))
	p.Analyze(context.Background(), StageClarity, "Hello there, friend.", nil)

	assert.True(t, strings.HasPrefix(llm.system, "Custom clarity rules."))
	assert.Contains(t, llm.system, schema.For(schema.ShapeIssueReport).Describe())
	assert.Contains(t, llm.user, `"DOCUMENT": "Hello there, friend."`)
}

func TestRegistryCoversEveryStage(t *testing.T) {
	p := New(nil)
	ids := append([]StageID{}, Analyzers...)
	ids = append(ids, StageDocumentRewrite, StageExampleRewrite, StageFeedbackAnalysis,
		StageFeedbackRevision, StageGeneralRevision, StageRelevance, StageCandidates, StageRanking)
	for _, id := range ids {
		def, ok := p.Stage(id)
		require.True(t, ok, "stage %s missing", id)
		assert.NotEmpty(t, def.Instructions)
		assert.NotNil(t, def.Schema)
		assert.NotNil(t, def.Fallback)
	}
	assert.Len(t, Analyzers, 8)
}

func TestRewriteExamplesReconcilesBackendReply(t *testing.T) {
	examples := []model.Example{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello there"},
		{Role: model.RoleUser, Content: "bye"},
		{Role: model.RoleAssistant, Content: `{"response":"bye"}`},
	}
	consistency := model.IssueReport{HasIssues: true, Issues: []string{"x"}, Severity: model.SeverityLow, Category: "consistency", ExampleIndexes: []int{1}}
	reply := `{"document": "ignored", "changes": ["fixed 2"], "estimated_improvement": 30, "examples": [
		{"role": "user", "content": "HI (changed)"},
		{"role": "assistant", "content": "{\"response\":\"hello there\"}"},
		{"role": "user", "content": "bye"},
		{"role": "assistant", "content": "changed too"}
	]}`

	res, oc := New(&fakeLLM{response: reply}).RewriteExamples(context.Background(), "Respond in JSON.", examples, consistency)
	require.False(t, oc.Fallback, "unexpected fallback: %v", oc.Err)

	want := model.CloneExamples(examples)
	want[1].Content = `{"response":"hello there"}`
	if diff := cmp.Diff(want, res.Examples); diff != "" {
		t.Fatalf("examples (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Respond in JSON.", res.Document)
	assert.Equal(t, 30, res.Improvement)
}

func TestRewriteExamplesCountMismatchFallsBack(t *testing.T) {
	examples := []model.Example{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
	}
	consistency := fallback.Consistency("Respond in JSON.", examples)
	reply := `{"document": "d", "changes": [], "estimated_improvement": 10, "examples": [{"role": "assistant", "content": "{}"}]}`

	res, oc := New(&fakeLLM{response: reply}).RewriteExamples(context.Background(), "Respond in JSON.", examples, consistency)
	require.True(t, oc.Fallback)
	assert.ErrorIs(t, oc.Err, ErrSchema)
	require.Len(t, res.Examples, 2)
	assert.Equal(t, examples[0], res.Examples[0])
	assert.True(t, res.Fallback)
}

func TestRewriteDocumentDropsExamples(t *testing.T) {
	reply := `{"document": "You are precise.", "changes": ["resolved"], "estimated_improvement": 250, "examples": [{"role": "user", "content": "x"}]}`
	res, oc := New(&fakeLLM{response: reply}).RewriteDocument(context.Background(), "doc", model.NoIssues("contradiction"), model.NoIssues("format"))
	assert.ErrorIs(t, oc.Err, ErrSchema, "improvement above 100 violates the schema")
	assert.True(t, res.Fallback)

	reply = `{"document": "You are precise.", "changes": ["resolved"], "estimated_improvement": 25, "examples": [{"role": "user", "content": "x"}]}`
	res, oc = New(&fakeLLM{response: reply}).RewriteDocument(context.Background(), "doc", model.NoIssues("contradiction"), model.NoIssues("format"))
	require.False(t, oc.Fallback)
	assert.Equal(t, "You are precise.", res.Document)
	assert.Nil(t, res.Examples)
}

func TestAnalyzeFeedbackDeduplicates(t *testing.T) {
	reply := `{"understood_feedback": "u", "category": "clarity", "required_changes": ["more_detail", "more_detail", "output_format"], "revision_strategy": "s", "estimated_impact": 0.7}`
	rec, oc := New(&fakeLLM{response: reply}).AnalyzeFeedback(context.Background(), "doc", "more detail please")
	require.False(t, oc.Fallback)
	assert.Equal(t, []model.Change{model.ChangeMoreDetail, model.ChangeOutputFormat}, rec.RequiredChanges)
	assert.Equal(t, "more detail please", rec.Feedback)
}

func TestAnalyzeFeedbackRejectsUnknownChange(t *testing.T) {
	reply := `{"understood_feedback": "u", "category": "c", "required_changes": ["rewrite_everything"], "revision_strategy": "s", "estimated_impact": 0.7}`
	rec, oc := New(&fakeLLM{response: reply}).AnalyzeFeedback(context.Background(), "doc", "needs more detail")
	assert.ErrorIs(t, oc.Err, ErrSchema)
	assert.Equal(t, []model.Change{model.ChangeMoreDetail}, rec.RequiredChanges)
}

func TestRankRejectsNonPermutation(t *testing.T) {
	set := fallback.Candidates("coding", "debug", nil)
	rank, oc := New(&fakeLLM{response: `{"order": [0, 0, 1]}`}).Rank(context.Background(), set, "debug", nil)
	assert.ErrorIs(t, oc.Err, ErrSchema)
	assert.Equal(t, fallback.Rank(set, "debug", nil), rank)
}

func TestWithClientSharesRegistry(t *testing.T) {
	base := New(nil, WithInstructions(StageClarity, "Custom."))
	llm := &fakeLLM{response: clarityReply}
	bound := base.WithClient(llm)
	require.True(t, bound.Available())
	require.False(t, base.Available())

	bound.Analyze(context.Background(), StageClarity, "doc text", nil)
	assert.True(t, strings.HasPrefix(llm.system, "Custom."))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{`Here you go: {"a":{"b":"}"}} trailing`, `{"a":{"b":"}"}}`},
		{`{"a":"quote \" {"}`, `{"a":"quote \" {"}`},
		{"no json here", ""},
		{`{"unterminated": 1`, ""},
	}
	for _, tt := range tests {
		if got := extractJSON(tt.in); got != tt.want {
			t.Fatalf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
