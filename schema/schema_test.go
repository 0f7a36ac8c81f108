package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllShapesCompile(t *testing.T) {
	for _, shape := range All() {
		s := For(shape)
		require.NotNil(t, s, shape)
		assert.Equal(t, string(shape), s.Name())
		assert.True(t, json.Valid([]byte(s.Describe())), "description of %s is not JSON", shape)
	}
}

func TestIssueReportValidation(t *testing.T) {
	s := For(ShapeIssueReport)

	cases := []struct {
		name  string
		raw   string
		valid bool
	}{
		{"complete", `{"has_issues":true,"issues":["a"],"severity":"high","category":"clarity"}`, true},
		{"optional fields", `{"has_issues":true,"issues":["a"],"severity":"low","category":"consistency","example_indexes":[1],"rewrite_suggestions":["x"]}`, true},
		{"extra field accepted", `{"has_issues":false,"issues":[],"severity":"low","category":"c","note":"hi"}`, true},
		{"missing required", `{"has_issues":true,"issues":["a"]}`, false},
		{"wrong type", `{"has_issues":"yes","issues":[],"severity":"low","category":"c"}`, false},
		{"bad enum", `{"has_issues":false,"issues":[],"severity":"critical","category":"c"}`, false},
		{"too many issues", `{"has_issues":true,"issues":["1","2","3","4","5","6"],"severity":"low","category":"c"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Validate([]byte(tc.raw))
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSafetyFlattensEmbeddedReport(t *testing.T) {
	desc := For(ShapeSafety).Describe()
	for _, field := range []string{`"has_issues"`, `"severity"`, `"risk_areas"`} {
		assert.Contains(t, desc, field)
	}
	err := For(ShapeSafety).Validate([]byte(`{"has_issues":true,"issues":["x"],"severity":"high","category":"safety","risk_areas":["bias"]}`))
	assert.NoError(t, err)
	err = For(ShapeSafety).Validate([]byte(`{"has_issues":true,"issues":["x"],"severity":"high","category":"safety","risk_areas":["weather"]}`))
	assert.Error(t, err)
}

func TestFeedbackAnalysisBounds(t *testing.T) {
	s := For(ShapeFeedbackAnalysis)
	ok := `{"understood_feedback":"u","category":"clarity","required_changes":["remove_ambiguity"],"revision_strategy":"s","estimated_impact":0.8}`
	require.NoError(t, s.Validate([]byte(ok)))

	outOfRange := strings.Replace(ok, "0.8", "1.5", 1)
	assert.Error(t, s.Validate([]byte(outOfRange)))

	unknownChange := strings.Replace(ok, "remove_ambiguity", "rewrite_everything", 1)
	assert.Error(t, s.Validate([]byte(unknownChange)))
}

func TestRewriteOutputRequiresDocument(t *testing.T) {
	s := For(ShapeRewrite)
	assert.NoError(t, s.Validate([]byte(`{"document":"d","changes":[],"estimated_improvement":10}`)))
	assert.Error(t, s.Validate([]byte(`{"changes":[],"estimated_improvement":10}`)))
	assert.Error(t, s.Validate([]byte(`{"document":"d","changes":[],"estimated_improvement":150}`)))
}

func TestGenerateRejectsUnsupported(t *testing.T) {
	_, err := Generate("bad", struct {
		C chan int `json:"c"`
	}{})
	assert.Error(t, err)

	_, err = Generate("badtag", struct {
		S string `json:"s" schema:"pattern"`
	}{})
	assert.Error(t, err)
}

func TestForUnknownShapePanics(t *testing.T) {
	assert.Panics(t, func() { For("nope") })
}
