package schema

import (
	"fmt"
	"sync"

	"github.com/jxucoder/promptopt/model"
)

// Shape names a registered result shape.
type Shape string

const (
	ShapeIssueReport      Shape = "issue_report"
	ShapeSafety           Shape = "safety"
	ShapeRewrite          Shape = "rewrite_output"
	ShapeFeedbackAnalysis Shape = "feedback_analysis"
	ShapeRevision         Shape = "revision_output"
	ShapeCandidates       Shape = "candidate_set"
	ShapeRanking          Shape = "ranking"
	ShapeRelevance        Shape = "relevance"
)

// SafetyReport is the issue report of the safety/bias analyzer.
type SafetyReport struct {
	model.IssueReport
	RiskAreas []string `json:"risk_areas,omitempty" schema:"enum=prompt_injection|harmful_content|bias|sensitive_data"`
}

// RewriteOutput is returned by the document and example rewrite stages.
type RewriteOutput struct {
	Document             string          `json:"document"`
	Examples             []model.Example `json:"examples,omitempty"`
	Changes              []string        `json:"changes"`
	EstimatedImprovement int             `json:"estimated_improvement" schema:"min=0,max=100"`
}

// FeedbackAnalysis classifies user feedback into the change vocabulary.
type FeedbackAnalysis struct {
	UnderstoodFeedback string         `json:"understood_feedback"`
	Category           string         `json:"category"`
	RequiredChanges    []model.Change `json:"required_changes" schema:"enum=remove_ambiguity|more_detail|prioritize_instructions|tool_guidance|planning_guidance|output_format"`
	RevisionStrategy   string         `json:"revision_strategy"`
	EstimatedImpact    float64        `json:"estimated_impact" schema:"min=0,max=1"`
}

// RevisionOutput is returned by the feedback and general revision stages.
type RevisionOutput struct {
	RevisedDocument   string   `json:"revised_document"`
	ChangesMade       []string `json:"changes_made"`
	FeedbackAddressed []string `json:"feedback_addressed"`
	Explanation       string   `json:"explanation"`
}

// Candidate is one proposed prompt template.
type Candidate struct {
	Title     string `json:"title"`
	Text      string `json:"text"`
	Rationale string `json:"rationale,omitempty"`
}

// CandidateSet is returned by the suggestion candidates stage.
type CandidateSet struct {
	Candidates []Candidate `json:"candidates"`
}

// Ranking orders a candidate set, best first, by zero-based index.
type Ranking struct {
	Order     []int  `json:"order" schema:"min=0"`
	Rationale string `json:"rationale,omitempty"`
}

// Relevance classifies the domain of a document.
type Relevance struct {
	Domain     string  `json:"domain" schema:"enum=coding|writing|analysis|creative|customer_service|education|general"`
	Confidence float64 `json:"confidence" schema:"min=0,max=1"`
}

var (
	registryOnce sync.Once
	registry     map[Shape]*Schema
)

func shapes() map[Shape]any {
	return map[Shape]any{
		ShapeIssueReport:      model.IssueReport{},
		ShapeSafety:           SafetyReport{},
		ShapeRewrite:          RewriteOutput{},
		ShapeFeedbackAnalysis: FeedbackAnalysis{},
		ShapeRevision:         RevisionOutput{},
		ShapeCandidates:       CandidateSet{},
		ShapeRanking:          Ranking{},
		ShapeRelevance:        Relevance{},
	}
}

// For returns the registered schema of a shape. It panics on an unknown shape,
// which is a programming error.
func For(shape Shape) *Schema {
	registryOnce.Do(func() {
		registry = make(map[Shape]*Schema)
		for name, v := range shapes() {
			registry[name] = MustGenerate(string(name), v)
		}
	})
	s, ok := registry[shape]
	if !ok {
		panic(fmt.Sprintf("schema: unknown shape %q", shape))
	}
	return s
}

// All returns every registered shape name.
func All() []Shape {
	return []Shape{
		ShapeIssueReport, ShapeSafety, ShapeRewrite, ShapeFeedbackAnalysis,
		ShapeRevision, ShapeCandidates, ShapeRanking, ShapeRelevance,
	}
}
