package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jxucoder/promptopt/fallback"
	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/schema"
)

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

type examplesPayload struct {
	Document string          `json:"DOCUMENT"`
	Examples []model.Example `json:"EXAMPLES"`
}

func consistencyStage() *Definition {
	return &Definition{
		ID:           StageConsistency,
		Instructions: DefaultConsistencyInstructions,
		Schema:       schema.For(schema.ShapeIssueReport),
		Payload: func(in *Input) any {
			return examplesPayload{Document: in.Document, Examples: in.Examples}
		},
		New: func() any { return &model.IssueReport{} },
		Fallback: func(in *Input) any {
			r := fallback.Consistency(in.Document, in.Examples)
			return &r
		},
		Skip: func(in *Input) bool { return len(in.Examples) == 0 || isBlank(in.Document) },
		Reconcile: func(in *Input, out any) error {
			r := out.(*model.IssueReport)
			kept := r.ExampleIndexes[:0]
			for _, i := range r.ExampleIndexes {
				if i >= 0 && i < len(in.Examples) {
					kept = append(kept, i)
				}
			}
			r.ExampleIndexes = kept
			return nil
		},
	}
}

func safetyStage() *Definition {
	return &Definition{
		ID:           StageSafety,
		Instructions: DefaultSafetyInstructions,
		Schema:       schema.For(schema.ShapeSafety),
		Payload:      func(in *Input) any { return documentPayload{Document: in.Document} },
		New:          func() any { return &schema.SafetyReport{} },
		Fallback: func(in *Input) any {
			r := fallback.Safety(in.Document)
			return &r
		},
		Skip: func(in *Input) bool { return isBlank(in.Document) },
	}
}

type documentRewritePayload struct {
	Document      string   `json:"ORIGINAL_DOCUMENT"`
	Contradiction []string `json:"CONTRADICTION_ISSUES"`
	Format        []string `json:"FORMAT_ISSUES"`
}

func documentRewriteStage() *Definition {
	return &Definition{
		ID:           StageDocumentRewrite,
		Instructions: DefaultDocumentRewriteInstructions,
		Schema:       schema.For(schema.ShapeRewrite),
		Payload: func(in *Input) any {
			return documentRewritePayload{
				Document:      in.Document,
				Contradiction: in.Reports[StageContradiction].Issues,
				Format:        in.Reports[StageFormat].Issues,
			}
		},
		New: func() any { return &schema.RewriteOutput{} },
		Fallback: func(in *Input) any {
			r := fallback.RewriteDocument(in.Document, in.Reports[StageContradiction], in.Reports[StageFormat])
			return &r
		},
		Reconcile: func(in *Input, out any) error {
			r := out.(*schema.RewriteOutput)
			if isBlank(r.Document) {
				return errors.New("rewritten document is empty")
			}
			// Examples are never part of a document rewrite.
			r.Examples = nil
			return nil
		},
	}
}

type exampleRewritePayload struct {
	Document    string            `json:"NEW_DOCUMENT"`
	Examples    []model.Example   `json:"ORIGINAL_EXAMPLES"`
	Consistency model.IssueReport `json:"CONSISTENCY_ISSUES"`
}

func exampleRewriteStage() *Definition {
	return &Definition{
		ID:           StageExampleRewrite,
		Instructions: DefaultExampleRewriteInstructions,
		Schema:       schema.For(schema.ShapeRewrite),
		Payload: func(in *Input) any {
			return exampleRewritePayload{
				Document:    in.Document,
				Examples:    in.Examples,
				Consistency: in.Reports[StageConsistency],
			}
		},
		New: func() any { return &schema.RewriteOutput{} },
		Fallback: func(in *Input) any {
			r := fallback.RewriteExamples(in.Document, in.Examples, in.Reports[StageConsistency])
			return &r
		},
		Reconcile: func(in *Input, out any) error {
			return reconcileExamples(in, out.(*schema.RewriteOutput))
		},
	}
}

// reconcileExamples enforces the example rewrite contract on a backend reply:
// same count, same roles, and entries not implicated by the report restored
// verbatim. The document is always the input document.
func reconcileExamples(in *Input, r *schema.RewriteOutput) error {
	if len(r.Examples) != len(in.Examples) {
		return fmt.Errorf("example count changed from %d to %d", len(in.Examples), len(r.Examples))
	}
	implicated := fallback.Implicated(in.Examples, in.Reports[StageConsistency])
	out := make([]model.Example, len(in.Examples))
	for i, orig := range in.Examples {
		if r.Examples[i].Role != orig.Role {
			return fmt.Errorf("example %d changed role from %s to %s", i, orig.Role, r.Examples[i].Role)
		}
		if implicated[i] && orig.Role == model.RoleAssistant {
			out[i] = r.Examples[i]
			continue
		}
		out[i] = orig
	}
	r.Examples = out
	r.Document = in.Document
	return nil
}

type feedbackPayload struct {
	Document string `json:"DOCUMENT"`
	Feedback string `json:"FEEDBACK"`
}

func feedbackAnalysisStage() *Definition {
	return &Definition{
		ID:           StageFeedbackAnalysis,
		Instructions: DefaultFeedbackAnalysisInstructions,
		Schema:       schema.For(schema.ShapeFeedbackAnalysis),
		Payload:      func(in *Input) any { return feedbackPayload{Document: in.Document, Feedback: in.Feedback} },
		New:          func() any { return &schema.FeedbackAnalysis{} },
		Fallback: func(in *Input) any {
			r := fallback.AnalyzeFeedback(in.Feedback)
			return &r
		},
		Skip: func(in *Input) bool { return isBlank(in.Feedback) },
	}
}

type changePayload struct {
	Document string       `json:"DOCUMENT"`
	Feedback string       `json:"FEEDBACK"`
	Change   model.Change `json:"CHANGE"`
}

func feedbackRevisionStage() *Definition {
	return &Definition{
		ID:           StageFeedbackRevision,
		Instructions: DefaultFeedbackRevisionInstructions,
		Schema:       schema.For(schema.ShapeRevision),
		Payload: func(in *Input) any {
			return changePayload{Document: in.Document, Feedback: in.Feedback, Change: in.Change}
		},
		New: func() any { return &schema.RevisionOutput{} },
		Fallback: func(in *Input) any {
			r := fallback.ApplyChange(in.Document, in.Change)
			return &r
		},
		Reconcile: requireRevisedDocument,
	}
}

func generalRevisionStage() *Definition {
	return &Definition{
		ID:           StageGeneralRevision,
		Instructions: DefaultGeneralRevisionInstructions,
		Schema:       schema.For(schema.ShapeRevision),
		Payload:      func(in *Input) any { return feedbackPayload{Document: in.Document, Feedback: in.Feedback} },
		New:          func() any { return &schema.RevisionOutput{} },
		Fallback: func(in *Input) any {
			r := fallback.GeneralRevise(in.Document, in.Feedback)
			return &r
		},
		Reconcile: requireRevisedDocument,
	}
}

func requireRevisedDocument(_ *Input, out any) error {
	if isBlank(out.(*schema.RevisionOutput).RevisedDocument) {
		return errors.New("revised document is empty")
	}
	return nil
}

func relevanceStage() *Definition {
	return &Definition{
		ID:           StageRelevance,
		Instructions: DefaultRelevanceInstructions,
		Schema:       schema.For(schema.ShapeRelevance),
		Payload:      func(in *Input) any { return documentPayload{Document: in.Document} },
		New:          func() any { return &schema.Relevance{} },
		Fallback: func(in *Input) any {
			r := fallback.Relevance(in.Document)
			return &r
		},
		Skip: func(in *Input) bool { return isBlank(in.Document) },
	}
}

type candidatesPayload struct {
	Domain       string   `json:"DOMAIN"`
	TaskType     string   `json:"TASK_TYPE"`
	Requirements []string `json:"REQUIREMENTS"`
}

func candidatesStage() *Definition {
	return &Definition{
		ID:           StageCandidates,
		Instructions: DefaultCandidatesInstructions,
		Schema:       schema.For(schema.ShapeCandidates),
		Payload: func(in *Input) any {
			return candidatesPayload{Domain: in.Domain, TaskType: in.TaskType, Requirements: in.Requirements}
		},
		New: func() any { return &schema.CandidateSet{} },
		Fallback: func(in *Input) any {
			r := fallback.Candidates(in.Domain, in.TaskType, in.Requirements)
			return &r
		},
		Reconcile: func(_ *Input, out any) error {
			if len(out.(*schema.CandidateSet).Candidates) == 0 {
				return errors.New("no candidates")
			}
			return nil
		},
	}
}

type rankingPayload struct {
	Candidates   []schema.Candidate `json:"CANDIDATES"`
	TaskType     string             `json:"TASK_TYPE"`
	Requirements []string           `json:"REQUIREMENTS"`
}

func rankingStage() *Definition {
	return &Definition{
		ID:           StageRanking,
		Instructions: DefaultRankingInstructions,
		Schema:       schema.For(schema.ShapeRanking),
		Payload: func(in *Input) any {
			return rankingPayload{Candidates: in.Candidates.Candidates, TaskType: in.TaskType, Requirements: in.Requirements}
		},
		New: func() any { return &schema.Ranking{} },
		Fallback: func(in *Input) any {
			r := fallback.Rank(in.Candidates, in.TaskType, in.Requirements)
			return &r
		},
		Skip: func(in *Input) bool { return len(in.Candidates.Candidates) <= 1 },
		Reconcile: func(in *Input, out any) error {
			return checkPermutation(out.(*schema.Ranking).Order, len(in.Candidates.Candidates))
		},
	}
}

func checkPermutation(order []int, n int) error {
	if len(order) != n {
		return fmt.Errorf("ranking has %d entries for %d candidates", len(order), n)
	}
	seen := make([]bool, n)
	for _, i := range order {
		if i < 0 || i >= n || seen[i] {
			return fmt.Errorf("ranking is not a permutation: %v", order)
		}
		seen[i] = true
	}
	return nil
}
