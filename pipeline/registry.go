// Package pipeline holds the stage registry and the backend invoker. Every
// stage is a Definition: instructions, a result schema, a payload builder and a
// local fallback. A stage call tries the backend once and substitutes the
// fallback on any failure.
package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jxucoder/promptopt/fallback"
	"github.com/jxucoder/promptopt/llm"
	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/schema"
)

// StageID names a registered stage.
type StageID string

// Analyzer stages.
const (
	StageContradiction        StageID = fallback.CategoryContradiction
	StageFormat               StageID = fallback.CategoryFormat
	StageClarity              StageID = fallback.CategoryClarity
	StageSpecificity          StageID = fallback.CategorySpecificity
	StageInstructionFollowing StageID = fallback.CategoryInstructionFollowing
	StageAgentic              StageID = fallback.CategoryAgentic
	StageConsistency          StageID = fallback.CategoryConsistency
	StageSafety               StageID = fallback.CategorySafety
)

// Rewrite, feedback and suggestion stages.
const (
	StageDocumentRewrite  StageID = "document_rewrite"
	StageExampleRewrite   StageID = "example_rewrite"
	StageFeedbackAnalysis StageID = "feedback_analysis"
	StageFeedbackRevision StageID = "feedback_revision"
	StageGeneralRevision  StageID = "general_revision"
	StageRelevance        StageID = "relevance"
	StageCandidates       StageID = "candidates"
	StageRanking          StageID = "ranking"
)

// Analyzers is the fixed analyzer roster, in report order.
var Analyzers = []StageID{
	StageContradiction,
	StageFormat,
	StageClarity,
	StageSpecificity,
	StageInstructionFollowing,
	StageAgentic,
	StageConsistency,
	StageSafety,
}

// IsAnalyzer reports whether id is on the analyzer roster.
func IsAnalyzer(id StageID) bool {
	for _, a := range Analyzers {
		if a == id {
			return true
		}
	}
	return false
}

// Input carries everything a stage may read. Stages receive their own copy
// and never modify it.
type Input struct {
	Document string
	Examples []model.Example
	Reports  map[StageID]model.IssueReport
	Feedback string
	Change   model.Change

	Domain       string
	TaskType     string
	Requirements []string
	Candidates   schema.CandidateSet
}

// Definition is the fixed contract of one stage.
type Definition struct {
	ID           StageID
	Instructions string
	Schema       *schema.Schema

	// Payload builds the user message sent to the backend.
	Payload func(in *Input) any
	// New returns a pointer to a zero result for decoding a backend reply.
	New func() any
	// Fallback computes the result locally. It returns the same pointer type as New.
	Fallback func(in *Input) any
	// Skip, when set and true, short-circuits to Fallback without a backend call.
	Skip func(in *Input) bool
	// Reconcile checks a decoded backend result against the input and may
	// repair it. An error is treated as a schema failure.
	Reconcile func(in *Input, out any) error
}

type options struct {
	instructions map[StageID]string
	timeout      time.Duration
	logger       *zap.Logger
}

// Option configures a Pipeline.
type Option func(*options)

// WithInstructions overrides the default instructions of one stage.
func WithInstructions(id StageID, text string) Option {
	return func(o *options) { o.instructions[id] = text }
}

// WithCallTimeout sets the per-call backend timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger used for backend failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Pipeline is the stage registry bound to one backend client.
type Pipeline struct {
	stages  map[StageID]*Definition
	invoker *Invoker
	timeout time.Duration
	logger  *zap.Logger
}

// New builds the registry. A nil client routes every stage to its fallback.
func New(client llm.Client, opts ...Option) *Pipeline {
	o := &options{instructions: map[StageID]string{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	stages := definitions()
	for id, text := range o.instructions {
		if def, ok := stages[id]; ok && text != "" {
			def.Instructions = text
		}
	}
	return &Pipeline{
		stages:  stages,
		invoker: NewInvoker(client, o.timeout, o.logger),
		timeout: o.timeout,
		logger:  o.logger,
	}
}

// WithClient returns a pipeline sharing this registry but calling client.
func (p *Pipeline) WithClient(client llm.Client) *Pipeline {
	return &Pipeline{
		stages:  p.stages,
		invoker: NewInvoker(client, p.timeout, p.logger),
		timeout: p.timeout,
		logger:  p.logger,
	}
}

// Available reports whether the pipeline has a backend.
func (p *Pipeline) Available() bool { return p.invoker.Available() }

// Stage returns the definition of a stage.
func (p *Pipeline) Stage(id StageID) (*Definition, bool) {
	def, ok := p.stages[id]
	return def, ok
}

func (p *Pipeline) mustStage(id StageID) *Definition {
	def, ok := p.stages[id]
	if !ok {
		panic(fmt.Sprintf("pipeline: unknown stage %q", id))
	}
	return def
}

func definitions() map[StageID]*Definition {
	defs := []*Definition{
		analyzer(StageContradiction, DefaultContradictionInstructions, func(in *Input) model.IssueReport {
			return fallback.Contradiction(in.Document)
		}),
		analyzer(StageFormat, DefaultFormatInstructions, func(in *Input) model.IssueReport {
			return fallback.Format(in.Document)
		}),
		analyzer(StageClarity, DefaultClarityInstructions, func(in *Input) model.IssueReport {
			return fallback.Clarity(in.Document)
		}),
		analyzer(StageSpecificity, DefaultSpecificityInstructions, func(in *Input) model.IssueReport {
			return fallback.Specificity(in.Document)
		}),
		analyzer(StageInstructionFollowing, DefaultInstructionFollowingInstructions, func(in *Input) model.IssueReport {
			return fallback.InstructionFollowing(in.Document)
		}),
		analyzer(StageAgentic, DefaultAgenticInstructions, func(in *Input) model.IssueReport {
			return fallback.Agentic(in.Document)
		}),
		consistencyStage(),
		safetyStage(),
		documentRewriteStage(),
		exampleRewriteStage(),
		feedbackAnalysisStage(),
		feedbackRevisionStage(),
		generalRevisionStage(),
		relevanceStage(),
		candidatesStage(),
		rankingStage(),
	}
	out := make(map[StageID]*Definition, len(defs))
	for _, d := range defs {
		out[d.ID] = d
	}
	return out
}

type documentPayload struct {
	Document string `json:"DOCUMENT"`
}

func analyzer(id StageID, instructions string, fb func(*Input) model.IssueReport) *Definition {
	return &Definition{
		ID:           id,
		Instructions: instructions,
		Schema:       schema.For(schema.ShapeIssueReport),
		Payload:      func(in *Input) any { return documentPayload{Document: in.Document} },
		New:          func() any { return &model.IssueReport{} },
		Fallback: func(in *Input) any {
			r := fb(in)
			return &r
		},
		Skip: func(in *Input) bool { return isBlank(in.Document) },
	}
}
