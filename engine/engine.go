// Package engine provides the pipeline orchestration logic for promptopt.
// It depends only on interfaces (store, eventbus, gitprovider, llm) and the
// stage registry in package pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jxucoder/promptopt/eventbus"
	"github.com/jxucoder/promptopt/gitprovider"
	"github.com/jxucoder/promptopt/llm"
	"github.com/jxucoder/promptopt/llm/providers"
	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/pipeline"
	"github.com/jxucoder/promptopt/store"
)

var (
	// ErrInputEmpty is returned when the document is blank. No run is created.
	ErrInputEmpty = errors.New("document is empty")
	// ErrNotFound is returned when a run does not exist.
	ErrNotFound = store.ErrNotFound
	// ErrNoGitProvider is returned by repository operations when no provider is configured.
	ErrNoGitProvider = errors.New("no git provider configured")
	// ErrInternal marks a run the orchestrator could not assemble.
	ErrInternal = errors.New("internal pipeline error")
	// ErrUnknownStage is returned when an analyzer subset names a stage not on the roster.
	ErrUnknownStage = errors.New("unknown analyzer")
)

// Config holds engine-specific configuration.
type Config struct {
	// Keys and Provider select a backend for requests that override the model
	// or provider without bringing their own credential.
	Keys     providers.Keys
	Provider llm.Provider
	Model    string

	WebhookSecret string
	// BranchPrefix prefixes branches created for pull request proposals.
	BranchPrefix string
}

// Backend selects the text-generation backend of a single request. Zero
// values use the engine's configured client.
type Backend struct {
	Credential string       `json:"credential,omitempty"`
	Provider   llm.Provider `json:"provider,omitempty"`
	Model      string       `json:"model,omitempty"`
}

// Engine orchestrates promptopt pipeline runs.
type Engine struct {
	config   Config
	pipeline *pipeline.Pipeline
	store    store.RunStore
	bus      eventbus.Bus
	git      gitprovider.Provider
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Engine. st and git may be nil: runs are then not recorded
// and repository operations return ErrNoGitProvider. A nil bus is replaced by
// an in-memory bus.
func New(
	cfg Config,
	pl *pipeline.Pipeline,
	st store.RunStore,
	bus eventbus.Bus,
	git gitprovider.Provider,
	logger *zap.Logger,
) *Engine {
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "promptopt/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pl == nil {
		pl = pipeline.New(nil, pipeline.WithLogger(logger))
	}
	if bus == nil {
		bus = eventbus.NewInMemoryBus()
	}
	return &Engine{
		config:   cfg,
		pipeline: pl,
		store:    st,
		bus:      bus,
		git:      git,
		logger:   logger,
	}
}

// Start sets the context asynchronous runs execute under. Call Stop to shut down.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight runs and waits for them to finish. Cancelled runs
// still complete through the local fallbacks.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Store returns the run store.
func (e *Engine) Store() store.RunStore { return e.store }

// Bus returns the event bus.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// WebhookSecret returns the configured webhook secret.
func (e *Engine) WebhookSecret() string { return e.config.WebhookSecret }

// BackendAvailable reports whether the default pipeline has a backend.
func (e *Engine) BackendAvailable() bool { return e.pipeline.Available() }

func (e *Engine) baseContext() context.Context {
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

func (e *Engine) goAsync(fn func(ctx context.Context)) {
	ctx := e.baseContext()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(ctx)
	}()
}

// pipelineFor returns the pipeline a request runs on and a note when the
// requested backend could not be built. Such requests run on the local
// fallbacks.
func (e *Engine) pipelineFor(ctx context.Context, b Backend) (*pipeline.Pipeline, string, string) {
	modelID := b.Model
	if modelID == "" {
		modelID = e.config.Model
	}
	if b.Credential == "" && b.Model == "" && b.Provider == "" {
		return e.pipeline, modelID, ""
	}

	var (
		client llm.Client
		err    error
	)
	if b.Credential != "" {
		p := b.Provider
		if p == "" || p == llm.ProviderAuto {
			p = providerForKey(b.Credential)
		}
		client, err = providers.New(ctx, p, b.Credential, modelID)
	} else {
		p := b.Provider
		if p == "" {
			p = e.config.Provider
		}
		client, _, err = providers.FromKeys(ctx, e.config.Keys, p, modelID)
	}
	if err != nil {
		e.logger.Warn("backend unavailable for request", zap.String("provider", string(b.Provider)), zap.Error(err))
		return e.pipeline.WithClient(nil), modelID, fmt.Sprintf("Backend unavailable (%v), using local heuristics", err)
	}
	return e.pipeline.WithClient(client), modelID, ""
}

// providerForKey guesses the provider of a bare API key from its prefix.
func providerForKey(key string) llm.Provider {
	switch {
	case strings.HasPrefix(key, "sk-ant-"):
		return llm.ProviderAnthropic
	case strings.HasPrefix(key, "AIza"):
		return llm.ProviderGemini
	default:
		return llm.ProviderOpenAI
	}
}

func (e *Engine) newRun(kind model.Kind, modelID, source string) *model.Run {
	now := time.Now().UTC()
	return &model.Run{
		ID:        uuid.New().String()[:8],
		Kind:      kind,
		Status:    model.StatusIdle,
		Model:     modelID,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (e *Engine) createRun(run *model.Run) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.CreateRun(run); err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

func (e *Engine) saveRun(run *model.Run) {
	run.UpdatedAt = time.Now().UTC()
	if e.store == nil {
		return
	}
	if err := e.store.UpdateRun(run); err != nil {
		e.logger.Warn("updating run", zap.String("run", run.ID), zap.Error(err))
	}
}

func (e *Engine) setStatus(run *model.Run, status model.Status, msg string) {
	run.Status = status
	e.saveRun(run)
	e.emitEvent(run, model.EventStatus, msg)
}

// noteOutcome records a backend failure on the progress channel. A missing
// backend is not a failure and is reported once per run instead.
func (e *Engine) noteOutcome(run *model.Run, oc pipeline.Outcome) {
	if !oc.Failed() {
		return
	}
	e.emitEvent(run, model.EventFallback, fmt.Sprintf("%s: backend call failed, used local heuristic: %v", oc.Stage, oc.Err))
}

func (e *Engine) completeRun(run *model.Run, summary string) {
	run.Status = model.StatusDone
	e.saveRun(run)
	e.emitEvent(run, model.EventDone, summary)
}

func (e *Engine) failRun(run *model.Run, errMsg string) {
	e.logger.Error("run failed", zap.String("run", run.ID), zap.String("error", errMsg))
	run.Status = model.StatusFailed
	run.Error = errMsg
	e.saveRun(run)
	e.emitEvent(run, model.EventError, errMsg)
}

func (e *Engine) emitEvent(run *model.Run, eventType, data string) {
	event := &model.Event{
		RunID:     run.ID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if e.store != nil {
		if err := e.store.AddEvent(event); err != nil {
			e.logger.Warn("storing event", zap.String("run", run.ID), zap.Error(err))
		}
	}
	if event.ID == 0 {
		event.ID = int64(len(run.Progress) + 1)
	}
	run.Progress = append(run.Progress, event)
	e.bus.Publish(run.ID, event)
}

// guard converts a panic inside a run into the Failed terminal state.
func (e *Engine) guard(run *model.Run, err *error) {
	r := recover()
	if r == nil {
		return
	}
	e.failRun(run, fmt.Sprintf("internal error: %v", r))
	*err = fmt.Errorf("%w: %v", ErrInternal, r)
}

// GetRun returns a stored run with its full progress log.
func (e *Engine) GetRun(id string) (*model.Run, error) {
	if e.store == nil {
		return nil, ErrNotFound
	}
	run, err := e.store.GetRun(id)
	if err != nil {
		return nil, err
	}
	events, err := e.store.GetEvents(id, 0)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	run.Progress = events
	return run, nil
}

// ListRuns returns recent runs, newest first, without their progress logs.
func (e *Engine) ListRuns(limit int) ([]*model.Run, error) {
	if e.store == nil {
		return []*model.Run{}, nil
	}
	return e.store.ListRuns(limit)
}

// Events returns a run's progress events after afterID.
func (e *Engine) Events(runID string, afterID int64) ([]*model.Event, error) {
	if e.store == nil {
		return nil, ErrNotFound
	}
	if _, err := e.store.GetRun(runID); err != nil {
		return nil, err
	}
	return e.store.GetEvents(runID, afterID)
}
