// Package httpapi provides the HTTP API handler for promptopt.
// It delegates all business logic to the engine.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jxucoder/promptopt/engine"
	ghWebhook "github.com/jxucoder/promptopt/gitprovider/github"
	"github.com/jxucoder/promptopt/model"
)

// Input limits, in characters.
const (
	MaxDocumentChars = 50000
	MaxFeedbackChars = 10000
	maxBodyBytes     = 1 << 20
)

// Handler provides the HTTP API for promptopt.
type Handler struct {
	engine  *engine.Engine
	router  chi.Router
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithRateLimit limits mutating requests to r per second with the given burst.
// A non-positive r disables limiting.
func WithRateLimit(r float64, burst int) Option {
	return func(h *Handler) {
		if r <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithLogger sets the handler's logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates a new HTTP API handler.
func New(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{engine: eng, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.With(h.rateLimit).Post("/runs", h.handleCreateRun)
			r.With(h.rateLimit).Post("/revisions", h.handleCreateRevision)
			r.Get("/runs", h.handleListRuns)
			r.Get("/runs/{id}", h.handleGetRun)
			r.With(h.rateLimit).Post("/runs/{id}/pr", h.handleCreatePR)
		})
		// Synchronous pipeline calls may take several backend round trips.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(3 * time.Minute))
			r.Use(h.rateLimit)
			r.Post("/analyze", h.handleAnalyze)
			r.Post("/suggestions", h.handleSuggest)
		})
		r.Get("/runs/{id}/events", h.handleRunEvents)
	})

	r.Post("/api/webhooks/github", h.handleGitHubWebhook)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Request/Response types ---

type createRunResponse struct {
	ID     string       `json:"id"`
	Kind   model.Kind   `json:"kind"`
	Status model.Status `json:"status"`
}

type analyzeResponse struct {
	Reports     []model.IssueReport `json:"reports"`
	TotalIssues int                 `json:"total_issues"`
}

type createPRResponse struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req engine.RunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := checkDocument(req.Document, req.Source); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	for i, ex := range req.Examples {
		if ex.Role != model.RoleUser && ex.Role != model.RoleAssistant {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("examples[%d]: role must be 'user' or 'assistant'", i))
			return
		}
	}

	run, err := h.engine.StartRun(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, "create run", err)
		return
	}
	writeJSON(w, http.StatusAccepted, createRunResponse{ID: run.ID, Kind: run.Kind, Status: run.Status})
}

func (h *Handler) handleCreateRevision(w http.ResponseWriter, r *http.Request) {
	var req engine.ReviseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := checkDocument(req.Document, req.Source); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if len([]rune(req.Feedback)) > MaxFeedbackChars {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("feedback exceeds %d characters", MaxFeedbackChars))
		return
	}

	run, err := h.engine.StartRevision(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, "create revision", err)
		return
	}
	writeJSON(w, http.StatusAccepted, createRunResponse{ID: run.ID, Kind: run.Kind, Status: run.Status})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := h.engine.ListRuns(limit)
	if err != nil {
		h.writeEngineError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.GetRun(chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.engine.GetRun(id)
	if err != nil {
		h.writeEngineError(w, "run events", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before replaying so no event falls between the two.
	ch := h.engine.Bus().Subscribe(id)
	defer h.engine.Bus().Unsubscribe(id, ch)

	events, err := h.engine.Events(id, 0)
	if err != nil {
		h.logger.Warn("loading events", zap.String("run", id), zap.Error(err))
		events = run.Progress
	}
	var (
		lastID   int64
		lastType string
	)
	for _, e := range events {
		h.writeSSE(w, e)
		lastID, lastType = e.ID, e.Type
	}
	flusher.Flush()
	// The run may have finished between GetRun and the replay.
	if run.Status.Terminal() || lastType == model.EventDone || lastType == model.EventError {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.ID <= lastID {
				continue
			}
			h.writeSSE(w, event)
			flusher.Flush()
			if event.Type == model.EventDone || event.Type == model.EventError {
				return
			}
		}
	}
}

func (h *Handler) handleCreatePR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var opts engine.PROptions
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prURL, prNumber, err := h.engine.CreatePR(r.Context(), id, opts)
	if err != nil {
		h.writeEngineError(w, "create PR", err)
		return
	}
	writeJSON(w, http.StatusCreated, createPRResponse{URL: prURL, Number: prNumber})
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req engine.AnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len([]rune(req.Document)) > MaxDocumentChars {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("document exceeds %d characters", MaxDocumentChars))
		return
	}
	reports, err := h.engine.Analyze(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, "analyze", err)
		return
	}
	total := 0
	for _, rep := range reports {
		total += len(rep.Issues)
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Reports: reports, TotalIssues: total})
}

func (h *Handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req engine.SuggestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len([]rune(req.Document)) > MaxDocumentChars {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("document exceeds %d characters", MaxDocumentChars))
		return
	}
	s, err := h.engine.Suggest(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, "suggest", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)

	event, err := ghWebhook.ParseWebhook(r, h.engine.WebhookSecret())
	if err != nil {
		h.logger.Warn("webhook parse error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid webhook")
		return
	}

	if event == nil {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
		return
	}

	h.logger.Info("revision requested from PR comment",
		zap.String("repo", event.Repo),
		zap.Int("pr", event.PRNumber),
		zap.String("user", event.User),
	)
	h.engine.StartPRComment(event.Repo, event.PRNumber, event.Feedback)
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("accepted"))
}

// --- Helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func checkDocument(doc, source string) string {
	if strings.TrimSpace(doc) == "" && strings.TrimSpace(source) == "" {
		return "document is required"
	}
	if len([]rune(doc)) > MaxDocumentChars {
		return fmt.Sprintf("document exceeds %d characters", MaxDocumentChars)
	}
	return ""
}

func (h *Handler) writeEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, engine.ErrInputEmpty), errors.Is(err, engine.ErrUnknownStage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, engine.ErrNoGitProvider):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, engine.ErrInternal):
		h.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Handler) writeSSE(w http.ResponseWriter, event *model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("writeSSE marshal error", zap.Error(err))
		return
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, string(data)); err != nil {
		h.logger.Debug("writeSSE write error", zap.Error(err))
	}
}
