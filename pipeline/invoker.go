package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jxucoder/promptopt/llm"
)

// Backend failure kinds. An *InvokeError matches exactly one of them with errors.Is.
var (
	// ErrUnavailable means no backend is configured. It is not a failure.
	ErrUnavailable = errors.New("backend unavailable")
	ErrTransport   = errors.New("backend transport failure")
	ErrNotJSON     = errors.New("backend response is not a JSON object")
	ErrSchema      = errors.New("backend response does not match the schema")
)

// DefaultCallTimeout bounds a single backend call.
const DefaultCallTimeout = 60 * time.Second

// InvokeError reports a failed backend call for one stage.
type InvokeError struct {
	Stage StageID
	Kind  error
	Err   error
}

func (e *InvokeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *InvokeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Invoker sends one stage to the backend and validates the reply. It never
// retries.
type Invoker struct {
	client  llm.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewInvoker creates an invoker. A nil client makes every call fail with
// ErrUnavailable; a zero timeout uses DefaultCallTimeout.
func NewInvoker(client llm.Client, timeout time.Duration, logger *zap.Logger) *Invoker {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{client: client, timeout: timeout, logger: logger}
}

// Available reports whether a backend is configured.
func (iv *Invoker) Available() bool { return iv.client != nil }

// Invoke runs def against the backend with payload and decodes the validated
// JSON object into out.
func (iv *Invoker) Invoke(ctx context.Context, def *Definition, payload any, out any) error {
	if iv.client == nil {
		return &InvokeError{Stage: def.ID, Kind: ErrUnavailable}
	}

	user, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return &InvokeError{Stage: def.ID, Kind: ErrTransport, Err: fmt.Errorf("encoding payload: %w", err)}
	}
	system := def.Instructions +
		"\n\nRespond with a single JSON object matching this JSON Schema. No other text.\n\n" +
		def.Schema.Describe()

	callCtx, cancel := context.WithTimeout(ctx, iv.timeout)
	defer cancel()

	start := time.Now()
	response, err := iv.client.Complete(callCtx, system, string(user))
	if err != nil {
		return iv.fail(def.ID, ErrTransport, err)
	}
	iv.logger.Debug("backend call", zap.String("stage", string(def.ID)), zap.Duration("elapsed", time.Since(start)))

	raw := extractJSON(response)
	if raw == "" || !json.Valid([]byte(raw)) {
		return iv.fail(def.ID, ErrNotJSON, nil)
	}
	if err := def.Schema.Validate([]byte(raw)); err != nil {
		return iv.fail(def.ID, ErrSchema, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return iv.fail(def.ID, ErrSchema, err)
	}
	return nil
}

func (iv *Invoker) fail(stage StageID, kind, err error) error {
	ie := &InvokeError{Stage: stage, Kind: kind, Err: err}
	iv.logger.Warn("backend call failed",
		zap.String("stage", string(stage)),
		zap.String("kind", kind.Error()),
		zap.Error(err),
	)
	return ie
}

// extractJSON returns the first balanced JSON object in a model response,
// ignoring markdown fences and surrounding prose. It returns "" when none is
// found.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
