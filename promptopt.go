// Package promptopt is the top-level entry point for the promptopt service.
//
// Use the Builder to compose an application:
//
//	app, err := promptopt.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := promptopt.NewBuilder().
//	    WithStore(myStore).
//	    WithLLM(myClient).
//	    WithGitProvider(myProvider).
//	    Build()
package promptopt

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jxucoder/promptopt/channel"
	"github.com/jxucoder/promptopt/engine"
	"github.com/jxucoder/promptopt/eventbus"
	"github.com/jxucoder/promptopt/gitprovider"
	"github.com/jxucoder/promptopt/httpapi"
	"github.com/jxucoder/promptopt/llm"
	"github.com/jxucoder/promptopt/llm/providers"
	"github.com/jxucoder/promptopt/pipeline"
	"github.com/jxucoder/promptopt/store"
)

// Config holds top-level configuration for a promptopt application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.promptopt").
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// Provider and Model select the default backend. Keys holds the API key of
	// each provider; with no usable key every stage runs on local heuristics.
	Provider llm.Provider
	Model    string
	Keys     providers.Keys

	// CallTimeout bounds every backend call (default 60s).
	CallTimeout time.Duration

	// Instructions overrides the default instructions of individual stages.
	Instructions map[pipeline.StageID]string

	// RateLimit and RateBurst limit mutating API requests. A zero RateLimit
	// disables limiting.
	RateLimit float64
	RateBurst int

	// GitHubToken enables repository sources and pull request proposals.
	GitHubToken string

	// WebhookSecret is the GitHub webhook HMAC secret.
	WebhookSecret string
}

// Builder constructs a promptopt App.
type Builder struct {
	config   Config
	store    store.RunStore
	bus      eventbus.Bus
	git      gitprovider.Provider
	llm      llm.Client
	logger   *zap.Logger
	channels []channel.Channel
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the run store implementation.
func (b *Builder) WithStore(s store.RunStore) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithGitProvider sets the git hosting provider implementation.
func (b *Builder) WithGitProvider(g gitprovider.Provider) *Builder {
	b.git = g
	return b
}

// WithLLM sets the backend client used by every stage, overriding Provider
// and Keys.
func (b *Builder) WithLLM(client llm.Client) *Builder {
	b.llm = client
	return b
}

// WithLogger sets the logger shared by all components.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithChannel adds a channel (Slack, etc.) to the application.
func (b *Builder) WithChannel(ch channel.Channel) *Builder {
	b.channels = append(b.channels, ch)
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithCallTimeout(b.config.CallTimeout),
		pipeline.WithLogger(b.logger),
	}
	for id, text := range b.config.Instructions {
		opts = append(opts, pipeline.WithInstructions(id, text))
	}

	eng := engine.New(
		engine.Config{
			Keys:          b.config.Keys,
			Provider:      b.config.Provider,
			Model:         b.config.Model,
			WebhookSecret: b.config.WebhookSecret,
		},
		pipeline.New(b.llm, opts...),
		b.store,
		b.bus,
		b.git,
		b.logger,
	)

	handler := httpapi.New(eng,
		httpapi.WithRateLimit(b.config.RateLimit, b.config.RateBurst),
		httpapi.WithLogger(b.logger),
	)

	return &App{
		config:   b.config,
		engine:   eng,
		handler:  handler,
		logger:   b.logger,
		channels: b.channels,
	}, nil
}

// App is a running promptopt application.
type App struct {
	config   Config
	engine   *engine.Engine
	handler  *httpapi.Handler
	logger   *zap.Logger
	channels []channel.Channel
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the HTTP API handler.
func (a *App) Handler() *httpapi.Handler { return a.handler }

// AddChannel registers a channel that needs the engine. Call before Start.
func (a *App) AddChannel(ch channel.Channel) {
	a.channels = append(a.channels, ch)
}

// Start starts the HTTP server and all channels. Blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.engine.Start(ctx)

	var wg sync.WaitGroup
	for _, ch := range a.channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("channel stopped", zap.String("channel", ch.Name()), zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              a.config.ServerAddr,
		Handler:           a.handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	a.logger.Info("promptopt server listening",
		zap.String("addr", a.config.ServerAddr),
		zap.Bool("backend", a.engine.BackendAvailable()),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	wg.Wait()
	return a.Close()
}

// Close waits for background runs and closes the store.
func (a *App) Close() error {
	a.engine.Stop()
	if st := a.engine.Store(); st != nil {
		return st.Close()
	}
	return nil
}
