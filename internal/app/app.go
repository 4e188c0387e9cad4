// Package app wires the recognition server's subsystems together.
//
// New opens the engine model, the transcript store and the session
// manager; Shutdown tears them down in reverse order. Tests inject doubles
// with the With* options; anything not injected is created from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mmende/pocketsphinx-go/internal/config"
	"github.com/mmende/pocketsphinx-go/internal/health"
	"github.com/mmende/pocketsphinx-go/internal/observe"
	"github.com/mmende/pocketsphinx-go/internal/store"
	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/params"
)

// App owns the lifetimes of the server's subsystems.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	log      *slog.Logger
	metrics  *observe.Metrics

	params   *params.Params
	engine   engine.Factory
	store    store.Store
	sessions *SessionManager

	// closers run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
	stopErr  error
}

// Option configures New. Use these to inject test doubles.
type Option func(*App)

// WithEngineFactory uses f instead of opening the configured engine.
func WithEngineFactory(f engine.Factory) Option {
	return func(a *App) { a.engine = f }
}

// WithStore uses s instead of opening the configured store. s is used as
// is, without a guard, and is not closed by Shutdown.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// New creates an App from cfg. Engines and classifiers are looked up in
// reg.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, registry: reg, log: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Decoder parameters ───────────────────────────────────────────
	p, err := cfg.Engine.DecoderParams()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.params = p

	// ── 2. Engine ───────────────────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		return nil, err
	}

	// ── 3. Transcript store ─────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		_ = a.Shutdown(ctx)
		return nil, err
	}

	// ── 4. Sessions ─────────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Engine:      a.engine,
		Params:      a.params,
		Searches:    cfg.Engine.Searches,
		Endpointer:  cfg.Endpointer,
		Registry:    reg,
		Store:       a.store,
		Metrics:     a.metrics,
		MaxSessions: cfg.Server.MaxSessions,
		Logger:      a.log,
	})
	return a, nil
}

func (a *App) initEngine() error {
	if a.engine != nil {
		return nil
	}
	factory, release, err := a.registry.OpenEngine(a.cfg.Engine)
	if err != nil {
		return fmt.Errorf("app: open engine %q: %w", a.cfg.Engine.Name, err)
	}
	a.engine = factory
	if release != nil {
		a.closers = append(a.closers, release)
	}
	a.log.Info("app: engine ready", "engine", a.cfg.Engine.Name, "model", a.cfg.Engine.Model)
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil || a.cfg.Store.Driver == "" {
		return nil
	}
	driver := string(a.cfg.Store.Driver)
	s, err := store.Open(ctx, driver, a.cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("app: open store: %w", err)
	}
	g := store.NewGuard(s, driver, store.WithMetrics(a.metrics), store.WithLogger(a.log))
	a.store = g
	a.closers = append(a.closers, g.Close)
	a.log.Info("app: transcript store ready", "driver", driver)
	return nil
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Store returns the transcript store, or nil when persistence is disabled.
func (a *App) Store() store.Store { return a.store }

// Params returns a copy of the decoder parameters.
func (a *App) Params() *params.Params { return a.params.Clone() }

// HealthChecks returns the readiness checks of the subsystems.
func (a *App) HealthChecks() []health.Option {
	checks := []health.Option{
		health.WithCheck("engine", func(context.Context) error {
			eng, err := a.engine(a.params.Clone())
			if err != nil {
				return err
			}
			return eng.Release()
		}),
		health.WithCheck("sessions", func(context.Context) error {
			if limit := a.cfg.Server.MaxSessions; limit > 0 && a.sessions.Count() >= limit {
				return ErrCapacity
			}
			return nil
		}),
	}
	if a.store != nil {
		checks = append(checks, health.WithCheck("store", a.store.Ping))
	}
	return checks
}

// Apply takes over the hot-reloadable parts of a changed configuration.
// Changes that need a restart are logged and otherwise ignored.
func (a *App) Apply(cfg *config.Config, diff config.ConfigDiff) {
	if diff.EndpointerChanged {
		a.sessions.SetEndpointer(cfg.Endpointer)
		a.log.Info("app: endpointer settings reloaded", "mode", cfg.Endpointer.Mode, "window", cfg.Endpointer.Window)
	}
	if len(diff.RestartRequired) > 0 {
		a.log.Warn("app: configuration changes need a restart", "sections", diff.RestartRequired)
	}
}

// Shutdown closes all sessions, then the subsystems. It is safe to call
// more than once.
func (a *App) Shutdown(_ context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		if a.sessions != nil {
			errs = append(errs, a.sessions.CloseAll())
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			errs = append(errs, a.closers[i]())
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
