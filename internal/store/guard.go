package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mmende/pocketsphinx-go/internal/observe"
	"github.com/mmende/pocketsphinx-go/internal/resilience"
)

// Guard wraps a [Store] so that persistence failures never reach the
// decoding path. Writes go through a circuit breaker; failures are logged,
// counted and swallowed, and the guard reports itself degraded until a
// write succeeds again.
//
// Guard implements [Store] and is safe for concurrent use.
type Guard struct {
	store    Store
	driver   string
	breaker  *resilience.Breaker
	metrics  *observe.Metrics
	log      *slog.Logger
	timeout  time.Duration
	degraded atomic.Bool
}

var _ Store = (*Guard)(nil)

// GuardOption configures a [Guard].
type GuardOption func(*guardOptions)

type guardOptions struct {
	metrics *observe.Metrics
	log     *slog.Logger
	breaker resilience.BreakerConfig
	timeout time.Duration
}

// WithMetrics records write outcomes into m.
func WithMetrics(m *observe.Metrics) GuardOption {
	return func(o *guardOptions) { o.metrics = m }
}

func WithLogger(l *slog.Logger) GuardOption {
	return func(o *guardOptions) { o.log = l }
}

// WithBreaker overrides the breaker tuning. The name is always set by the
// guard.
func WithBreaker(cfg resilience.BreakerConfig) GuardOption {
	return func(o *guardOptions) { o.breaker = cfg }
}

// WithWriteTimeout bounds a single write. Default: 2s.
func WithWriteTimeout(d time.Duration) GuardOption {
	return func(o *guardOptions) { o.timeout = d }
}

// NewGuard wraps s. driver labels metrics and log records.
func NewGuard(s Store, driver string, opts ...GuardOption) *Guard {
	o := guardOptions{log: slog.Default(), timeout: 2 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	o.breaker.Name = "store/" + driver
	o.breaker.Logger = o.log
	return &Guard{
		store:   s,
		driver:  driver,
		breaker: resilience.NewBreaker(o.breaker),
		metrics: o.metrics,
		log:     o.log,
		timeout: o.timeout,
	}
}

// SaveUtterance writes u and always returns nil.
func (g *Guard) SaveUtterance(ctx context.Context, u Utterance) error {
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.store.SaveUtterance(ctx, u)
	})
	g.record(ctx, err)
	if err != nil {
		g.log.Warn("store: dropping utterance",
			"driver", g.driver,
			"session_id", u.SessionID,
			"err", err,
		)
	}
	return nil
}

// Utterances reads through the breaker. Unlike writes, read errors are
// returned; an open breaker yields [resilience.ErrOpen].
func (g *Guard) Utterances(ctx context.Context, sessionID uuid.UUID) ([]Utterance, error) {
	var out []Utterance
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.store.Utterances(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: utterances: %w", err)
	}
	return out, nil
}

func (g *Guard) record(ctx context.Context, err error) {
	status := "ok"
	switch {
	case errors.Is(err, resilience.ErrOpen):
		status = "rejected"
	case err != nil:
		status = "error"
	}
	g.degraded.Store(err != nil)
	if g.metrics != nil {
		g.metrics.RecordStoreWrite(ctx, g.driver, status)
	}
}

// Degraded reports whether the most recent write failed.
func (g *Guard) Degraded() bool { return g.degraded.Load() }

// Ping fails while the breaker is open, without touching the database.
func (g *Guard) Ping(ctx context.Context) error {
	if g.breaker.State() == resilience.Open {
		return fmt.Errorf("store: %s: %w", g.driver, resilience.ErrOpen)
	}
	return g.store.Ping(ctx)
}

func (g *Guard) Close() error { return g.store.Close() }
