// Package resilience guards calls to external dependencies with a circuit
// breaker. The transcript store wraps every database write in a [Breaker]
// so a dead database degrades the server instead of stalling decoding.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls with [ErrOpen] until the cooldown has passed.
	Open

	// HalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker, a single failure opens it again.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take their defaults.
type BreakerConfig struct {
	// Name labels log records.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close
	// the breaker, and the cap on concurrent probes. Default: 3.
	Probes int

	Logger *slog.Logger

	// OnStateChange, if set, is called after every transition. It runs
	// outside the breaker's lock.
	OnStateChange func(from, to State)
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	log *slog.Logger
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probing   int
	successes int
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{cfg: cfg, log: log.With("breaker", cfg.Name), now: time.Now}
}

// Do calls fn unless the breaker is open. Errors from fn count as failures,
// except cancellation of ctx, which says nothing about the dependency.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.release(probe)
		return err
	}
	b.finish(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var changed func()
	defer func() {
		b.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrOpen
		}
		changed = b.transition(HalfOpen)
	}
	if b.state == HalfOpen {
		if b.probing >= b.cfg.Probes {
			return false, ErrOpen
		}
		b.probing++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	b.probing--
	b.mu.Unlock()
}

func (b *Breaker) finish(probe bool, err error) {
	b.mu.Lock()
	var changed func()
	switch {
	case probe && b.state == HalfOpen:
		b.probing--
		if err != nil {
			changed = b.trip()
			break
		}
		b.successes++
		if b.successes >= b.cfg.Probes {
			changed = b.transition(Closed)
		}
	case err != nil && b.state == Closed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			changed = b.trip()
		}
	case err == nil && b.state == Closed:
		b.failures = 0
	}
	b.mu.Unlock()
	if changed != nil {
		changed()
	}
}

// trip opens the breaker. b.mu must be held.
func (b *Breaker) trip() func() {
	b.openedAt = b.now()
	b.log.Warn("resilience: circuit opened", "failures", b.failures)
	return b.transition(Open)
}

// transition moves to state to and resets the per-state counters. It
// returns the notification to run once b.mu is released. b.mu must be held.
func (b *Breaker) transition(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.failures, b.probing, b.successes = 0, 0, 0
	b.log.Info("resilience: state changed", "from", from, "to", to)
	if b.cfg.OnStateChange == nil {
		return nil
	}
	return func() { b.cfg.OnStateChange(from, to) }
}

// State returns the current state. An open breaker whose cooldown has
// passed reports HalfOpen; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	changed := b.transition(Closed)
	b.failures = 0
	b.mu.Unlock()
	if changed != nil {
		changed()
	}
}
