package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errDown = errors.New("connection refused")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(t *testing.T, cfg BreakerConfig) (*Breaker, *clock) {
	t.Helper()
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(cfg)
	b.now = c.Now
	return b, c
}

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "store"})
	if b.cfg.Threshold != 5 || b.cfg.Cooldown != 30*time.Second || b.cfg.Probes != 3 {
		t.Errorf("defaults = %+v", b.cfg)
	}
	if b.State() != Closed {
		t.Errorf("initial state = %v", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(t, BreakerConfig{Threshold: 3})
	ctx := context.Background()

	for range 3 {
		if err := b.Do(ctx, fail); !errors.Is(err, errDown) {
			t.Fatalf("err = %v, want errDown", err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(t, BreakerConfig{Threshold: 3})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, ok)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes []func(context.Context) error
		want   State
	}{
		{"probes succeed", []func(context.Context) error{ok, ok}, Closed},
		{"probe fails", []func(context.Context) error{ok, fail}, Open},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, c := newTestBreaker(t, BreakerConfig{Threshold: 1, Cooldown: time.Second, Probes: 2})
			ctx := context.Background()

			_ = b.Do(ctx, fail)
			c.Advance(500 * time.Millisecond)
			if b.State() != Open {
				t.Fatalf("state before cooldown = %v", b.State())
			}
			c.Advance(500 * time.Millisecond)
			if b.State() != HalfOpen {
				t.Fatalf("state after cooldown = %v", b.State())
			}
			for _, p := range tt.probes {
				_ = b.Do(ctx, p)
			}
			if b.State() != tt.want {
				t.Errorf("state = %v, want %v", b.State(), tt.want)
			}
		})
	}
}

func TestBreaker_LimitsConcurrentProbes(t *testing.T) {
	t.Parallel()
	b, c := newTestBreaker(t, BreakerConfig{Threshold: 1, Cooldown: time.Second, Probes: 1})
	ctx := context.Background()
	_ = b.Do(ctx, fail)
	c.Advance(time.Second)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(entered)
			<-unblock
			return nil
		})
	}()
	<-entered
	if err := b.Do(ctx, ok); !errors.Is(err, ErrOpen) {
		t.Errorf("second probe err = %v, want ErrOpen", err)
	}
	close(unblock)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if b.State() != Closed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(t, BreakerConfig{Threshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	err := b.Do(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != Closed {
		t.Errorf("state = %v, want closed", b.State())
	}
	if err := b.Do(ctx, ok); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ctx: err = %v", err)
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	var got []State
	b, c := newTestBreaker(t, BreakerConfig{
		Threshold: 1,
		Cooldown:  time.Second,
		Probes:    1,
	})
	b.cfg.OnStateChange = func(_, to State) {
		got = append(got, to)
		_ = b.State()
	}
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	c.Advance(time.Second)
	_ = b.Do(ctx, ok)
	_ = b.Do(ctx, fail)
	b.Reset()

	want := []State{Open, HalfOpen, Closed, Open, Closed}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}
}
