// Package retry decides whether a failed dispatch may be retried, how long to
// wait before the next attempt and when repeated credential redirects have
// turned into a loop.
package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/streamchat/core"
)

// Config holds the retry policy.
type Config struct {
	// BaseDelay is the first backoff delay; attempt n waits BaseDelay * 2^n.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff delay.
	MaxDelay time.Duration
	// MaxAttempts is the number of transport retries before ErrServerUnreachable.
	MaxAttempts int
	// AuthLoopWindow is the window within which redirects count towards a loop.
	AuthLoopWindow time.Duration
	// MaxAuthRedirects is the redirect count that is fatal inside the window.
	MaxAuthRedirects int
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		BaseDelay:        time.Second,
		MaxDelay:         8 * time.Second,
		MaxAttempts:      3,
		AuthLoopWindow:   5 * time.Second,
		MaxAuthRedirects: 3,
	}
}

// State is the retry bookkeeping carried across attempts.
type State struct {
	Attempt         int
	WindowStartedAt time.Time
}

// Decision is the outcome of ShouldRetry.
type Decision struct {
	// Retry reports that the same request may be sent again after Delay.
	Retry bool
	// Redirect reports that a re-authentication redirect should be issued.
	Redirect bool
	Delay    time.Duration
	// Err is the error to surface when neither Retry nor Redirect is set.
	Err error
	// Next is the state to carry into the next attempt.
	Next State
}

// Backoff returns the delay before retry number attempt (zero based).
func (c Config) Backoff(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// ShouldRetry classifies err against state at time now. It has no side effects.
func (c Config) ShouldRetry(err error, state State, now time.Time) Decision {
	switch {
	case err == nil:
		return Decision{Next: State{}}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !core.IsRetryable(err):
		return Decision{Err: err, Next: state}
	case core.IsAuth(err):
		if c.authLoop(state, now) {
			return Decision{Err: &core.AuthLoopError{Attempts: state.Attempt}, Next: state}
		}
		next := State{Attempt: state.Attempt + 1, WindowStartedAt: state.WindowStartedAt}
		if state.WindowStartedAt.IsZero() || now.Sub(state.WindowStartedAt) >= c.AuthLoopWindow {
			next = State{Attempt: 1, WindowStartedAt: now}
		}
		return Decision{Redirect: true, Err: err, Next: next}
	case core.IsRetryable(err):
		if state.Attempt >= c.MaxAttempts {
			return Decision{Err: core.ErrServerUnreachable, Next: state}
		}
		return Decision{Retry: true, Delay: c.Backoff(state.Attempt), Next: State{Attempt: state.Attempt + 1}}
	default:
		return Decision{Err: err, Next: state}
	}
}

// authLoop reports whether another redirect issued at now would be a loop.
// Once the window lapsed a redirect is allowed again regardless of count.
func (c Config) authLoop(state State, now time.Time) bool {
	if state.WindowStartedAt.IsZero() {
		return false
	}
	return now.Sub(state.WindowStartedAt) < c.AuthLoopWindow && state.Attempt >= c.MaxAuthRedirects
}

// Guard owns the process-wide redirect state and runs transport retries.
// It is safe for concurrent use.
type Guard struct {
	cfg   Config
	mu    sync.Mutex
	auth  State
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Options configures a Guard.
type Options struct {
	Config Config
	// Now overrides the clock.
	Now func() time.Time
	// Sleep overrides the backoff timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Initial seeds the redirect state.
	Initial State
}

// NewGuard creates a Guard.
func NewGuard(optFns ...func(o *Options)) *Guard {
	opts := Options{Config: DefaultConfig(), Now: time.Now, Sleep: sleepContext}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Guard{cfg: opts.Config, auth: opts.Initial, now: opts.Now, sleep: opts.Sleep}
}

// Config returns the guard's policy.
func (g *Guard) Config() Config { return g.cfg }

// State returns a copy of the current redirect state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.auth
}

// CheckAuth refuses an attempt locally when the redirect cap is already
// exhausted inside the loop window.
func (g *Guard) CheckAuth() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.authLoop(g.auth, g.now()) {
		return &core.AuthLoopError{Attempts: g.auth.Attempt}
	}
	return nil
}

// RecordAuthFailure registers a rejected credential. It returns the error to
// surface: the AuthError itself when a redirect should be issued, or an
// AuthLoopError when the cap is exceeded.
func (g *Guard) RecordAuthFailure(err error) (redirect bool, out error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.cfg.ShouldRetry(err, g.auth, g.now())
	g.auth = d.Next
	return d.Redirect, d.Err
}

// Reset clears the redirect state after a fully successful exchange.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.auth = State{}
}

// Do runs fn until it succeeds, fails with a non-retryable error or the
// transport retries are exhausted. The attempt number passed to fn is zero
// based. Auth failures are returned as-is for the caller to record.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var state State
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx, state.Attempt)
		if err == nil || core.IsAuth(err) {
			return err
		}
		d := g.cfg.ShouldRetry(err, state, g.now())
		if !d.Retry {
			return d.Err
		}
		if serr := g.sleep(ctx, d.Delay); serr != nil {
			return serr
		}
		state = d.Next
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
