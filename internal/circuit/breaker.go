// Package circuit provides a circuit breaker for the object-store staging
// path. When the archive bucket keeps failing, the breaker opens and callers
// fail fast instead of stacking timeouts on a dead backend.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the breaker state.
type State int

const (
	// StateClosed passes calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown expires.
	StateOpen
	// StateHalfOpen lets a single probe through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit open")

// Config controls when the breaker trips and how it recovers.
type Config struct {
	// Threshold is the number of consecutive failures that opens the
	// breaker.
	Threshold int

	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration

	// IsFailure decides whether an error counts against the threshold.
	// Left nil, every non-nil error counts.
	IsFailure func(err error) bool

	// OnStateChange is invoked after each transition, on the goroutine
	// that caused it. It must not call back into the breaker.
	OnStateChange func(from, to State)
}

// Breaker tracks consecutive failures and gates calls to a flaky backend.
type Breaker struct {
	config Config

	mu       sync.Mutex
	state    State
	failures int
	probing  bool
	reopenAt time.Time
}

// New creates a breaker. Zero config values get defaults: 5 consecutive
// failures to open, 30 seconds of cooldown.
func New(config Config) *Breaker {
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &Breaker{config: config}
}

// Do runs fn unless the breaker is open, and records the outcome. While
// open it returns ErrOpen without calling fn; in half-open state exactly
// one call at a time is let through as a probe.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

// State returns the current state, rolling an expired open period over to
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll(time.Now())
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.roll(time.Now())

	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
	}

	if err == nil || !b.isFailure(err) {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	if b.state == StateHalfOpen {
		b.transition(StateOpen)
		return
	}

	b.failures++
	if b.state == StateClosed && b.failures >= b.config.Threshold {
		b.transition(StateOpen)
	}
}

// roll moves an open breaker to half-open once the cooldown has expired.
// Callers must hold mu.
func (b *Breaker) roll(now time.Time) {
	if b.state == StateOpen && !now.Before(b.reopenAt) {
		b.transition(StateHalfOpen)
	}
}

// transition changes state and fires the callback. Callers must hold mu.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next

	switch next {
	case StateOpen:
		b.reopenAt = time.Now().Add(b.config.Cooldown)
	case StateClosed:
		b.failures = 0
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(prev, next)
	}
}

func (b *Breaker) isFailure(err error) bool {
	if b.config.IsFailure == nil {
		return true
	}
	return b.config.IsFailure(err)
}
