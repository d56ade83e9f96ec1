// Package breaker implements a three-state circuit breaker used to guard the
// shared audit-store connection. After repeated connect failures the breaker
// opens and rejects calls immediately, giving the backend time to recover
// instead of letting every request pile onto a failing dependency.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State identifies the breaker's position in its state machine.
type State int

const (
	// StateClosed is the healthy state: operations run normally.
	StateClosed State = iota
	// StateOpen rejects all operations without invoking them.
	StateOpen
	// StateHalfOpen probes the dependency after the reset timeout.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker rejects an operation without
// attempting it. Callers can distinguish "backend presumed down" from real
// operation errors with errors.Is.
var ErrOpen = errors.New("circuit breaker is open")

const (
	// DefaultFailureThreshold is the consecutive-weighted failure count that
	// opens the breaker.
	DefaultFailureThreshold = 5
	// DefaultResetTimeout is how long the breaker stays open before probing.
	DefaultResetTimeout = 60 * time.Second

	// halfOpenSuccesses is the number of consecutive probe successes
	// required to close the breaker again.
	halfOpenSuccesses = 2
)

// Breaker wraps a fallible operation with failure counting, cool-down and
// probationary recovery. Safe for concurrent use; one instance guards one
// protected resource.
type Breaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time

	now func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold overrides the failure count that opens the breaker.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithResetTimeout overrides the open-state cool-down.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a closed breaker for the named resource.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: DefaultFailureThreshold,
		resetTimeout:     DefaultResetTimeout,
		state:            StateClosed,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs op through the breaker. While open it returns an error
// wrapping ErrOpen without invoking op; once the reset timeout has elapsed
// the breaker moves to half-open before invoking. Real operation errors are
// recorded against the failure count and returned untouched so upstream
// retry logic sees the original error.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.preflight(); err != nil {
		return err
	}

	err := op(ctx)
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// preflight checks the state and performs the OPEN -> HALF_OPEN transition
// when the cool-down has elapsed.
func (b *Breaker) preflight() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.lastFailureTime) < b.resetTimeout {
		return fmt.Errorf("%s: %w (failures: %d)", b.name, ErrOpen, b.failureCount)
	}

	b.state = StateHalfOpen
	b.successCount = 0
	slog.Info("Circuit breaker probing", "resource", b.name, "state", b.state.String())
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= halfOpenSuccesses {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			slog.Info("Circuit breaker closed", "resource", b.name)
		}
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = b.now()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.successCount = 0
		slog.Error("Circuit breaker reopened after failed probe", "resource", b.name)
		return
	}

	b.failureCount++
	if b.state == StateClosed && b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		slog.Error("Circuit breaker opened",
			"resource", b.name,
			"failures", b.failureCount,
			"reset_timeout", b.resetTimeout,
		)
	}
}

// Snapshot is a point-in-time view of the breaker for health and admin
// endpoints.
type Snapshot struct {
	Resource     string    `json:"resource"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LastFailure  time.Time `json:"last_failure,omitzero"`
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker's current counters and state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Resource:     b.name,
		State:        b.state.String(),
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		LastFailure:  b.lastFailureTime,
	}
}
