// Package breaker implements the three-state circuit breaker used per
// subsystem (local executor, router classifier, embeddings). All mutation
// happens inside the breaker; callers only see snapshots by value.
package breaker

import (
	"sync"
	"time"

	"ada/internal/logging"
)

// State of the circuit.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// Defaults per the resilience design.
const (
	DefaultFailureThreshold  = 3
	DefaultResetTimeout      = 60 * time.Second
	DefaultHalfOpenSuccesses = 2
)

// Snapshot is an immutable view of breaker state.
type Snapshot struct {
	Name            string
	State           State
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
}

// Breaker refuses calls to a failing dependency and probes recovery.
type Breaker struct {
	mu sync.Mutex

	name              string
	failureThreshold  int
	resetTimeout      time.Duration
	halfOpenSuccesses int

	state        State
	failureCount int
	successCount int
	lastFailure  time.Time

	now func() time.Time // injectable for tests
}

// New creates a CLOSED breaker with the default thresholds.
func New(name string) *Breaker {
	return &Breaker{
		name:              name,
		failureThreshold:  DefaultFailureThreshold,
		resetTimeout:      DefaultResetTimeout,
		halfOpenSuccesses: DefaultHalfOpenSuccesses,
		state:             Closed,
		now:               time.Now,
	}
}

// ShouldAllow reports whether a call may proceed. An OPEN breaker whose
// reset timeout has elapsed transitions to HALF_OPEN here;
// lastFailure+resetTimeout is the earliest instant that allows again.
func (b *Breaker) ShouldAllow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.now().Sub(b.lastFailure) >= b.resetTimeout {
			b.state = HalfOpen
			b.successCount = 0
			logging.Get(logging.CategoryHealth).Info("breaker %s: OPEN -> HALF_OPEN", b.name)
			return true
		}
		return false
	}
	return true
}

// RecordSuccess notes a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.halfOpenSuccesses {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
			logging.Get(logging.CategoryHealth).Info("breaker %s: HALF_OPEN -> CLOSED", b.name)
		}
	}
}

// RecordFailure notes a failed call. Three consecutive failures open the
// circuit; any failure while HALF_OPEN reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = Open
			logging.Get(logging.CategoryHealth).Warn("breaker %s: CLOSED -> OPEN after %d failures", b.name, b.failureCount)
		}
	case HalfOpen:
		b.state = Open
		b.successCount = 0
		logging.Get(logging.CategoryHealth).Warn("breaker %s: HALF_OPEN -> OPEN", b.name)
	}
}

// Snapshot returns the current state by value.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailure,
	}
}
