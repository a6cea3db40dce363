package billing

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards calls to a dependency that may be unavailable.
type CircuitBreaker interface {
	// Execute runs fn unless the circuit is open.
	Execute(ctx context.Context, fn func() error) error
	State() CircuitBreakerState
}

// DefaultCircuitBreaker opens after failureThreshold consecutive failures and
// lets a single trial call through once resetTimeout has elapsed.
type DefaultCircuitBreaker struct {
	mu sync.Mutex

	state               CircuitBreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	openedAt            time.Time
	now                 func() time.Time

	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a closed circuit breaker. onStateChange may be nil.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &DefaultCircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		onStateChange:    onStateChange,
	}
}

func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState must be called with the lock held.
func (cb *DefaultCircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *DefaultCircuitBreaker) Execute(_ context.Context, fn func() error) error {
	cb.mu.Lock()
	switch cb.currentState() {
	case StateOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.state == StateHalfOpen {
			// a trial call is already in flight
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.changeState(StateHalfOpen)
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failure()
		return err
	}
	cb.consecutiveFailures = 0
	cb.changeState(StateClosed)
	return nil
}

func (cb *DefaultCircuitBreaker) failure() {
	cb.consecutiveFailures++
	if cb.state == StateHalfOpen || cb.consecutiveFailures >= cb.failureThreshold {
		cb.openedAt = cb.now()
		cb.changeState(StateOpen)
	}
}

func (cb *DefaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
	}
}

// CircuitBreakerLedger wraps an EventLedger with circuit breaker protection.
type CircuitBreakerLedger struct {
	ledger EventLedger
	cb     CircuitBreaker
}

var _ EventLedger = (*CircuitBreakerLedger)(nil)

// NewCircuitBreakerLedger creates a ledger wrapper with a circuit breaker.
func NewCircuitBreakerLedger(ledger EventLedger, cb CircuitBreaker) *CircuitBreakerLedger {
	return &CircuitBreakerLedger{ledger: ledger, cb: cb}
}

func (l *CircuitBreakerLedger) Processed(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := l.cb.Execute(ctx, func() error {
		var e error
		seen, e = l.ledger.Processed(ctx, eventID)
		return e
	})
	return seen, err
}

func (l *CircuitBreakerLedger) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	return l.cb.Execute(ctx, func() error {
		return l.ledger.MarkProcessed(ctx, eventID, eventType)
	})
}
