package resilience

import (
	"errors"
	"sync"
	"time"

	"private-chat/backend/pkg/logger"
)

// ErrCircuitOpen is returned by Execute while the breaker is rejecting calls
var ErrCircuitOpen = errors.New("circuit open")

// CircuitBreakerState represents the current state of a circuit breaker
type CircuitBreakerState string

const (
	// StateClosed means calls pass through
	StateClosed CircuitBreakerState = "closed"
	// StateOpen means calls are short-circuited
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen means a limited number of trial calls are allowed
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	RetryTimeout     time.Duration
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing dependency for RetryTimeout after
// FailureThreshold consecutive failures.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	log    *logger.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitBreakerState
	failureCount    uint
	successCount    uint
	nextAttemptTime time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		log:    log,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute runs fn through the circuit breaker
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allowRequest() {
		cb.log.Warn("Circuit breaker preventing request", "name", cb.config.Name)
		return ErrCircuitOpen
	}

	start := cb.now()
	if err := fn(); err != nil {
		cb.recordFailure()
		cb.log.Warn("Circuit breaker recorded failure",
			"name", cb.config.Name,
			"error", err.Error(),
			"duration", cb.now().Sub(start).String(),
		)
		return err
	}

	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().After(cb.nextAttemptTime) {
			cb.state = StateHalfOpen
			cb.successCount = 0
			cb.log.Info("Circuit breaker half-open", "name", cb.config.Name)
			return true
		}
		return false
	case StateHalfOpen:
		return cb.successCount < cb.config.SuccessThreshold
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.log.Info("Circuit breaker closed", "name", cb.config.Name)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	}
}

// open must be called with mu held
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.nextAttemptTime = cb.now().Add(cb.config.RetryTimeout)
	cb.log.Info("Circuit breaker opened",
		"name", cb.config.Name,
		"failures", cb.failureCount,
		"nextAttempt", cb.nextAttemptTime.Format(time.RFC3339),
	)
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
