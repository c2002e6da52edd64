package rtconsole

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// RetryConfig is an exponential backoff policy for upstream connects.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first. Zero disables retries.
	MaxRetries int

	BaseDelay time.Duration
	// MaxDelay caps the backoff. Zero means no cap.
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter widens each delay by this fraction (0.0-1.0).
	Jitter float64

	// Retryable decides whether an error is worth another attempt. Nil
	// retries everything.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the policy the relay uses for upstream dials.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
		Jitter:     0.1,
		Retryable:  IsRetryable,
	}
}

// IsRetryable reports whether err is a transient transport failure.
// Configuration problems, an open circuit and context errors are final.
func IsRetryable(err error) bool {
	var cfgErr *ConfigError
	switch {
	case err == nil:
		return false
	case errors.As(err, &cfgErr),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var connErr *ConnectionError
	var sendErr *SendError
	return errors.As(err, &connErr) || errors.As(err, &sendErr)
}

// Delay returns the wait before retry number attempt (0 based). Jitter is a
// fixed widening so delays are reproducible.
func (c RetryConfig) Delay(attempt int) time.Duration {
	mult := c.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(c.BaseDelay) * math.Pow(mult, float64(attempt))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d * (1 + c.Jitter))
}

// WithRetry runs op until it succeeds, returns a non-retryable error, runs
// out of attempts or ctx is done.
func WithRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			return fmt.Errorf("rtconsole: giving up after %d attempts: %w", attempt+1, err)
		}

		t := time.NewTimer(cfg.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("rtconsole: retry cancelled: %w", errors.Join(ctx.Err(), err))
		case <-t.C:
		}
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a trial call.
	RecoveryTimeout time.Duration
	// SuccessThreshold half-open successes close it again.
	SuccessThreshold int
}

type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("CircuitBreakerState(%d)", int(s))
}

// CircuitBreaker stops calling a failing upstream for a while. It is safe for
// concurrent use; concurrent half-open calls are all allowed through.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     CircuitBreakerState
	failures  int
	successes int
	openedAt  time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs op unless the circuit is open, in which case it returns
// ErrCircuitOpen without calling op.
func (cb *CircuitBreaker) Execute(op func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := op()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) < cb.cfg.RecoveryTimeout {
		return false
	}
	cb.state, cb.successes = CircuitHalfOpen, 0
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.successes = 0
		if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.state, cb.openedAt = CircuitOpen, cb.now()
		}
		return
	}
	cb.failures = 0
	cb.successes++
	if cb.state == CircuitHalfOpen && cb.successes >= cb.cfg.SuccessThreshold {
		cb.state = CircuitClosed
	}
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
