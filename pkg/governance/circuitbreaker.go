package governance

import (
	"sync"
	"time"

	"github.com/polisai/polis-dispatch/pkg/domain"
)

// State represents the state of a circuit breaker.
type State string

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = "closed"
	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen State = "open"
	// StateHalfOpen indicates the circuit is admitting trial requests.
	StateHalfOpen State = "half-open"
)

const (
	defaultOpenTimeout      = 30 * time.Second
	defaultHalfOpenRequests = 1
	defaultWindow           = 30 * time.Second
	defaultMinSamples       = 5
	bucketCount             = 10
)

// CircuitBreaker guards a single route.
type CircuitBreaker struct {
	mu    sync.Mutex
	rule  domain.CircuitBreakerRule
	state State
	now   func() time.Time

	buckets        []bucket
	bucketDuration time.Duration
	current        int

	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenRequests     int
	openUntil            time.Time
}

type bucket struct {
	start    time.Time
	requests int
	failures int
}

func newCircuitBreaker(rule domain.CircuitBreakerRule, now func() time.Time) *CircuitBreaker {
	rule = normalizeRule(rule)
	return &CircuitBreaker{
		rule:           rule,
		state:          StateClosed,
		now:            now,
		buckets:        make([]bucket, bucketCount),
		bucketDuration: rule.Window / bucketCount,
	}
}

func normalizeRule(rule domain.CircuitBreakerRule) domain.CircuitBreakerRule {
	if rule.OpenTimeout <= 0 {
		rule.OpenTimeout = defaultOpenTimeout
	}
	if rule.HalfOpenRequests <= 0 {
		rule.HalfOpenRequests = defaultHalfOpenRequests
	}
	if rule.Window < bucketCount*time.Millisecond {
		rule.Window = defaultWindow
	}
	if rule.MinSamples <= 0 {
		rule.MinSamples = max(rule.MaxFailures, defaultMinSamples)
	}
	return rule
}

// Allow reports whether a request may proceed. Every allowed request must be
// followed by exactly one Done.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateOpen:
		if now.Before(cb.openUntil) {
			return false
		}
		cb.transitionLocked(StateHalfOpen, now)
		cb.halfOpenRequests++
		return true
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.rule.HalfOpenRequests {
			return false
		}
		cb.halfOpenRequests++
		return true
	default:
		return true
	}
}

// Done records the outcome of an allowed request.
func (cb *CircuitBreaker) Done(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.rotateLocked(now)
	b := &cb.buckets[cb.current]
	b.requests++
	if failed {
		b.failures++
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
	} else {
		cb.consecutiveSuccesses++
		cb.consecutiveFailures = 0
	}

	switch cb.state {
	case StateHalfOpen:
		if failed {
			cb.transitionLocked(StateOpen, now)
			return
		}
		if cb.consecutiveSuccesses >= cb.rule.HalfOpenRequests {
			cb.transitionLocked(StateClosed, now)
		}
	case StateClosed:
		if failed && cb.rule.MaxFailures > 0 && cb.consecutiveFailures >= cb.rule.MaxFailures {
			cb.transitionLocked(StateOpen, now)
			return
		}
		if cb.rule.FailureRateThreshold > 0 && cb.failureRateLocked(now) >= cb.rule.FailureRateThreshold {
			cb.transitionLocked(StateOpen, now)
		}
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// failureRateLocked returns the failure percentage over the window, or zero
// when fewer than MinSamples requests were seen.
func (cb *CircuitBreaker) failureRateLocked(now time.Time) float64 {
	var requests, failures int
	for _, b := range cb.buckets {
		if b.requests == 0 || now.Sub(b.start) > cb.rule.Window {
			continue
		}
		requests += b.requests
		failures += b.failures
	}
	if requests == 0 || requests < cb.rule.MinSamples {
		return 0
	}
	return float64(failures) / float64(requests) * 100
}

func (cb *CircuitBreaker) rotateLocked(now time.Time) {
	start := cb.buckets[cb.current].start
	if start.IsZero() {
		cb.buckets[cb.current].start = now.Truncate(cb.bucketDuration)
		return
	}
	if now.Before(start) {
		return
	}
	steps := int(now.Sub(start) / cb.bucketDuration)
	for i := 0; i < min(steps, len(cb.buckets)); i++ {
		cb.current = (cb.current + 1) % len(cb.buckets)
		cb.buckets[cb.current] = bucket{}
	}
	if steps > 0 {
		cb.buckets[cb.current].start = start.Add(time.Duration(steps) * cb.bucketDuration)
	}
}

func (cb *CircuitBreaker) transitionLocked(state State, now time.Time) {
	if cb.state == state {
		return
	}
	cb.state = state
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenRequests = 0
	cb.openUntil = time.Time{}
	if state == StateOpen {
		cb.openUntil = now.Add(cb.rule.OpenTimeout)
	}
	if state != StateClosed {
		for i := range cb.buckets {
			cb.buckets[i] = bucket{}
		}
		cb.current = 0
	}
}
