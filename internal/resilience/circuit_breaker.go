package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the breaker refuses calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the position of a breaker. The numeric values are what
// the state gauge exports.
type CircuitState int

const (
	StateClosed   CircuitState = iota // calls go through
	StateOpen                         // calls are refused
	StateHalfOpen                     // a few trial calls decide
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// BreakerOptions configures a CircuitBreaker. Zero values take defaults.
type BreakerOptions struct {
	Name         string
	MaxFailures  int           // consecutive counted failures that open the circuit (default 5)
	ResetTimeout time.Duration // how long the circuit stays open (default 30s)
	TrialCalls   int           // calls let through, and successes needed, while half-open (default 3)

	// Counts decides whether an error says the dependency is unhealthy.
	// Errors it rejects are treated like successes. nil counts every error.
	Counts func(error) bool

	// OnStateChange is called after every transition, outside the lock
	OnStateChange func(name string, from, to CircuitState)
}

// BreakerStats is a snapshot of a breaker's counters since creation or Reset
type BreakerStats struct {
	State    CircuitState
	Calls    int64 // calls that ran
	Failures int64 // calls that ran and counted as failures
	Rejected int64 // calls refused while open
}

// CircuitBreaker stops calling a dependency after repeated failures and
// lets a few trial calls through once ResetTimeout has passed.
type CircuitBreaker struct {
	opts BreakerOptions
	now  func() time.Time

	mu          sync.Mutex
	state       CircuitState
	consecutive int       // counted failures in a row while closed
	openedAt    time.Time // start of the current open period
	trials      int       // trial calls started in this half-open period
	trialOK     int       // trial calls that succeeded
	stats       BreakerStats
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(opts BreakerOptions) *CircuitBreaker {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 30 * time.Second
	}
	if opts.TrialCalls <= 0 {
		opts.TrialCalls = 3
	}
	return &CircuitBreaker{opts: opts, now: time.Now}
}

// Call runs fn unless the circuit is open, and records its outcome. fn's
// error is returned unchanged.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.acquire() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

// State returns the current state, moving an expired open circuit to
// half-open first.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	from, changed := cb.expireLocked()
	state := cb.state
	cb.mu.Unlock()

	if changed {
		cb.notify(from, state)
	}
	return state
}

// Stats returns a snapshot of the counters
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.State = cb.state
	return s
}

// Reset closes the circuit and clears all counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutive, cb.trials, cb.trialOK = 0, 0, 0
	cb.stats = BreakerStats{}
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}

// Name returns the name the breaker was created with
func (cb *CircuitBreaker) Name() string {
	return cb.opts.Name
}

func (cb *CircuitBreaker) acquire() bool {
	cb.mu.Lock()
	from, changed := cb.expireLocked()
	allowed := true
	switch cb.state {
	case StateOpen:
		allowed = false
	case StateHalfOpen:
		if cb.trials >= cb.opts.TrialCalls {
			allowed = false
		} else {
			cb.trials++
		}
	}
	if !allowed {
		cb.stats.Rejected++
	}
	to := cb.state
	cb.mu.Unlock()

	if changed {
		cb.notify(from, to)
	}
	return allowed
}

func (cb *CircuitBreaker) record(err error) {
	failed := err != nil && (cb.opts.Counts == nil || cb.opts.Counts(err))

	cb.mu.Lock()
	from := cb.state
	cb.stats.Calls++
	if failed {
		cb.stats.Failures++
	}

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.consecutive = 0
			break
		}
		cb.consecutive++
		if cb.consecutive >= cb.opts.MaxFailures {
			cb.openLocked()
		}
	case StateHalfOpen:
		if failed {
			cb.openLocked()
			break
		}
		cb.trialOK++
		if cb.trialOK >= cb.opts.TrialCalls {
			cb.state = StateClosed
			cb.consecutive = 0
		}
	case StateOpen:
		// A call admitted before the circuit opened; the open period stands
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

// openLocked starts an open period. Caller holds mu.
func (cb *CircuitBreaker) openLocked() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.consecutive, cb.trials, cb.trialOK = 0, 0, 0
}

// expireLocked moves an open circuit to half-open once ResetTimeout has
// passed. Caller holds mu.
func (cb *CircuitBreaker) expireLocked() (from CircuitState, changed bool) {
	if cb.state != StateOpen || cb.now().Sub(cb.openedAt) < cb.opts.ResetTimeout {
		return cb.state, false
	}
	cb.state = StateHalfOpen
	cb.trials, cb.trialOK = 0, 0
	return StateOpen, true
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.opts.OnStateChange != nil {
		cb.opts.OnStateChange(cb.opts.Name, from, to)
	}
}
