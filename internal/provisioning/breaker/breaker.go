// Package breaker implements the per-provider circuit breaker that shields
// the rest of the provisioning core from a sick carrier.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
)

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Config holds breaker tuning. Zero values fall back to the defaults.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long after the last failure an open circuit
	// admits a half-open trial request.
	RecoveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return c
}

// StateChangeFunc is notified on every state transition. Called outside the
// breaker lock.
type StateChangeFunc func(provider string, from, to domain.CircuitState)

// Breaker tracks consecutive failures for one provider:
// closed -> open once the threshold is reached, open -> half_open after the
// recovery timeout, half_open -> closed on a successful trial or back to open
// on a failed one. While open, Allow rejects immediately with
// *domain.CircuitOpenError so no network round-trip is made.
type Breaker struct {
	provider string
	cfg      Config
	clock    domain.Clock
	onChange StateChangeFunc

	// Lifetime outcome totals, read lock-free for health reporting.
	totalSuccesses atomic.Uint64
	totalFailures  atomic.Uint64

	mu          sync.Mutex
	state       domain.CircuitState
	failures    int
	lastFailure time.Time
	probing     bool // a half-open trial is in flight
}

// New creates a closed breaker for the named provider. onChange may be nil.
func New(provider string, cfg Config, clock domain.Clock, onChange StateChangeFunc) *Breaker {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Breaker{
		provider: provider,
		cfg:      cfg.withDefaults(),
		clock:    clock,
		onChange: onChange,
		state:    domain.CircuitClosed,
	}
}

// Allow reports whether a call to the provider may proceed. It returns nil to
// admit the call or a *domain.CircuitOpenError when the circuit rejects it.
// Every admitted call must be followed by exactly one Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	switch b.state {
	case domain.CircuitClosed:
		b.mu.Unlock()
		return nil

	case domain.CircuitOpen:
		now := b.clock.Now()
		readyAt := b.lastFailure.Add(b.cfg.RecoveryTimeout)
		if now.Before(readyAt) {
			retryAfter := readyAt.Sub(now)
			b.mu.Unlock()
			return &domain.CircuitOpenError{Provider: b.provider, RetryAfter: retryAfter}
		}
		b.probing = true
		b.transitionLocked(domain.CircuitHalfOpen)
		return nil

	default: // half_open
		if b.probing {
			b.mu.Unlock()
			return &domain.CircuitOpenError{Provider: b.provider}
		}
		b.probing = true
		b.mu.Unlock()
		return nil
	}
}

// Record reports the outcome of an admitted call.
func (b *Breaker) Record(success bool) {
	if success {
		b.totalSuccesses.Add(1)
	} else {
		b.totalFailures.Add(1)
	}

	b.mu.Lock()

	switch b.state {
	case domain.CircuitClosed:
		if success {
			b.failures = 0
			b.mu.Unlock()
			return
		}
		b.failures++
		b.lastFailure = b.clock.Now()
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionLocked(domain.CircuitOpen)
			return
		}
		b.mu.Unlock()

	case domain.CircuitHalfOpen:
		b.probing = false
		if success {
			b.failures = 0
			b.transitionLocked(domain.CircuitClosed)
			return
		}
		b.lastFailure = b.clock.Now()
		b.transitionLocked(domain.CircuitOpen)

	default: // open: a call admitted before the trip finished; count the failure timestamp only
		if !success {
			b.lastFailure = b.clock.Now()
		}
		b.mu.Unlock()
	}
}

// Cancel releases an admitted call without recording an outcome. Used when
// the caller abandoned the request before the provider could answer, so the
// provider is neither credited nor blamed and a half-open trial slot is not
// leaked.
func (b *Breaker) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// Reset forces the breaker closed. Used by the health monitor when a probe
// confirms an open provider has recovered.
func (b *Breaker) Reset() {
	b.mu.Lock()
	if b.state == domain.CircuitClosed {
		b.mu.Unlock()
		return
	}
	b.failures = 0
	b.probing = false
	b.transitionLocked(domain.CircuitClosed)
}

// State returns the current circuit state.
func (b *Breaker) State() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastFailure returns the time of the most recent recorded failure.
func (b *Breaker) LastFailure() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}

// SuccessRate is the lifetime fraction of successful calls, 1.0 when no call
// has been recorded yet.
func (b *Breaker) SuccessRate() float64 {
	succ := b.totalSuccesses.Load()
	fail := b.totalFailures.Load()
	if succ+fail == 0 {
		return 1.0
	}
	return float64(succ) / float64(succ+fail)
}

// transitionLocked swaps state and fires the change callback. Must be called
// with the lock held; it releases the lock.
func (b *Breaker) transitionLocked(to domain.CircuitState) {
	from := b.state
	b.state = to
	onChange := b.onChange
	b.mu.Unlock()

	if onChange != nil && from != to {
		onChange(b.provider, from, to)
	}
}
