package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/finwatch/wealthtracker/internal/observ"
)

// State of the breaker.
type State string

const (
	Closed   State = "closed"    // normal operation
	Open     State = "open"      // rejecting, waiting out the cooldown
	HalfOpen State = "half-open" // one trial request in flight
)

const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 60 * time.Second
)

// ErrOpen is returned by Allow when the breaker is rejecting requests.
var ErrOpen = errors.New("circuit breaker open")

// Breaker short-circuits a persistently failing operation. After
// failureThreshold consecutive failures it opens for cooldown; the first
// caller after the cooldown gets a single trial, whose outcome decides
// between closing again and re-opening.
type Breaker struct {
	mu          sync.Mutex
	name        string
	state       State
	failures    int
	lastFailure time.Time
	threshold   int
	cooldown    time.Duration
	now         func() time.Time
}

func New(name string) *Breaker {
	return NewWithConfig(name, DefaultFailureThreshold, DefaultCooldown, time.Now)
}

func NewWithConfig(name string, threshold int, cooldown time.Duration, now func() time.Time) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{name: name, state: Closed, threshold: threshold, cooldown: cooldown, now: now}
}

// Allow reports whether a request may proceed. In Open state it returns
// ErrOpen until the cooldown has elapsed, then admits exactly one trial by
// moving to HalfOpen; further callers are rejected until that trial resolves
// via RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.lastFailure) >= b.cooldown {
			b.setState(HalfOpen)
			return nil
		}
		return ErrOpen
	case HalfOpen:
		// Trial already in flight.
		return ErrOpen
	default:
		return ErrOpen
	}
}

// RecordSuccess resets the failure count; a successful half-open trial closes
// the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.setState(Closed)
	}
	b.failures = 0
}

// RecordFailure counts a failure; at the threshold (or on a failed half-open
// trial) the breaker opens.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == HalfOpen || b.failures >= b.threshold {
		b.setState(Open)
	}
}

// Execute runs op under the breaker, recording its outcome.
func (b *Breaker) Execute(op func() error) error {
	if err := b.Allow(); err != nil {
		observ.IncCounter("breaker_rejections_total", map[string]string{"breaker": b.name})
		return err
	}
	err := op()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setState is called with the lock held.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	observ.Log("breaker_state_changed", map[string]any{
		"breaker": b.name, "from": string(b.state), "to": string(s), "failures": b.failures,
	})
	observ.IncCounter("breaker_transitions_total", map[string]string{
		"breaker": b.name, "to": string(s),
	})
	b.state = s
}
