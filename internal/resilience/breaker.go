// Package resilience guards calls to remote dependencies.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/chin-flags/fixapp/internal/clock"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the position of a Breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker opens after maxFailures consecutive failures and rejects calls for
// cooldown. The first call after the cooldown is a trial: success closes the
// breaker, failure reopens it.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	clock       clock.Clock
	onChange    func(from, to State)
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock overrides the time source.
func WithBreakerClock(c clock.Clock) BreakerOption { return func(b *Breaker) { b.clock = c } }

// OnStateChange registers fn to be called on every transition. fn runs with
// the breaker locked and must not call back into it.
func OnStateChange(fn func(from, to State)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker creates a closed breaker.
func NewBreaker(maxFailures int, cooldown time.Duration, opts ...BreakerOption) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	b := &Breaker{maxFailures: maxFailures, cooldown: cooldown, clock: clock.Real{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.maxFailures {
			b.openedAt = b.clock.Now()
			b.transition(Open)
		}
		return err
	}
	b.failures = 0
	b.transition(Closed)
	return nil
}

// State returns the current position, moving an expired Open to HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire()
	return b.state != Open
}

// expire must be called with b.mu held.
func (b *Breaker) expire() {
	if b.state == Open && b.clock.Now().Sub(b.openedAt) >= b.cooldown {
		b.transition(HalfOpen)
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
