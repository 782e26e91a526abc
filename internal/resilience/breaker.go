package resilience

import (
	"sync"
	"time"
)

// State is the circuit breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// TransitionFunc is invoked after the breaker changes state.
type TransitionFunc func(name string, from, to State)

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithTransitionHook registers a callback for state changes.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(b *Breaker) {
		b.onTransition = fn
	}
}

// Breaker guards a single upstream dependency. It opens on the first recorded
// failure and, once the cooldown has elapsed, admits exactly one probe call
// whose outcome decides the next state.
type Breaker struct {
	name         string
	cooldown     time.Duration
	now          func() time.Time
	onTransition TransitionFunc

	mu       sync.Mutex
	state    State
	openedAt time.Time
	probing  bool
}

// NewBreaker constructs a closed breaker for the named dependency.
func NewBreaker(name string, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:     name,
		cooldown: cooldown,
		now:      time.Now,
		state:    StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// AllowCall reports whether a call to the dependency may be attempted.
func (b *Breaker) AllowCall() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return true
	}
	if b.probing {
		return false
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.probing = false
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

// RecordFailure opens the breaker, restarting the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	b.state = StateOpen
	b.openedAt = b.now()
	b.probing = false
	b.mu.Unlock()

	b.notify(from, StateOpen)
}

// Release returns an unused probe slot when the admitted call produced no
// verdict about upstream health (cancelled, network error).
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAfter returns the remaining cooldown, or zero when a call would be admitted.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return 0
	}
	remaining := b.cooldown - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *Breaker) notify(from, to State) {
	if from == to || b.onTransition == nil {
		return
	}
	b.onTransition(b.name, from, to)
}
