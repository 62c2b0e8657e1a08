package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	// Closed lets calls through.
	Closed BreakerState = iota
	// Open rejects calls until the cool-down elapses.
	Open
	// HalfOpen lets a probe call through.
	HalfOpen
)

func (s BreakerState) String() string {
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

// ErrBreakerOpen is returned without calling the service while the breaker
// is open.
var ErrBreakerOpen = eris.New("compute circuit breaker is open")

// BreakerPolicy configures a Breaker.
type BreakerPolicy struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// OnStateChange observes transitions.
	OnStateChange func(from, to BreakerState)
}

// Breaker stops hammering the compute service after repeated failures.
type Breaker struct {
	policy BreakerPolicy

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker returns a closed breaker. Zero policy values fall back to five
// failures and a 30s cool-down.
func NewBreaker(p BreakerPolicy) *Breaker {
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 5
	}
	if p.Cooldown <= 0 {
		p.Cooldown = 30 * time.Second
	}
	return &Breaker{policy: p, now: time.Now}
}

// State returns the current state, reporting HalfOpen once the cool-down of
// an open breaker has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.policy.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return nil
	}
	if b.now().Sub(b.openedAt) >= b.policy.Cooldown {
		b.moveTo(HalfOpen)
		return nil
	}
	return ErrBreakerOpen
}

// record counts err against the breaker. Only transient failures count: a
// malformed expression says nothing about service health.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !IsTransient(err) {
		if b.state == HalfOpen {
			b.moveTo(Closed)
		}
		b.failures = 0
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.policy.FailureThreshold {
		b.openedAt = b.now()
		if b.state != Open {
			b.moveTo(Open)
		}
	}
}

func (b *Breaker) moveTo(to BreakerState) {
	from := b.state
	b.state = to
	if b.policy.OnStateChange != nil {
		b.policy.OnStateChange(from, to)
	}
}
