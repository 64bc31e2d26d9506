// Package circuitbreaker stops calling a failing dependency for a cool-down
// period and then lets a few trial calls through.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the wrapped function while the breaker
// is open or the half-open trial budget is used up.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold half-open successes close it again.
	SuccessThreshold int
	// ResetTimeout is how long the breaker stays open.
	ResetTimeout time.Duration
	// HalfOpenRequests caps concurrent trial calls.
	HalfOpenRequests int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		ResetTimeout:     30 * time.Second,
		HalfOpenRequests: 1,
	}
}

type Stats struct {
	State           State
	Failures        int
	Successes       int
	LastFailure     time.Time
	StateChangeTime time.Time
}

type Breaker struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	trials      int
	lastFailure time.Time
	changedAt   time.Time

	onStateChange func(from, to State)
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	b := &Breaker{cfg: cfg, now: time.Now}
	b.changedAt = b.now()
	return b
}

// OnStateChange registers fn to be called synchronously, outside the lock,
// after every transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Execute runs fn unless the breaker rejects the call. Context cancellation
// by the caller is not counted as a failure of the dependency.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		b.release()
		return err
	}
	b.record(err == nil)
	return err
}

// Do is Execute for functions returning a value.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:           b.state,
		Failures:        b.failures,
		Successes:       b.successes,
		LastFailure:     b.lastFailure,
		StateChangeTime: b.changedAt,
	}
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	from, changed := b.transitionLocked(StateClosed)
	cb := b.onStateChange
	b.mu.Unlock()
	if changed && cb != nil {
		cb(from, StateClosed)
	}
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	var from State
	var changed bool
	if b.state == StateOpen && b.now().Sub(b.changedAt) >= b.cfg.ResetTimeout {
		from, changed = b.transitionLocked(StateHalfOpen)
	}

	var err error
	switch b.state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if b.trials >= b.cfg.HalfOpenRequests {
			err = ErrOpen
		} else {
			b.trials++
		}
	}
	cb := b.onStateChange
	b.mu.Unlock()

	if changed && cb != nil {
		cb(from, StateHalfOpen)
	}
	return err
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.trials > 0 {
		b.trials--
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	var from, to State
	var changed bool

	if success {
		b.failures = 0
		b.successes++
		if b.state == StateHalfOpen {
			b.trials--
			if b.successes >= b.cfg.SuccessThreshold {
				to = StateClosed
				from, changed = b.transitionLocked(to)
			}
		}
	} else {
		b.successes = 0
		b.failures++
		b.lastFailure = b.now()
		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			to = StateOpen
			from, changed = b.transitionLocked(to)
		}
	}
	cb := b.onStateChange
	b.mu.Unlock()

	if changed && cb != nil {
		cb(from, to)
	}
}

func (b *Breaker) transitionLocked(to State) (State, bool) {
	from := b.state
	if from == to {
		return from, false
	}
	b.state = to
	b.changedAt = b.now()
	b.successes = 0
	b.trials = 0
	if to != StateOpen {
		b.failures = 0
	}
	return from, true
}
