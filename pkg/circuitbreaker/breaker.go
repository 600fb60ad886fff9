package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// HalfOpenProbes calls are admitted while probing. Size it to the
	// caller's fan-out so one batch of concurrent calls is not split.
	HalfOpenProbes uint32
	// SuccessThreshold probe successes close the breaker again.
	SuccessThreshold uint32
	// IsFailure decides which errors count against the breaker. Nil counts every error.
	IsFailure     func(err error) bool
	OnStateChange func(name string, from State, to State)
	Logger        *zap.Logger
	Clock         func() time.Time
}

type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker guards a flaky dependency. Each state change starts a new
// epoch; results reported for an older epoch are ignored.
type CircuitBreaker struct {
	name string
	cfg  Config

	mu       sync.Mutex
	state    State
	epoch    uint64
	counts   Counts
	openedAt time.Time
	// changed is closed and replaced on every state change.
	changed chan struct{}
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.HalfOpenProbes == 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &CircuitBreaker{
		name:    name,
		cfg:     cfg,
		changed: make(chan struct{}),
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn unless the breaker rejects it. Errors rejected by IsFailure
// are returned to the caller but count as successes.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	epoch, err := cb.admit()
	if err != nil {
		return err
	}

	settled := false
	defer func() {
		if !settled {
			cb.settle(epoch, false)
		}
	}()

	err = fn()
	settled = true
	cb.settle(epoch, err == nil || !cb.cfg.IsFailure(err))
	return err
}

// ExecuteWithResult is Execute for operations that produce a value.
func ExecuteWithResult[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

// Wait blocks until the breaker would admit a call or ctx ends. An open
// breaker is waited out until its cooldown ends; a half-open breaker with
// every probe taken is waited out until the probes settle. Execute may still
// reject a caller that loses the race for the last slot.
func (cb *CircuitBreaker) Wait(ctx context.Context) error {
	for {
		cb.mu.Lock()
		cb.refresh()
		changed := cb.changed
		var remaining time.Duration
		switch {
		case cb.state == StateOpen:
			remaining = cb.openedAt.Add(cb.cfg.Cooldown).Sub(cb.cfg.Clock())
		case cb.state == StateHalfOpen && cb.counts.Requests >= cb.cfg.HalfOpenProbes:
		default:
			cb.mu.Unlock()
			return nil
		}
		state := cb.state
		cb.mu.Unlock()

		var timer *time.Timer
		var expired <-chan time.Time
		if state == StateOpen {
			timer = time.NewTimer(max(remaining, time.Millisecond))
			expired = timer.C
		}

		select {
		case <-ctx.Done():
		case <-changed:
		case <-expired:
		}
		if timer != nil {
			timer.Stop()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh()
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.counts
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh()
	switch cb.state {
	case StateOpen:
		return cb.epoch, ErrCircuitOpen
	case StateHalfOpen:
		if cb.counts.Requests >= cb.cfg.HalfOpenProbes {
			return cb.epoch, ErrTooManyRequests
		}
	}

	cb.counts.Requests++
	return cb.epoch, nil
}

func (cb *CircuitBreaker) settle(epoch uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh()
	if epoch != cb.epoch {
		return
	}

	c := &cb.counts
	if ok {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && c.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.moveTo(StateClosed)
		}
		return
	}

	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
	if cb.state == StateHalfOpen || c.ConsecutiveFailures >= cb.cfg.FailureThreshold {
		cb.moveTo(StateOpen)
	}
}

// refresh moves an open breaker to half-open once its cooldown has passed.
// Callers hold mu.
func (cb *CircuitBreaker) refresh() {
	if cb.state == StateOpen && !cb.cfg.Clock().Before(cb.openedAt.Add(cb.cfg.Cooldown)) {
		cb.moveTo(StateHalfOpen)
	}
}

// moveTo starts a new epoch in state and wakes every waiter. Callers hold mu.
func (cb *CircuitBreaker) moveTo(state State) {
	if cb.state == state {
		return
	}

	from := cb.state
	failures := cb.counts.ConsecutiveFailures

	cb.state = state
	cb.epoch++
	cb.counts = Counts{}
	if state == StateOpen {
		cb.openedAt = cb.cfg.Clock()
	}
	close(cb.changed)
	cb.changed = make(chan struct{})

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, state)
	}
	cb.cfg.Logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", state.String()),
		zap.Uint32("consecutive_failures", failures),
	)
}
