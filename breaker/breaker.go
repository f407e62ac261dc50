// Package breaker implements a three-state circuit breaker that isolates a
// failing component.
//
//	Closed   --failures reach threshold-->      Open
//	Open     --reset timeout since last failure--> HalfOpen (one probe admitted)
//	HalfOpen --probe succeeds-->                Closed (failure count reset)
//	HalfOpen --probe fails-->                   Open
//
// The breaker lock covers admission and the post-call transition only; the
// wrapped operation runs unlocked, so concurrent calls proceed in parallel
// while Closed. During HalfOpen exactly one probe runs and every other caller
// is rejected with ErrOpen until the probe settles the state.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/packetline/log"
)

// Defaults.
const (
	DefaultThreshold    = 5
	DefaultResetTimeout = 30 * time.Second
)

// ErrOpen is returned without running the operation while the breaker rejects calls.
var ErrOpen = errors.New("breaker: circuit open")

// errPanicked stands in for the error of an operation that panicked.
var errPanicked = errors.New("breaker: operation panicked")

// State is the breaker state.
type State int

// Breaker states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns closed, open or half_open.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateClosed, StateOpen, StateHalfOpen} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("breaker: unknown state %q", text)
}

// StateChangeFunc observes transitions. It is called outside the breaker
// lock, after the transition is visible.
type StateChangeFunc func(name string, from, to State)

// Breaker guards one component.
type Breaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time
	logger       *log.Logger
	onChange     StateChangeFunc

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool

	rejected  uint64
	succeeded uint64
	failed    uint64
	opened    uint64
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets the failure count that opens the breaker.
// Values below 1 are ignored.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithResetTimeout sets how long the breaker stays open after the last failure.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d >= 0 {
			b.resetTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithLogger sets the logger for transitions.
func WithLogger(l *log.Logger) Option {
	return func(b *Breaker) {
		b.logger = l
	}
}

// WithStateChange registers a transition observer.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// New creates a closed breaker for the named component.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:         name,
		threshold:    DefaultThreshold,
		resetTimeout: DefaultResetTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(map[string]any{"breaker": name})
	return b
}

type transition struct {
	from, to State
}

// Execute runs op if the breaker admits it.
//
// Returns ErrOpen without running op while open and within the reset window,
// or while a half-open probe is in flight. Otherwise returns op's error
// unchanged after recording the outcome. A panic in op is recorded as a
// failure and re-raised.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, err := b.admit()
	if err != nil {
		return err
	}

	settled := false
	defer func() {
		if !settled {
			b.record(errPanicked, probe)
		}
	}()

	opErr := op(ctx)
	settled = true
	b.record(opErr, probe)
	return opErr
}

// Call runs op through b and returns its value.
func Call[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var v T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		v, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// admit decides whether a call may run. probe is set for the single call
// admitted in half-open.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var tr *transition
	switch b.state {
	case StateClosed:
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			b.rejected++
			b.mu.Unlock()
			return false, ErrOpen
		}
		tr = b.setState(StateHalfOpen)
		b.probing = true
		probe = true
	case StateHalfOpen:
		if b.probing {
			b.rejected++
			b.mu.Unlock()
			return false, ErrOpen
		}
		b.probing = true
		probe = true
	}
	b.mu.Unlock()

	b.notify(tr)
	return probe, nil
}

func (b *Breaker) record(err error, probe bool) {
	b.mu.Lock()
	var tr *transition
	if err == nil {
		b.succeeded++
		if probe && b.state == StateHalfOpen {
			b.probing = false
			b.failures = 0
			tr = b.setState(StateClosed)
		}
	} else {
		b.failed++
		b.failures++
		b.lastFailure = b.now()
		switch {
		case probe && b.state == StateHalfOpen:
			b.probing = false
			tr = b.setState(StateOpen)
		case b.state == StateClosed && b.failures >= b.threshold:
			tr = b.setState(StateOpen)
		}
	}
	b.mu.Unlock()

	b.notify(tr)
}

// setState changes state under b.mu and returns the transition, or nil.
func (b *Breaker) setState(to State) *transition {
	if b.state == to {
		return nil
	}
	tr := &transition{from: b.state, to: to}
	b.state = to
	if to == StateOpen {
		b.opened++
	}
	return tr
}

func (b *Breaker) notify(tr *transition) {
	if tr == nil {
		return
	}
	fields := map[string]any{
		"from":     tr.from.String(),
		"to":       tr.to.String(),
		"failures": b.FailureCount(),
	}
	if tr.to == StateOpen {
		b.logger.Warn("circuit opened", fields)
	} else {
		b.logger.Info("circuit state changed", fields)
	}
	if b.onChange != nil {
		b.onChange(b.name, tr.from, tr.to)
	}
}

// Reset forces the breaker closed with a zero failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.probing = false
	tr := b.setState(StateClosed)
	b.mu.Unlock()
	b.notify(tr)
}

// Name returns the guarded component name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open breaker whose reset window has
// elapsed still reports open until the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the failures recorded since the breaker last closed.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// IsOpen reports whether the breaker is open.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name         string        `json:"name" yaml:"name"`
	State        State         `json:"state" yaml:"state"`
	Failures     int           `json:"failures" yaml:"failures"`
	Threshold    int           `json:"threshold" yaml:"threshold"`
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout"`
	LastFailure  time.Time     `json:"last_failure,omitzero" yaml:"last_failure,omitempty"`
	Rejected     uint64        `json:"rejected" yaml:"rejected"`
	Succeeded    uint64        `json:"succeeded" yaml:"succeeded"`
	Failed       uint64        `json:"failed" yaml:"failed"`
	Opened       uint64        `json:"opened" yaml:"opened"`
}

// Snapshot returns every counter under one lock.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:         b.name,
		State:        b.state,
		Failures:     b.failures,
		Threshold:    b.threshold,
		ResetTimeout: b.resetTimeout,
		LastFailure:  b.lastFailure,
		Rejected:     b.rejected,
		Succeeded:    b.succeeded,
		Failed:       b.failed,
		Opened:       b.opened,
	}
}
