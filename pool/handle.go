package pool

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Handle is the completion handle of a task submitted with Submit.
type Handle[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Submit enqueues fn on p and returns a handle for its result.
// Returns ErrPoolStopped once shutdown has begun.
//
// A panic escaping fn is recovered and delivered as a *PanicError.
func Submit[T any](p *Pool, fn func() (T, error)) (*Handle[T], error) {
	h := &Handle[T]{done: make(chan struct{})}
	err := p.enqueue(func() error {
		var v T
		err := protect(func() error {
			var ferr error
			v, ferr = fn()
			return ferr
		})
		h.val, h.err = v, err
		close(h.done)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Wait blocks until the task completes or ctx is done.
// A ctx expiry does not cancel the task.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed when the task has completed.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// PanicError is delivered for a task whose function panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("pool: task panicked: %v", e.Value)
}

// Unwrap exposes a panic value that is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// protect runs fn, converting a panic into a *PanicError.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

func asPanic(err error) (*PanicError, bool) {
	pe, ok := err.(*PanicError)
	return pe, ok
}
