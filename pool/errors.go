package pool

import "errors"

// ErrPoolStopped is returned when submitting to a pool that is shutting down.
var ErrPoolStopped = errors.New("pool: stopped")
