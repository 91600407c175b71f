package worker

import "errors"

// Sentinel errors for worker pool operations
var (
	// ErrPoolNotStarted is returned by Submit before Start
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrPoolStopped is returned by Submit after Stop
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrPoolAlreadyStarted is returned by a second Start
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull is returned by Submit when every queue slot is taken.
	// The item was not accepted.
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrNilProcessor is the panic value for NewPool without a processor
	ErrNilProcessor = errors.New("processor function cannot be nil")

	// ErrStopTimeout is returned when workers do not exit within the Stop timeout
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)
