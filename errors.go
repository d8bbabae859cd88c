package applet

import (
	"errors"
)

// Standard errors.
var (
	// ErrPoolExhausted is returned when an allocation is refused because the
	// relevant bounded pool (appctx records, endpoints, or channel buffers)
	// is at capacity.
	ErrPoolExhausted = errors.New("applet: pool exhausted")

	// ErrRunnerAlreadyRunning is returned when Run() is called on a runner
	// that is already running.
	ErrRunnerAlreadyRunning = errors.New("applet: runner is already running")

	// ErrRunnerTerminated is returned when operations are attempted on a
	// terminated runner.
	ErrRunnerTerminated = errors.New("applet: runner has been terminated")

	// ErrReentrantRun is returned when Run() is called from within the
	// runner goroutine itself.
	ErrReentrantRun = errors.New("applet: cannot call Run() from within the runner")

	// ErrTaskTerminated is returned when waking a task whose step function
	// has already returned its terminal state.
	ErrTaskTerminated = errors.New("applet: task has been terminated")
)
